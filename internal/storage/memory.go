package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/models"
)

// In-memory implementations of the repositories. All conditional
// operations run under the store mutex, which gives them the same
// atomicity the SQL implementations get from conditional updates.
// Intended for tests and local development.

// =============================================
// Campaigns
// =============================================

type InMemoryCampaignRepo struct {
	mu    sync.RWMutex
	items map[string]*models.Campaign
}

func NewInMemoryCampaignRepo() *InMemoryCampaignRepo {
	return &InMemoryCampaignRepo{items: make(map[string]*models.Campaign)}
}

func (r *InMemoryCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, core.NotFound("campaign", id)
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryCampaignRepo) ListByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Campaign
	for _, c := range r.items {
		if c.AdvertiserID == advertiserID {
			cp := *c
			res = append(res, &cp)
		}
	}
	sortCampaigns(res)
	return res, nil
}

func (r *InMemoryCampaignRepo) ListByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Campaign
	for _, c := range r.items {
		for _, s := range statuses {
			if c.Status == s {
				cp := *c
				res = append(res, &cp)
				break
			}
		}
	}
	sortCampaigns(res)
	return res, nil
}

func (r *InMemoryCampaignRepo) Insert(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.items[c.ID] = &cp
	return nil
}

func (r *InMemoryCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; !ok {
		return core.NotFound("campaign", c.ID)
	}
	cp := *c
	r.items[c.ID] = &cp
	return nil
}

func (r *InMemoryCampaignRepo) AddSpend(ctx context.Context, id string, amount int64, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return false, core.NotFound("campaign", id)
	}
	if c.SpentAmount+amount > c.TotalBudget {
		return false, nil
	}
	if c.DailyBudget > 0 && c.DailySpentOn(date)+amount > c.DailyBudget {
		return false, nil
	}
	if c.DailySpentDate != date {
		c.DailySpent = 0
		c.DailySpentDate = date
	}
	c.SpentAmount += amount
	c.DailySpent += amount
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryCampaignRepo) CompareAndSetStatus(ctx context.Context, id string, from, to models.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return false, core.NotFound("campaign", id)
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryCampaignRepo) SetLastAlertPct(ctx context.Context, id string, pct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return core.NotFound("campaign", id)
	}
	c.LastAlertPct = pct
	return nil
}

func (r *InMemoryCampaignRepo) SetDailyAlertDate(ctx context.Context, id string, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return core.NotFound("campaign", id)
	}
	c.DailyAlertDate = date
	return nil
}

func (r *InMemoryCampaignRepo) AddGoalProgress(ctx context.Context, id string, goalType models.GoalType, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return core.NotFound("campaign", id)
	}
	if c.Goal.Type == goalType {
		c.Goal.Progress += delta
	}
	return nil
}

func sortCampaigns(cs []*models.Campaign) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}

// =============================================
// Advertisements
// =============================================

type InMemoryAdRepo struct {
	mu    sync.RWMutex
	items map[string]*models.Advertisement
}

func NewInMemoryAdRepo() *InMemoryAdRepo {
	return &InMemoryAdRepo{items: make(map[string]*models.Advertisement)}
}

func (r *InMemoryAdRepo) GetByID(ctx context.Context, id string) (*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, core.NotFound("advertisement", id)
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryAdRepo) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Advertisement
	for _, a := range r.items {
		if a.CampaignID == campaignID {
			cp := *a
			res = append(res, &cp)
		}
	}
	sortAds(res)
	return res, nil
}

func (r *InMemoryAdRepo) ListByStatus(ctx context.Context, statuses ...models.AdStatus) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Advertisement
	for _, a := range r.items {
		for _, s := range statuses {
			if a.Status == s {
				cp := *a
				res = append(res, &cp)
				break
			}
		}
	}
	sortAds(res)
	return res, nil
}

func (r *InMemoryAdRepo) Insert(ctx context.Context, a *models.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *InMemoryAdRepo) Update(ctx context.Context, a *models.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return core.NotFound("advertisement", a.ID)
	}
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *InMemoryAdRepo) AddSpend(ctx context.Context, id string, amount int64, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return false, core.NotFound("advertisement", id)
	}
	if a.SpentAmount+amount > a.TotalBudget {
		return false, nil
	}
	if a.DailyBudget > 0 && a.DailySpentOn(date)+amount > a.DailyBudget {
		return false, nil
	}
	if a.DailySpentDate != date {
		a.DailySpent = 0
		a.DailySpentDate = date
	}
	a.SpentAmount += amount
	a.DailySpent += amount
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryAdRepo) CompareAndSetStatus(ctx context.Context, id string, from, to models.AdStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return false, core.NotFound("advertisement", id)
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryAdRepo) SetLastAlertPct(ctx context.Context, id string, pct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertisement", id)
	}
	a.LastAlertPct = pct
	return nil
}

func (r *InMemoryAdRepo) SetDailyAlertDate(ctx context.Context, id string, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertisement", id)
	}
	a.DailyAlertDate = date
	return nil
}

func (r *InMemoryAdRepo) IncrementImpressions(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertisement", id)
	}
	a.Impressions++
	return nil
}

func (r *InMemoryAdRepo) SetPerformance(ctx context.Context, id string, p *models.PerformanceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertisement", id)
	}
	cp := *p
	a.Performance = &cp
	return nil
}

func sortAds(as []*models.Advertisement) {
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
}

// =============================================
// Impressions
// =============================================

type InMemoryImpressionRepo struct {
	mu    sync.RWMutex
	items map[string]*models.Impression

	byAd       map[string][]string
	byCampaign map[string][]string
}

func NewInMemoryImpressionRepo() *InMemoryImpressionRepo {
	return &InMemoryImpressionRepo{
		items:      make(map[string]*models.Impression),
		byAd:       make(map[string][]string),
		byCampaign: make(map[string][]string),
	}
}

func (r *InMemoryImpressionRepo) Insert(ctx context.Context, imp *models.Impression) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *imp
	r.items[imp.ID] = &cp
	r.byAd[imp.AdID] = append(r.byAd[imp.AdID], imp.ID)
	r.byCampaign[imp.CampaignID] = append(r.byCampaign[imp.CampaignID], imp.ID)
	return nil
}

func (r *InMemoryImpressionRepo) GetByID(ctx context.Context, id string) (*models.Impression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	imp, ok := r.items[id]
	if !ok {
		return nil, core.NotFound("impression", id)
	}
	cp := *imp
	return &cp, nil
}

func (r *InMemoryImpressionRepo) MarkClicked(ctx context.Context, id string, ts time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.items[id]
	if !ok {
		return false, core.NotFound("impression", id)
	}
	if imp.ClickedAt != nil {
		return false, nil
	}
	t := ts
	imp.ClickedAt = &t
	return true, nil
}

func (r *InMemoryImpressionRepo) MarkConverted(ctx context.Context, id string, ts time.Time, revenue int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.items[id]
	if !ok {
		return false, core.NotFound("impression", id)
	}
	if imp.ConvertedAt != nil {
		return false, nil
	}
	t := ts
	imp.ConvertedAt = &t
	imp.Revenue = revenue
	return true, nil
}

func (r *InMemoryImpressionRepo) AddCost(ctx context.Context, id string, cost int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.items[id]
	if !ok {
		return core.NotFound("impression", id)
	}
	imp.Cost += cost
	return nil
}

func (r *InMemoryImpressionRepo) ListByAd(ctx context.Context, adID string, since time.Time) ([]*models.Impression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byAd[adID], since), nil
}

func (r *InMemoryImpressionRepo) ListByCampaign(ctx context.Context, campaignID string, since time.Time) ([]*models.Impression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byCampaign[campaignID], since), nil
}

func (r *InMemoryImpressionRepo) collect(ids []string, since time.Time) []*models.Impression {
	res := make([]*models.Impression, 0, len(ids))
	for _, id := range ids {
		imp := r.items[id]
		if imp != nil && !imp.ViewedAt.Before(since) {
			cp := *imp
			res = append(res, &cp)
		}
	}
	return res
}

// =============================================
// Advertisers
// =============================================

type InMemoryAdvertiserRepo struct {
	mu    sync.RWMutex
	items map[string]*models.Advertiser
}

func NewInMemoryAdvertiserRepo() *InMemoryAdvertiserRepo {
	return &InMemoryAdvertiserRepo{items: make(map[string]*models.Advertiser)}
}

func (r *InMemoryAdvertiserRepo) GetByID(ctx context.Context, id string) (*models.Advertiser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, core.NotFound("advertiser", id)
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryAdvertiserRepo) Insert(ctx context.Context, a *models.Advertiser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *InMemoryAdvertiserRepo) Update(ctx context.Context, a *models.Advertiser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return core.NotFound("advertiser", a.ID)
	}
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *InMemoryAdvertiserRepo) AddWalletBalance(ctx context.Context, id string, delta int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return false, core.NotFound("advertiser", id)
	}
	if a.WalletBalance+delta < 0 {
		return false, nil
	}
	a.WalletBalance += delta
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *InMemoryAdvertiserRepo) SetLowBalanceAlerted(ctx context.Context, id string, alerted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertiser", id)
	}
	a.LowBalanceAlerted = alerted
	return nil
}

func (r *InMemoryAdvertiserRepo) SetStats(ctx context.Context, id string, stats models.AdvertiserStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return core.NotFound("advertiser", id)
	}
	a.Stats = stats
	return nil
}
