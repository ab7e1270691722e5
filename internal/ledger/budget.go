package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/models"
)

// Management operations: entity creation, budget edits and manual
// lifecycle transitions. Wallet-backed budget increases validate the
// wallet first and commit with a conditional debit, so the balance can
// never go negative even under concurrent top-ups and spends.

// CreateAdvertiser registers an advertiser account.
func (e *Engine) CreateAdvertiser(ctx context.Context, userID, name string) (*models.Advertiser, error) {
	if userID == "" || name == "" {
		return nil, core.Invalid("user_id and name are required")
	}
	now := time.Now().UTC()
	a := &models.Advertiser{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.advertisers.Insert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// TopUpWallet credits the advertiser wallet.
func (e *Engine) TopUpWallet(ctx context.Context, advertiserID string, amount int64) error {
	if amount <= 0 {
		return core.Invalid("top-up amount must be > 0")
	}
	if _, err := e.advertisers.AddWalletBalance(ctx, advertiserID, amount); err != nil {
		return err
	}
	e.checkWallet(ctx, advertiserID)
	return nil
}

// CreateCampaign validates and stores a new campaign in draft status.
// The total budget is reserved from the advertiser wallet up front.
func (e *Engine) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.Status = models.CampaignStatusDraft
	c.SpentAmount = 0
	c.DailySpent = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := c.Validate(); err != nil {
		return core.Invalid("invalid campaign: %v", err)
	}
	if _, err := e.advertisers.GetByID(ctx, c.AdvertiserID); err != nil {
		return err
	}

	applied, err := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, -c.TotalBudget)
	if err != nil {
		return err
	}
	if !applied {
		if e.metrics != nil {
			e.metrics.RecordWalletRejection("create_campaign")
		}
		return core.ErrInsufficientFunds
	}

	if err := e.campaigns.Insert(ctx, c); err != nil {
		// Refund the reservation on a failed insert.
		if _, rerr := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, c.TotalBudget); rerr != nil {
			e.logger.Error("failed to refund wallet reservation",
				zap.String("advertiser_id", c.AdvertiserID), zap.Error(rerr))
		}
		return err
	}
	e.checkWallet(ctx, c.AdvertiserID)
	return nil
}

// CreateAd validates and stores a new advertisement in draft status.
// The ad window must sit inside the campaign window, and the sum of
// sibling ad budgets must stay within the campaign total.
func (e *Engine) CreateAd(ctx context.Context, a *models.Advertisement) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = models.AdStatusDraft
	a.Approved = false
	a.SpentAmount = 0
	a.DailySpent = 0
	a.Impressions = 0
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return core.Invalid("invalid advertisement: %v", err)
	}

	campaign, err := e.campaigns.GetByID(ctx, a.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status.Terminal() {
		return core.Invalid("campaign %s is archived", campaign.ID)
	}
	if a.StartDate.Before(campaign.StartDate) || a.EndDate.After(campaign.EndDate) {
		return core.Invalid("ad serving window must lie within the campaign window")
	}

	siblings, err := e.ads.ListByCampaign(ctx, a.CampaignID)
	if err != nil {
		return err
	}
	var committed int64
	for _, s := range siblings {
		if s.Status.Terminal() || s.Status == models.AdStatusCancelled {
			continue
		}
		committed += s.TotalBudget
	}
	if committed+a.TotalBudget > campaign.TotalBudget {
		return core.Invalid("ad budgets %d would exceed campaign budget %d",
			committed+a.TotalBudget, campaign.TotalBudget)
	}

	return e.ads.Insert(ctx, a)
}

// UpdateAd applies edits to a draft or paused ad. Changing the
// creative, targeting or serving window clears approval; the ad must
// pass review again before it can activate.
func (e *Engine) UpdateAd(ctx context.Context, a *models.Advertisement) error {
	existing, err := e.ads.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return core.Invalid("advertisement %s is archived", a.ID)
	}

	// Ledger-owned fields always come from the stored record; an edit
	// can never reset spend counters or the cached performance state.
	a.CampaignID = existing.CampaignID
	a.Status = existing.Status
	a.SpentAmount = existing.SpentAmount
	a.DailySpent = existing.DailySpent
	a.DailySpentDate = existing.DailySpentDate
	a.Impressions = existing.Impressions
	a.Performance = existing.Performance
	a.LastAlertPct = existing.LastAlertPct
	a.DailyAlertDate = existing.DailyAlertDate
	a.Approved = existing.Approved
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	if a.Creative != existing.Creative ||
		!a.StartDate.Equal(existing.StartDate) ||
		!a.EndDate.Equal(existing.EndDate) ||
		targetingChanged(existing.Targeting, a.Targeting) {
		a.Approved = false
	}

	if err := a.Validate(); err != nil {
		return core.Invalid("invalid advertisement: %v", err)
	}
	return e.ads.Update(ctx, a)
}

// ApproveAd marks the ad as reviewed.
func (e *Engine) ApproveAd(ctx context.Context, id string) error {
	ad, err := e.ads.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ad.Approved {
		return nil
	}
	ad.Approved = true
	ad.UpdatedAt = time.Now().UTC()
	return e.ads.Update(ctx, ad)
}

// ApproveCampaign marks the campaign as reviewed.
func (e *Engine) ApproveCampaign(ctx context.Context, id string) error {
	c, err := e.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Approved {
		return nil
	}
	c.Approved = true
	c.UpdatedAt = time.Now().UTC()
	return e.campaigns.Update(ctx, c)
}

// UpdateBudget replaces the campaign budget ceilings. The total can
// never drop below what is already spent.
func (e *Engine) UpdateBudget(ctx context.Context, campaignID string, total, daily int64) error {
	if total <= 0 {
		return core.Invalid("total_budget must be > 0")
	}
	if daily < 0 || daily > total {
		return core.Invalid("daily_budget must be between 0 and total_budget")
	}

	if !e.locks.acquire(ctx, campaignID, lockTimeout) {
		return core.ErrConflict
	}
	defer e.locks.release(campaignID)

	c, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return core.Invalid("campaign %s is archived", campaignID)
	}
	if total < c.SpentAmount {
		return core.Invalid("total_budget %d is below spent amount %d", total, c.SpentAmount)
	}

	delta := total - c.TotalBudget
	if delta > 0 {
		applied, err := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, -delta)
		if err != nil {
			return err
		}
		if !applied {
			if e.metrics != nil {
				e.metrics.RecordWalletRejection("update_budget")
			}
			return core.ErrInsufficientFunds
		}
	} else if delta < 0 {
		if _, err := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, -delta); err != nil {
			return err
		}
	}

	c.TotalBudget = total
	c.DailyBudget = daily
	c.UpdatedAt = time.Now().UTC()
	if err := e.campaigns.Update(ctx, c); err != nil {
		return err
	}
	e.checkWallet(ctx, c.AdvertiserID)
	return nil
}

// AddBudget tops up the campaign total budget from the wallet.
func (e *Engine) AddBudget(ctx context.Context, campaignID string, amount int64) error {
	if amount <= 0 {
		return core.Invalid("amount must be > 0")
	}

	if !e.locks.acquire(ctx, campaignID, lockTimeout) {
		return core.ErrConflict
	}
	defer e.locks.release(campaignID)

	c, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return core.Invalid("campaign %s is archived", campaignID)
	}

	applied, err := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, -amount)
	if err != nil {
		return err
	}
	if !applied {
		if e.metrics != nil {
			e.metrics.RecordWalletRejection("add_budget")
		}
		return core.ErrInsufficientFunds
	}

	c.TotalBudget += amount
	c.UpdatedAt = time.Now().UTC()
	if err := e.campaigns.Update(ctx, c); err != nil {
		if _, rerr := e.advertisers.AddWalletBalance(ctx, c.AdvertiserID, amount); rerr != nil {
			e.logger.Error("failed to refund wallet debit",
				zap.String("advertiser_id", c.AdvertiserID), zap.Error(rerr))
		}
		return err
	}
	e.checkWallet(ctx, c.AdvertiserID)
	return nil
}

// UpdateCampaignStatus applies a manual lifecycle transition, validated
// against the status graph. Activation requires approval.
func (e *Engine) UpdateCampaignStatus(ctx context.Context, id string, to models.CampaignStatus) error {
	c, err := e.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == to {
		return nil
	}
	if !c.Status.CanTransitionTo(to) {
		return core.Invalid("campaign cannot move from %s to %s", c.Status, to)
	}
	if to == models.CampaignStatusActive && !c.Approved {
		return core.Invalid("campaign %s is not approved", id)
	}

	applied, err := e.campaigns.CompareAndSetStatus(ctx, id, c.Status, to)
	if err != nil {
		return err
	}
	if !applied {
		return core.ErrConflict
	}
	return nil
}

// UpdateAdStatus applies a manual ad lifecycle transition.
func (e *Engine) UpdateAdStatus(ctx context.Context, id string, to models.AdStatus) error {
	ad, err := e.ads.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ad.Status == to {
		return nil
	}
	if !ad.Status.CanTransitionTo(to) {
		return core.Invalid("advertisement cannot move from %s to %s", ad.Status, to)
	}
	if to == models.AdStatusActive {
		if !ad.Approved {
			return core.Invalid("advertisement %s is not approved", id)
		}
		campaign, err := e.campaigns.GetByID(ctx, ad.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Status.Terminal() {
			return core.Invalid("campaign %s is archived", campaign.ID)
		}
	}

	applied, err := e.ads.CompareAndSetStatus(ctx, id, ad.Status, to)
	if err != nil {
		return err
	}
	if !applied {
		return core.ErrConflict
	}
	return nil
}

func targetingChanged(a, b *models.TargetingRules) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	default:
		return !a.Equal(b)
	}
}
