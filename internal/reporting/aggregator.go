// Package reporting derives performance figures from the impression
// ledger. Every number here is recomputable from the ledger; cached
// snapshots (on the ad record and in Redis) are conveniences, never
// authoritative.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/storage"
)

// Score weights and benchmarks for the campaign efficiency figure. The
// score is a display-only ranking aid and is never used for billing.
const (
	ctrWeight  = 40.0
	cvrWeight  = 30.0
	utilWeight = 30.0

	ctrBenchmark = 2.0 // percent
	cvrBenchmark = 5.0 // percent
)

// Bucket is one time-series cell.
type Bucket struct {
	Label       string `json:"label"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Conversions int64  `json:"conversions"`
	Spend       int64  `json:"spend"`
}

// AdReport is the full performance picture for one advertisement.
type AdReport struct {
	AdID string `json:"ad_id"`

	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
	Spend       int64 `json:"spend"`
	Revenue     int64 `json:"revenue"`

	CTR  float64 `json:"ctr"`
	CVR  float64 `json:"cvr"`
	CPC  float64 `json:"cpc"`
	CPM  float64 `json:"cpm"`
	ROAS float64 `json:"roas"`

	Hourly []Bucket `json:"hourly"`
	Daily  []Bucket `json:"daily"`
	Weekly []Bucket `json:"weekly"`

	GeneratedAt time.Time `json:"generated_at"`
}

// CampaignReport aggregates an entire campaign's ads.
type CampaignReport struct {
	CampaignID string `json:"campaign_id"`

	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
	Spend       int64 `json:"spend"`
	Revenue     int64 `json:"revenue"`

	CTR  float64 `json:"ctr"`
	CVR  float64 `json:"cvr"`
	CPC  float64 `json:"cpc"`
	CPM  float64 `json:"cpm"`
	ROAS float64 `json:"roas"`

	BudgetUsagePct  float64 `json:"budget_usage_pct"`
	GoalCompletion  float64 `json:"goal_completion_pct"`
	EfficiencyScore float64 `json:"efficiency_score"`

	Ads []AdReport `json:"ads,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// AnalyticsPoint is one day of campaign activity.
type AnalyticsPoint struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Conversions int64  `json:"conversions"`
	Spend       int64  `json:"spend"`
	Revenue     int64  `json:"revenue"`
}

// Aggregator computes reports from the ledger with a Redis
// read-through cache in front.
type Aggregator struct {
	campaigns   storage.CampaignRepo
	ads         storage.AdRepo
	impressions storage.ImpressionRepo
	advertisers storage.AdvertiserRepo

	redis    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewAggregator(
	campaigns storage.CampaignRepo,
	ads storage.AdRepo,
	impressions storage.ImpressionRepo,
	advertisers storage.AdvertiserRepo,
	redisClient *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Aggregator{
		campaigns:   campaigns,
		ads:         ads,
		impressions: impressions,
		advertisers: advertisers,
		redis:       redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// AdPerformance builds the ad report from the ledger. The result is
// cached in Redis and written through to the ad's snapshot field.
func (a *Aggregator) AdPerformance(ctx context.Context, adID string) (*AdReport, error) {
	cacheKey := fmt.Sprintf("perf:ad:%s", adID)
	if cached := a.getCached(ctx, cacheKey); cached != nil {
		var report AdReport
		if err := json.Unmarshal(cached, &report); err == nil {
			return &report, nil
		}
	}

	ad, err := a.ads.GetByID(ctx, adID)
	if err != nil {
		return nil, err
	}

	imps, err := a.impressions.ListByAd(ctx, adID, time.Time{})
	if err != nil {
		return nil, err
	}

	report := buildAdReport(adID, imps, time.Now().UTC())
	a.setCached(ctx, cacheKey, report)

	snapshot := &models.PerformanceSnapshot{
		Impressions: report.Impressions,
		Clicks:      report.Clicks,
		Conversions: report.Conversions,
		CTR:         report.CTR,
		CPC:         report.CPC,
		CPM:         report.CPM,
		ROAS:        report.ROAS,
		UpdatedAt:   report.GeneratedAt,
	}
	if err := a.ads.SetPerformance(ctx, ad.ID, snapshot); err != nil {
		a.logger.Warn("failed to write performance snapshot",
			zap.String("ad_id", ad.ID), zap.Error(err))
	}

	return report, nil
}

// CampaignPerformance aggregates all child ads and adds campaign-level
// derived figures.
func (a *Aggregator) CampaignPerformance(ctx context.Context, campaignID string) (*CampaignReport, error) {
	cacheKey := fmt.Sprintf("perf:campaign:%s", campaignID)
	if cached := a.getCached(ctx, cacheKey); cached != nil {
		var report CampaignReport
		if err := json.Unmarshal(cached, &report); err == nil {
			return &report, nil
		}
	}

	campaign, err := a.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	ads, err := a.ads.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &CampaignReport{CampaignID: campaignID, GeneratedAt: now}

	for _, ad := range ads {
		imps, err := a.impressions.ListByAd(ctx, ad.ID, time.Time{})
		if err != nil {
			return nil, err
		}
		adReport := buildAdReport(ad.ID, imps, now)
		report.Impressions += adReport.Impressions
		report.Clicks += adReport.Clicks
		report.Conversions += adReport.Conversions
		report.Spend += adReport.Spend
		report.Revenue += adReport.Revenue
		report.Ads = append(report.Ads, *adReport)
	}

	report.CTR = ratePct(report.Clicks, report.Impressions)
	report.CVR = ratePct(report.Conversions, report.Clicks)
	report.CPC = avg(report.Spend, report.Clicks)
	report.CPM = ecpm(report.Spend, report.Impressions)
	report.ROAS = roas(report.Revenue, report.Spend)

	if campaign.TotalBudget > 0 {
		report.BudgetUsagePct = float64(campaign.SpentAmount) / float64(campaign.TotalBudget) * 100
	}
	if campaign.Goal.Target > 0 {
		report.GoalCompletion = float64(campaign.Goal.Progress) / float64(campaign.Goal.Target) * 100
		if report.GoalCompletion > 100 {
			report.GoalCompletion = 100
		}
	}
	report.EfficiencyScore = efficiencyScore(report.CTR, report.CVR, report.BudgetUsagePct)

	a.setCached(ctx, cacheKey, report)
	return report, nil
}

// CampaignAnalytics returns a per-day series for the requested range.
func (a *Aggregator) CampaignAnalytics(ctx context.Context, campaignID string, start, end time.Time) ([]AnalyticsPoint, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}

	imps, err := a.impressions.ListByCampaign(ctx, campaignID, start)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*AnalyticsPoint)
	var points []AnalyticsPoint
	for d := start.Truncate(24 * time.Hour); d.Before(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		p := &AnalyticsPoint{Date: key}
		byDay[key] = p
		points = append(points, AnalyticsPoint{})
	}

	for _, imp := range imps {
		if imp.ViewedAt.After(end) {
			continue
		}
		p, ok := byDay[imp.ViewedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		p.Impressions++
		p.Spend += imp.Cost
		p.Revenue += imp.Revenue
		if imp.ClickedAt != nil {
			p.Clicks++
		}
		if imp.ConvertedAt != nil {
			p.Conversions++
		}
	}

	i := 0
	for d := start.Truncate(24 * time.Hour); d.Before(end); d = d.AddDate(0, 0, 1) {
		points[i] = *byDay[d.Format("2006-01-02")]
		i++
	}
	return points, nil
}

// RecomputeAdvertiserStats refreshes the derived aggregate cache on the
// advertiser record.
func (a *Aggregator) RecomputeAdvertiserStats(ctx context.Context, advertiserID string) error {
	campaigns, err := a.campaigns.ListByAdvertiser(ctx, advertiserID)
	if err != nil {
		return err
	}

	var stats models.AdvertiserStats
	var totalRevenue int64
	for _, c := range campaigns {
		stats.TotalSpent += c.SpentAmount
		if c.Status == models.CampaignStatusActive {
			stats.ActiveCampaigns++
		}
		imps, err := a.impressions.ListByCampaign(ctx, c.ID, time.Time{})
		if err != nil {
			return err
		}
		for _, imp := range imps {
			totalRevenue += imp.Revenue
		}
	}
	stats.AverageRoas = roas(totalRevenue, stats.TotalSpent)
	stats.UpdatedAt = time.Now().UTC()

	return a.advertisers.SetStats(ctx, advertiserID, stats)
}

func (a *Aggregator) getCached(ctx context.Context, key string) []byte {
	if a.redis == nil {
		return nil
	}
	b, err := a.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	return b
}

func (a *Aggregator) setCached(ctx context.Context, key string, v any) {
	if a.redis == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := a.redis.Set(ctx, key, b, a.cacheTTL).Err(); err != nil {
		a.logger.Debug("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// buildAdReport folds the ledger rows into totals and time buckets.
func buildAdReport(adID string, imps []*models.Impression, now time.Time) *AdReport {
	report := &AdReport{
		AdID:        adID,
		Hourly:      make([]Bucket, 24),
		Daily:       make([]Bucket, 30),
		Weekly:      make([]Bucket, 12),
		GeneratedAt: now,
	}

	hourFloor := now.Truncate(time.Hour)
	for i := range report.Hourly {
		report.Hourly[i].Label = hourFloor.Add(time.Duration(i-23) * time.Hour).Format("2006-01-02T15")
	}
	dayFloor := now.Truncate(24 * time.Hour)
	for i := range report.Daily {
		report.Daily[i].Label = dayFloor.AddDate(0, 0, i-29).Format("2006-01-02")
	}
	for i := range report.Weekly {
		y, w := now.AddDate(0, 0, (i-11)*7).ISOWeek()
		report.Weekly[i].Label = fmt.Sprintf("%d-W%02d", y, w)
	}

	hourIdx := make(map[string]int, 24)
	for i, b := range report.Hourly {
		hourIdx[b.Label] = i
	}
	dayIdx := make(map[string]int, 30)
	for i, b := range report.Daily {
		dayIdx[b.Label] = i
	}
	weekIdx := make(map[string]int, 12)
	for i, b := range report.Weekly {
		weekIdx[b.Label] = i
	}

	bump := func(idx map[string]int, buckets []Bucket, label string, imp *models.Impression) {
		i, ok := idx[label]
		if !ok {
			return
		}
		buckets[i].Impressions++
		buckets[i].Spend += imp.Cost
		if imp.ClickedAt != nil {
			buckets[i].Clicks++
		}
		if imp.ConvertedAt != nil {
			buckets[i].Conversions++
		}
	}

	for _, imp := range imps {
		report.Impressions++
		report.Spend += imp.Cost
		report.Revenue += imp.Revenue
		if imp.ClickedAt != nil {
			report.Clicks++
		}
		if imp.ConvertedAt != nil {
			report.Conversions++
		}

		ts := imp.ViewedAt.UTC()
		bump(hourIdx, report.Hourly, ts.Format("2006-01-02T15"), imp)
		bump(dayIdx, report.Daily, ts.Format("2006-01-02"), imp)
		y, w := ts.ISOWeek()
		bump(weekIdx, report.Weekly, fmt.Sprintf("%d-W%02d", y, w), imp)
	}

	report.CTR = ratePct(report.Clicks, report.Impressions)
	report.CVR = ratePct(report.Conversions, report.Clicks)
	report.CPC = avg(report.Spend, report.Clicks)
	report.CPM = ecpm(report.Spend, report.Impressions)
	report.ROAS = roas(report.Revenue, report.Spend)
	return report
}

// efficiencyScore blends CTR, CVR and budget utilization into a 0-100
// ranking figure. Each component is capped at its weight.
func efficiencyScore(ctr, cvr, budgetUsagePct float64) float64 {
	score := clamp(ctr/ctrBenchmark) * ctrWeight
	score += clamp(cvr/cvrBenchmark) * cvrWeight
	score += clamp(budgetUsagePct/100) * utilWeight
	return score
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ratePct(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

func avg(spend, events int64) float64 {
	if events == 0 {
		return 0
	}
	return float64(spend) / float64(events)
}

func ecpm(spend, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(spend) / float64(impressions) * 1000
}

func roas(revenue, spend int64) float64 {
	if spend == 0 {
		return 0
	}
	return float64(revenue) / float64(spend)
}
