// Package ledger is the write path of the ad platform: it records
// impressions, clicks and conversions, and accrues their cost against
// ad and campaign budgets. Charges are rejected, never clamped, when a
// ceiling would be crossed; the entity is flipped to paused or
// completed instead.
package ledger

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/metrics"
	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/notify"
	"github.com/adforge/adledger/internal/storage"
	"github.com/adforge/adledger/internal/targeting"
)

const (
	lockTimeout   = 2 * time.Second
	chargeRetries = 3
	baseBackoff   = 25 * time.Millisecond

	// alertThreshold is the budget-usage percentage above which a
	// threshold alert fires, once per crossing.
	alertThreshold = 90

	// lowWalletThreshold is the kobo balance under which a wallet alert
	// fires, once per drop below the floor.
	lowWalletThreshold = 10_000
)

// Engine implements the impression ledger and the cost accrual engine.
type Engine struct {
	campaigns   storage.CampaignRepo
	ads         storage.AdRepo
	impressions storage.ImpressionRepo
	advertisers storage.AdvertiserRepo
	archive     storage.ImpressionArchive

	resolver *targeting.ContextResolver
	stats    *StatCounters
	locks    *lockManager
	metrics  *metrics.Metrics
	sink     notify.Sink
	logger   *zap.Logger
}

// Config bundles the engine dependencies. Archive, Resolver, Stats,
// Metrics and Sink are optional.
type Config struct {
	Campaigns   storage.CampaignRepo
	Ads         storage.AdRepo
	Impressions storage.ImpressionRepo
	Advertisers storage.AdvertiserRepo
	Archive     storage.ImpressionArchive
	Resolver    *targeting.ContextResolver
	Stats       *StatCounters
	Metrics     *metrics.Metrics
	Sink        notify.Sink
	Logger      *zap.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.Archive == nil {
		cfg.Archive = storage.NopArchive{}
	}
	if cfg.Sink == nil {
		cfg.Sink = notify.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		campaigns:   cfg.Campaigns,
		ads:         cfg.Ads,
		impressions: cfg.Impressions,
		advertisers: cfg.Advertisers,
		archive:     cfg.Archive,
		resolver:    cfg.Resolver,
		stats:       cfg.Stats,
		locks:       newLockManager(),
		metrics:     cfg.Metrics,
		sink:        cfg.Sink,
		logger:      cfg.Logger,
	}
}

// ServeResult is the outcome of an impression request. A rejection is a
// normal outcome, not an error: Reason names the failing gate.
type ServeResult struct {
	Accepted     bool               `json:"accepted"`
	ImpressionID string             `json:"impression_id,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Impression   *models.Impression `json:"-"`
}

func (e *Engine) reject(reason string) *ServeResult {
	if e.metrics != nil {
		e.metrics.RecordRejection(reason)
	}
	return &ServeResult{Reason: reason}
}

// RecordImpression runs the serve gates for the ad and, when all pass,
// appends an impression to the ledger. CPM ads are charged here, before
// the impression is written; an unaffordable CPM impression is rejected
// rather than recorded unpaid.
func (e *Engine) RecordImpression(ctx context.Context, adID string, reqCtx models.RequestContext) (*ServeResult, error) {
	ad, err := e.ads.GetByID(ctx, adID)
	if err != nil {
		return nil, err
	}
	campaign, err := e.campaigns.GetByID(ctx, ad.CampaignID)
	if err != nil {
		return nil, err
	}

	now := reqCtx.Timestamp()

	if ad.Status != models.AdStatusActive || !ad.Approved {
		return e.reject("ad_status"), nil
	}
	if campaign.Status != models.CampaignStatusActive || !campaign.Approved {
		return e.reject("campaign_status"), nil
	}
	if !ad.WithinWindow(now) {
		return e.reject("ad_window"), nil
	}
	if now.Before(campaign.StartDate) || now.After(campaign.EndDate) {
		return e.reject("campaign_window"), nil
	}

	if e.resolver != nil {
		reqCtx = e.resolver.Resolve(reqCtx)
	}
	if reason := targeting.Reason(campaign.Targeting, reqCtx); reason != "" {
		return e.reject("campaign_targeting_" + reason), nil
	}
	if reason := targeting.Reason(ad.Targeting, reqCtx); reason != "" {
		return e.reject("targeting_" + reason), nil
	}

	cost := ad.ImpressionCost()
	if cost > 0 {
		if err := e.charge(ctx, ad, campaign, cost, "impression"); err != nil {
			if core.IsBudgetExceeded(err) {
				return e.reject("budget"), nil
			}
			return nil, err
		}
	}

	imp := &models.Impression{
		ID:         uuid.New().String(),
		AdID:       ad.ID,
		CampaignID: campaign.ID,
		ViewerID:   reqCtx.ViewerID,
		Country:    reqCtx.Country,
		DeviceType: reqCtx.DeviceType,
		IP:         reqCtx.IP,
		UserAgent:  reqCtx.UserAgent,
		ViewedAt:   now,
		Cost:       cost,
	}
	if err := e.impressions.Insert(ctx, imp); err != nil {
		// Undo the CPM charge so spend never exceeds what the ledger backs.
		if cost > 0 {
			e.refund(ctx, ad.ID, campaign.ID, cost)
		}
		return nil, err
	}

	if err := e.ads.IncrementImpressions(ctx, ad.ID); err != nil {
		e.logger.Warn("failed to bump impression counter",
			zap.String("ad_id", ad.ID), zap.Error(err))
	}
	if err := e.campaigns.AddGoalProgress(ctx, campaign.ID, models.GoalImpressions, 1); err != nil {
		e.logger.Warn("failed to bump goal progress",
			zap.String("campaign_id", campaign.ID), zap.Error(err))
	}

	if e.metrics != nil {
		e.metrics.RecordImpression(campaign.ID, ad.ID)
	}
	e.mirror(imp)

	return &ServeResult{Accepted: true, ImpressionID: imp.ID, Impression: imp}, nil
}

// refund reverses a charge on both legs. A negative debit always
// applies, so only infrastructure errors are possible here.
func (e *Engine) refund(ctx context.Context, adID, campaignID string, amount int64) {
	date := time.Now().UTC().Format("2006-01-02")
	if _, err := e.ads.AddSpend(ctx, adID, -amount, date); err != nil {
		e.logger.Error("failed to refund ad debit",
			zap.String("ad_id", adID), zap.Int64("amount", amount), zap.Error(err))
	}
	if _, err := e.campaigns.AddSpend(ctx, campaignID, -amount, date); err != nil {
		e.logger.Error("failed to refund campaign debit",
			zap.String("campaign_id", campaignID), zap.Int64("amount", amount), zap.Error(err))
	}
}

// mirror sends the accepted impression to the analytics sinks. Failures
// are logged and dropped.
func (e *Engine) mirror(imp *models.Impression) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.archive.Archive(ctx, []*models.Impression{imp}); err != nil {
			e.logger.Warn("impression archive write failed",
				zap.String("impression_id", imp.ID), zap.Error(err))
		}
		e.stats.RecordImpression(ctx, imp.AdID, imp.CampaignID, imp.Cost)
	}()
}

// RecordClick marks the impression clicked and charges CPC/fixed ads.
// A repeated click on the same impression is a no-op: the conditional
// update applies at most once, so the charge fires at most once.
func (e *Engine) RecordClick(ctx context.Context, impressionID string) error {
	imp, err := e.impressions.GetByID(ctx, impressionID)
	if err != nil {
		return err
	}

	applied, err := e.impressions.MarkClicked(ctx, impressionID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	ad, err := e.ads.GetByID(ctx, imp.AdID)
	if err != nil {
		return err
	}
	campaign, err := e.campaigns.GetByID(ctx, ad.CampaignID)
	if err != nil {
		return err
	}

	cost := ad.ClickCost()
	if cost > 0 {
		err := e.charge(ctx, ad, campaign, cost, "click")
		switch {
		case err == nil:
			if err := e.impressions.AddCost(ctx, impressionID, cost); err != nil {
				e.logger.Warn("failed to record click cost",
					zap.String("impression_id", impressionID), zap.Error(err))
			}
		case core.IsBudgetExceeded(err):
			// The click stays on the ledger at zero cost; the ceiling
			// transition has already been applied.
			e.logger.Info("click recorded without charge",
				zap.String("impression_id", impressionID),
				zap.String("ad_id", ad.ID),
				zap.Error(err))
		default:
			return err
		}
	}

	if err := e.campaigns.AddGoalProgress(ctx, campaign.ID, models.GoalClicks, 1); err != nil {
		e.logger.Warn("failed to bump goal progress",
			zap.String("campaign_id", campaign.ID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RecordClick(campaign.ID, ad.ID)
	}
	e.stats.RecordClick(ctx, ad.ID, campaign.ID, cost)

	return nil
}

// RecordConversion marks the impression converted, attributes revenue,
// and charges CPA ads. Idempotent the same way RecordClick is.
func (e *Engine) RecordConversion(ctx context.Context, impressionID string, revenue int64) error {
	if revenue < 0 {
		return core.Invalid("revenue must not be negative")
	}

	imp, err := e.impressions.GetByID(ctx, impressionID)
	if err != nil {
		return err
	}

	applied, err := e.impressions.MarkConverted(ctx, impressionID, time.Now().UTC(), revenue)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	ad, err := e.ads.GetByID(ctx, imp.AdID)
	if err != nil {
		return err
	}
	campaign, err := e.campaigns.GetByID(ctx, ad.CampaignID)
	if err != nil {
		return err
	}

	cost := ad.ConversionCost()
	if cost > 0 {
		err := e.charge(ctx, ad, campaign, cost, "conversion")
		switch {
		case err == nil:
			if err := e.impressions.AddCost(ctx, impressionID, cost); err != nil {
				e.logger.Warn("failed to record conversion cost",
					zap.String("impression_id", impressionID), zap.Error(err))
			}
		case core.IsBudgetExceeded(err):
			e.logger.Info("conversion recorded without charge",
				zap.String("impression_id", impressionID),
				zap.String("ad_id", ad.ID),
				zap.Error(err))
		default:
			return err
		}
	}

	if err := e.campaigns.AddGoalProgress(ctx, campaign.ID, models.GoalConversions, 1); err != nil {
		e.logger.Warn("failed to bump goal progress",
			zap.String("campaign_id", campaign.ID), zap.Error(err))
	}
	if revenue > 0 {
		if err := e.campaigns.AddGoalProgress(ctx, campaign.ID, models.GoalRevenue, revenue); err != nil {
			e.logger.Warn("failed to bump goal progress",
				zap.String("campaign_id", campaign.ID), zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.RecordConversion(campaign.ID, ad.ID, revenue)
	}
	e.stats.RecordConversion(ctx, ad.ID, campaign.ID, cost, revenue)

	return nil
}

// charge accrues amount against the ad and then its campaign as one
// logical unit under the campaign lock. The ad debit goes first; the
// campaign is never debited when the ad debit did not apply, and an ad
// debit stranded by a campaign ceiling is compensated before returning.
func (e *Engine) charge(ctx context.Context, ad *models.Advertisement, campaign *models.Campaign, amount int64, event string) error {
	var lastErr error = core.ErrConflict
	for attempt := 0; attempt < chargeRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << attempt
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !e.locks.acquire(ctx, campaign.ID, lockTimeout) {
			continue
		}
		err := e.chargeLocked(ctx, ad, campaign, amount, event)
		e.locks.release(campaign.ID)

		if core.IsConflict(err) {
			lastErr = err
			continue
		}
		return err
	}
	return lastErr
}

func (e *Engine) chargeLocked(ctx context.Context, ad *models.Advertisement, campaign *models.Campaign, amount int64, event string) error {
	date := time.Now().UTC().Format("2006-01-02")

	applied, err := e.ads.AddSpend(ctx, ad.ID, amount, date)
	if err != nil {
		return err
	}
	if !applied {
		return e.ceilingHit(ctx, "advertisement", ad.ID, amount, date)
	}

	applied, err = e.campaigns.AddSpend(ctx, campaign.ID, amount, date)
	if err != nil {
		return err
	}
	if !applied {
		// Undo the ad debit so ledger sums stay consistent.
		if _, cerr := e.ads.AddSpend(ctx, ad.ID, -amount, date); cerr != nil {
			e.logger.Error("failed to compensate ad debit",
				zap.String("ad_id", ad.ID), zap.Int64("amount", amount), zap.Error(cerr))
		}
		return e.ceilingHit(ctx, "campaign", campaign.ID, amount, date)
	}

	if e.metrics != nil {
		e.metrics.RecordCharge(campaign.ID, event, amount)
	}
	e.checkAlerts(ctx, ad.ID, campaign.ID)
	return nil
}

// ceilingHit classifies which ceiling refused the debit, applies the
// matching lifecycle transition and returns the typed rejection.
func (e *Engine) ceilingHit(ctx context.Context, entity, id string, amount int64, date string) error {
	var (
		total   bool
		from    string
		name    string
		ceiling = "daily"
	)

	switch entity {
	case "advertisement":
		ad, err := e.ads.GetByID(ctx, id)
		if err != nil {
			return err
		}
		total = ad.SpentAmount+amount > ad.TotalBudget
		from, name = string(ad.Status), ad.Name
		if total {
			ceiling = "total"
			e.flipAd(ctx, ad, models.AdStatusCompleted, "total budget exhausted")
		} else {
			e.flipAd(ctx, ad, models.AdStatusPaused, "daily budget exhausted")
		}
	case "campaign":
		c, err := e.campaigns.GetByID(ctx, id)
		if err != nil {
			return err
		}
		total = c.SpentAmount+amount > c.TotalBudget
		from, name = string(c.Status), c.Name
		if total {
			ceiling = "total"
			e.flipCampaign(ctx, c, models.CampaignStatusCompleted, "total budget exhausted")
		} else {
			e.flipCampaign(ctx, c, models.CampaignStatusPaused, "daily budget exhausted")
		}
	}

	if e.metrics != nil {
		e.metrics.RecordChargeFailure(ceiling)
	}
	e.logger.Info("charge refused by budget ceiling",
		zap.String("entity", entity),
		zap.String("entity_id", id),
		zap.String("name", name),
		zap.String("ceiling", ceiling),
		zap.String("prior_status", from),
		zap.Int64("amount", amount),
		zap.String("date", date),
	)
	return &core.BudgetExceededError{Entity: entity, ID: id, Ceiling: ceiling}
}

func (e *Engine) flipAd(ctx context.Context, ad *models.Advertisement, to models.AdStatus, reason string) {
	if ad.Status == to || !ad.Status.CanTransitionTo(to) {
		return
	}
	applied, err := e.ads.CompareAndSetStatus(ctx, ad.ID, ad.Status, to)
	if err != nil || !applied {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordSweepTransition("advertisement", string(to))
	}
	e.sink.LifecycleEvent(notify.LifecycleEvent{
		Entity:   "advertisement",
		EntityID: ad.ID,
		Name:     ad.Name,
		From:     string(ad.Status),
		To:       string(to),
		Reason:   reason,
	})
}

func (e *Engine) flipCampaign(ctx context.Context, c *models.Campaign, to models.CampaignStatus, reason string) {
	if c.Status == to || !c.Status.CanTransitionTo(to) {
		return
	}
	applied, err := e.campaigns.CompareAndSetStatus(ctx, c.ID, c.Status, to)
	if err != nil || !applied {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordSweepTransition("campaign", string(to))
	}
	e.sink.LifecycleEvent(notify.LifecycleEvent{
		Entity:   "campaign",
		EntityID: c.ID,
		Name:     c.Name,
		From:     string(c.Status),
		To:       string(to),
		Reason:   reason,
	})
}

// checkAlerts re-reads both entities after a successful charge and
// fires threshold alerts when usage crossed the alert line. Total
// crossings dedup on the persisted LastAlertPct; daily crossings dedup
// on DailyAlertDate, which re-arms when the day rolls over.
func (e *Engine) checkAlerts(ctx context.Context, adID, campaignID string) {
	date := time.Now().UTC().Format("2006-01-02")

	if ad, err := e.ads.GetByID(ctx, adID); err == nil {
		pct := usagePct(ad.SpentAmount, ad.TotalBudget)
		if int(pct) >= alertThreshold && ad.LastAlertPct < alertThreshold {
			if err := e.ads.SetLastAlertPct(ctx, ad.ID, alertThreshold); err == nil {
				e.emitBudgetAlert("advertisement", "total", ad.ID, ad.Name, pct, ad.SpentAmount, ad.TotalBudget)
			}
		}
		if ad.DailyBudget > 0 && ad.DailyAlertDate != date {
			if dpct := usagePct(ad.DailySpentOn(date), ad.DailyBudget); int(dpct) >= alertThreshold {
				if err := e.ads.SetDailyAlertDate(ctx, ad.ID, date); err == nil {
					e.emitBudgetAlert("advertisement", "daily", ad.ID, ad.Name, dpct, ad.DailySpentOn(date), ad.DailyBudget)
				}
			}
		}
	}
	if c, err := e.campaigns.GetByID(ctx, campaignID); err == nil {
		pct := usagePct(c.SpentAmount, c.TotalBudget)
		if e.metrics != nil {
			e.metrics.RecordBudgetUsage(c.ID, pct)
		}
		if int(pct) >= alertThreshold && c.LastAlertPct < alertThreshold {
			if err := e.campaigns.SetLastAlertPct(ctx, c.ID, alertThreshold); err == nil {
				e.emitBudgetAlert("campaign", "total", c.ID, c.Name, pct, c.SpentAmount, c.TotalBudget)
			}
		}
		if c.DailyBudget > 0 && c.DailyAlertDate != date {
			if dpct := usagePct(c.DailySpentOn(date), c.DailyBudget); int(dpct) >= alertThreshold {
				if err := e.campaigns.SetDailyAlertDate(ctx, c.ID, date); err == nil {
					e.emitBudgetAlert("campaign", "daily", c.ID, c.Name, dpct, c.DailySpentOn(date), c.DailyBudget)
				}
			}
		}
	}
}

func (e *Engine) emitBudgetAlert(entity, ceiling, id, name string, pct float64, spent, budget int64) {
	if e.metrics != nil {
		e.metrics.RecordBudgetAlert(entity, "90")
	}
	e.sink.BudgetAlert(notify.BudgetAlert{
		Entity:    entity,
		EntityID:  id,
		Name:      name,
		Ceiling:   ceiling,
		Threshold: alertThreshold,
		UsagePct:  pct,
		Spent:     spent,
		Budget:    budget,
	})
}

// checkWallet fires a low-balance alert when the wallet drops under the
// floor and re-arms the alert once the balance recovers.
func (e *Engine) checkWallet(ctx context.Context, advertiserID string) {
	a, err := e.advertisers.GetByID(ctx, advertiserID)
	if err != nil {
		return
	}
	switch {
	case a.WalletBalance < lowWalletThreshold && !a.LowBalanceAlerted:
		if err := e.advertisers.SetLowBalanceAlerted(ctx, a.ID, true); err != nil {
			return
		}
		e.sink.WalletAlert(notify.WalletAlert{
			AdvertiserID: a.ID,
			Name:         a.Name,
			Balance:      a.WalletBalance,
			Floor:        lowWalletThreshold,
		})
	case a.WalletBalance >= lowWalletThreshold && a.LowBalanceAlerted:
		if err := e.advertisers.SetLowBalanceAlerted(ctx, a.ID, false); err != nil {
			e.logger.Warn("failed to re-arm wallet alert",
				zap.String("advertiser_id", a.ID), zap.Error(err))
		}
	}
}

func usagePct(spent, budget int64) float64 {
	if budget <= 0 {
		return 0
	}
	return float64(spent) / float64(budget) * 100
}
