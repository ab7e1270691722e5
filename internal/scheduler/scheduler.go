// Package scheduler drives the periodic background work: lifecycle
// sweeps over campaign and ad status, budget threshold alerts, and
// performance snapshot recomputes. Every sweep is idempotent and
// isolates per-entity failures, so a crashed or doubled run converges
// to the same state.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/metrics"
	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/notify"
	"github.com/adforge/adledger/internal/reporting"
	"github.com/adforge/adledger/internal/storage"
)

const (
	alertThreshold = 90

	// lowWalletThreshold mirrors the charge-path floor for wallet alerts.
	lowWalletThreshold = 10_000
)

// Scheduler owns the background sweeps.
type Scheduler struct {
	campaigns   storage.CampaignRepo
	ads         storage.AdRepo
	advertisers storage.AdvertiserRepo
	aggregator  *reporting.Aggregator

	// archiveAfter is how long a finished entity rests before the sweep
	// moves it to archived.
	archiveAfter time.Duration

	metrics *metrics.Metrics
	sink    notify.Sink
	logger  *zap.Logger
}

type Config struct {
	Campaigns    storage.CampaignRepo
	Ads          storage.AdRepo
	Advertisers  storage.AdvertiserRepo
	Aggregator   *reporting.Aggregator
	ArchiveAfter time.Duration
	Metrics      *metrics.Metrics
	Sink         notify.Sink
	Logger       *zap.Logger
}

func New(cfg Config) *Scheduler {
	if cfg.Sink == nil {
		cfg.Sink = notify.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}
	return &Scheduler{
		campaigns:    cfg.Campaigns,
		ads:          cfg.Ads,
		advertisers:  cfg.Advertisers,
		aggregator:   cfg.Aggregator,
		archiveAfter: cfg.ArchiveAfter,
		metrics:      cfg.Metrics,
		sink:         cfg.Sink,
		logger:       cfg.Logger,
	}
}

// Run drives the sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, sweepEvery, recomputeEvery time.Duration) {
	sweepTicker := time.NewTicker(sweepEvery)
	recomputeTicker := time.NewTicker(recomputeEvery)
	defer sweepTicker.Stop()
	defer recomputeTicker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("sweep_interval", sweepEvery),
		zap.Duration("recompute_interval", recomputeEvery),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-sweepTicker.C:
			s.RunLifecycleSweep(ctx)
			s.RunBudgetAlertCheck(ctx)
		case <-recomputeTicker.C:
			s.RunPerformanceRecompute(ctx)
		}
	}
}

// RunLifecycleSweep walks live entities and applies the automatic
// transitions: activation of approved drafts whose start date arrived,
// date-window expiry, total-budget exhaustion, and archival of finished
// entities after the rest period. Each transition is a compare-and-swap
// from the observed status, so a concurrent change simply skips the
// entity until the next pass.
func (s *Scheduler) RunLifecycleSweep(ctx context.Context) {
	start := time.Now()
	now := start.UTC()

	campaigns, err := s.campaigns.ListByStatus(ctx,
		models.CampaignStatusDraft,
		models.CampaignStatusActive, models.CampaignStatusPaused,
		models.CampaignStatusCompleted, models.CampaignStatusCancelled)
	if err != nil {
		s.logger.Error("lifecycle sweep: listing campaigns failed", zap.Error(err))
	} else {
		var active int
		for _, c := range campaigns {
			if c.Status == models.CampaignStatusActive {
				active++
			}
			s.sweepCampaign(ctx, c, now)
		}
		if s.metrics != nil {
			s.metrics.ActiveCampaigns.Set(float64(active))
		}
	}

	ads, err := s.ads.ListByStatus(ctx,
		models.AdStatusDraft, models.AdStatusActive, models.AdStatusPaused,
		models.AdStatusCompleted, models.AdStatusCancelled, models.AdStatusExpired)
	if err != nil {
		s.logger.Error("lifecycle sweep: listing ads failed", zap.Error(err))
	} else {
		var active int
		for _, ad := range ads {
			if ad.Status == models.AdStatusActive {
				active++
			}
			s.sweepAd(ctx, ad, now)
		}
		if s.metrics != nil {
			s.metrics.ActiveAds.Set(float64(active))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSweepDuration("lifecycle", time.Since(start))
	}
}

func (s *Scheduler) sweepCampaign(ctx context.Context, c *models.Campaign, now time.Time) {
	switch c.Status {
	case models.CampaignStatusDraft:
		if c.Approved && !now.Before(c.StartDate) && !now.After(c.EndDate) {
			s.transitionCampaign(ctx, c, models.CampaignStatusActive, "start date reached")
		}
	case models.CampaignStatusActive, models.CampaignStatusPaused:
		if now.After(c.EndDate) {
			s.transitionCampaign(ctx, c, models.CampaignStatusCompleted, "end date passed")
			return
		}
		if c.Status == models.CampaignStatusActive && c.SpentAmount >= c.TotalBudget {
			s.transitionCampaign(ctx, c, models.CampaignStatusCompleted, "total budget exhausted")
		}
	case models.CampaignStatusCompleted, models.CampaignStatusCancelled:
		if now.Sub(c.UpdatedAt) >= s.archiveAfter {
			s.transitionCampaign(ctx, c, models.CampaignStatusArchived, "retention elapsed")
		}
	}
}

func (s *Scheduler) sweepAd(ctx context.Context, ad *models.Advertisement, now time.Time) {
	switch ad.Status {
	case models.AdStatusDraft:
		if ad.Approved && !now.Before(ad.StartDate) && !now.After(ad.EndDate) {
			s.transitionAd(ctx, ad, models.AdStatusActive, "start date reached")
		}
	case models.AdStatusActive, models.AdStatusPaused:
		if now.After(ad.EndDate) {
			s.transitionAd(ctx, ad, models.AdStatusExpired, "end date passed")
			return
		}
		if ad.Status == models.AdStatusActive && ad.SpentAmount >= ad.TotalBudget {
			s.transitionAd(ctx, ad, models.AdStatusCompleted, "total budget exhausted")
		}
	case models.AdStatusCompleted, models.AdStatusCancelled, models.AdStatusExpired:
		if now.Sub(ad.UpdatedAt) >= s.archiveAfter {
			s.transitionAd(ctx, ad, models.AdStatusArchived, "retention elapsed")
		}
	}
}

func (s *Scheduler) transitionCampaign(ctx context.Context, c *models.Campaign, to models.CampaignStatus, reason string) {
	if !c.Status.CanTransitionTo(to) {
		return
	}
	applied, err := s.campaigns.CompareAndSetStatus(ctx, c.ID, c.Status, to)
	if err != nil {
		s.logger.Error("lifecycle sweep: campaign transition failed",
			zap.String("campaign_id", c.ID), zap.String("to", string(to)), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSweepTransition("campaign", string(to))
	}
	s.sink.LifecycleEvent(notify.LifecycleEvent{
		Entity:   "campaign",
		EntityID: c.ID,
		Name:     c.Name,
		From:     string(c.Status),
		To:       string(to),
		Reason:   reason,
	})
}

func (s *Scheduler) transitionAd(ctx context.Context, ad *models.Advertisement, to models.AdStatus, reason string) {
	if !ad.Status.CanTransitionTo(to) {
		return
	}
	applied, err := s.ads.CompareAndSetStatus(ctx, ad.ID, ad.Status, to)
	if err != nil {
		s.logger.Error("lifecycle sweep: ad transition failed",
			zap.String("ad_id", ad.ID), zap.String("to", string(to)), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSweepTransition("advertisement", string(to))
	}
	s.sink.LifecycleEvent(notify.LifecycleEvent{
		Entity:   "advertisement",
		EntityID: ad.ID,
		Name:     ad.Name,
		From:     string(ad.Status),
		To:       string(to),
		Reason:   reason,
	})
}

// RunBudgetAlertCheck catches threshold crossings the charge path did
// not alert on. Total crossings dedup on the persisted LastAlertPct,
// daily crossings on DailyAlertDate, and low-wallet alerts on the
// advertiser's LowBalanceAlerted flag, so every alert fires once per
// crossing regardless of how often the check runs.
func (s *Scheduler) RunBudgetAlertCheck(ctx context.Context) {
	start := time.Now()
	date := start.UTC().Format("2006-01-02")
	owners := make(map[string]struct{})

	campaigns, err := s.campaigns.ListByStatus(ctx,
		models.CampaignStatusActive, models.CampaignStatusPaused)
	if err != nil {
		s.logger.Error("budget alert check: listing campaigns failed", zap.Error(err))
	} else {
		for _, c := range campaigns {
			if c.AdvertiserID != "" {
				owners[c.AdvertiserID] = struct{}{}
			}
			if pct := usagePct(c.SpentAmount, c.TotalBudget); int(pct) >= alertThreshold && c.LastAlertPct < alertThreshold {
				if err := s.campaigns.SetLastAlertPct(ctx, c.ID, alertThreshold); err != nil {
					s.logger.Error("budget alert check: campaign update failed",
						zap.String("campaign_id", c.ID), zap.Error(err))
				} else {
					s.emitBudgetAlert("campaign", "total", c.ID, c.Name, pct, c.SpentAmount, c.TotalBudget)
				}
			}
			if c.DailyBudget > 0 && c.DailyAlertDate != date {
				if dpct := usagePct(c.DailySpentOn(date), c.DailyBudget); int(dpct) >= alertThreshold {
					if err := s.campaigns.SetDailyAlertDate(ctx, c.ID, date); err != nil {
						s.logger.Error("budget alert check: campaign update failed",
							zap.String("campaign_id", c.ID), zap.Error(err))
					} else {
						s.emitBudgetAlert("campaign", "daily", c.ID, c.Name, dpct, c.DailySpentOn(date), c.DailyBudget)
					}
				}
			}
		}
	}

	ads, err := s.ads.ListByStatus(ctx, models.AdStatusActive, models.AdStatusPaused)
	if err != nil {
		s.logger.Error("budget alert check: listing ads failed", zap.Error(err))
	} else {
		for _, ad := range ads {
			if pct := usagePct(ad.SpentAmount, ad.TotalBudget); int(pct) >= alertThreshold && ad.LastAlertPct < alertThreshold {
				if err := s.ads.SetLastAlertPct(ctx, ad.ID, alertThreshold); err != nil {
					s.logger.Error("budget alert check: ad update failed",
						zap.String("ad_id", ad.ID), zap.Error(err))
				} else {
					s.emitBudgetAlert("advertisement", "total", ad.ID, ad.Name, pct, ad.SpentAmount, ad.TotalBudget)
				}
			}
			if ad.DailyBudget > 0 && ad.DailyAlertDate != date {
				if dpct := usagePct(ad.DailySpentOn(date), ad.DailyBudget); int(dpct) >= alertThreshold {
					if err := s.ads.SetDailyAlertDate(ctx, ad.ID, date); err != nil {
						s.logger.Error("budget alert check: ad update failed",
							zap.String("ad_id", ad.ID), zap.Error(err))
					} else {
						s.emitBudgetAlert("advertisement", "daily", ad.ID, ad.Name, dpct, ad.DailySpentOn(date), ad.DailyBudget)
					}
				}
			}
		}
	}

	if s.advertisers != nil {
		for id := range owners {
			s.checkWallet(ctx, id)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSweepDuration("budget_alert", time.Since(start))
	}
}

func (s *Scheduler) emitBudgetAlert(entity, ceiling, id, name string, pct float64, spent, budget int64) {
	if s.metrics != nil {
		s.metrics.RecordBudgetAlert(entity, "90")
	}
	s.sink.BudgetAlert(notify.BudgetAlert{
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

// checkWallet alerts once when an advertiser balance drops under the
// floor and re-arms the alert after the balance recovers.
func (s *Scheduler) checkWallet(ctx context.Context, advertiserID string) {
	a, err := s.advertisers.GetByID(ctx, advertiserID)
	if err != nil {
		s.logger.Error("budget alert check: advertiser read failed",
			zap.String("advertiser_id", advertiserID), zap.Error(err))
		return
	}
	switch {
	case a.WalletBalance < lowWalletThreshold && !a.LowBalanceAlerted:
		if err := s.advertisers.SetLowBalanceAlerted(ctx, a.ID, true); err != nil {
			s.logger.Error("budget alert check: advertiser update failed",
				zap.String("advertiser_id", a.ID), zap.Error(err))
			return
		}
		s.sink.WalletAlert(notify.WalletAlert{
			AdvertiserID: a.ID,
			Name:         a.Name,
			Balance:      a.WalletBalance,
			Floor:        lowWalletThreshold,
		})
	case a.WalletBalance >= lowWalletThreshold && a.LowBalanceAlerted:
		if err := s.advertisers.SetLowBalanceAlerted(ctx, a.ID, false); err != nil {
			s.logger.Error("budget alert check: advertiser update failed",
				zap.String("advertiser_id", a.ID), zap.Error(err))
		}
	}
}

// RunPerformanceRecompute refreshes performance snapshots for live
// campaigns and the derived advertiser aggregates.
func (s *Scheduler) RunPerformanceRecompute(ctx context.Context) {
	if s.aggregator == nil {
		return
	}
	start := time.Now()

	campaigns, err := s.campaigns.ListByStatus(ctx,
		models.CampaignStatusActive, models.CampaignStatusPaused)
	if err != nil {
		s.logger.Error("performance recompute: listing campaigns failed", zap.Error(err))
		return
	}

	advertisers := make(map[string]struct{})
	for _, c := range campaigns {
		if _, err := s.aggregator.CampaignPerformance(ctx, c.ID); err != nil {
			s.logger.Error("performance recompute failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		advertisers[c.AdvertiserID] = struct{}{}
	}
	for id := range advertisers {
		if err := s.aggregator.RecomputeAdvertiserStats(ctx, id); err != nil {
			s.logger.Error("advertiser stats recompute failed",
				zap.String("advertiser_id", id), zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSweepDuration("performance", time.Since(start))
	}
}

func usagePct(spent, budget int64) float64 {
	if budget <= 0 {
		return 0
	}
	return float64(spent) / float64(budget) * 100
}
