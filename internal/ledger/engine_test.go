package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/notify"
	"github.com/adforge/adledger/internal/storage"
)

type captureSink struct {
	mu      sync.Mutex
	alerts  []notify.BudgetAlert
	wallets []notify.WalletAlert
	events  []notify.LifecycleEvent
}

func (s *captureSink) BudgetAlert(a notify.BudgetAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *captureSink) WalletAlert(a notify.WalletAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = append(s.wallets, a)
}

func (s *captureSink) LifecycleEvent(e notify.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type engineFixture struct {
	engine      *Engine
	campaigns   *storage.InMemoryCampaignRepo
	ads         *storage.InMemoryAdRepo
	impressions *storage.InMemoryImpressionRepo
	advertisers *storage.InMemoryAdvertiserRepo
	sink        *captureSink
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		campaigns:   storage.NewInMemoryCampaignRepo(),
		ads:         storage.NewInMemoryAdRepo(),
		impressions: storage.NewInMemoryImpressionRepo(),
		advertisers: storage.NewInMemoryAdvertiserRepo(),
		sink:        &captureSink{},
	}
	f.engine = NewEngine(Config{
		Campaigns:   f.campaigns,
		Ads:         f.ads,
		Impressions: f.impressions,
		Advertisers: f.advertisers,
		Sink:        f.sink,
	})
	return f
}

func (f *engineFixture) seedCampaign(t *testing.T, mutate ...func(*models.Campaign)) *models.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Campaign{
		ID:           "camp-1",
		AdvertiserID: "adv-1",
		Name:         "spring-sale",
		Status:       models.CampaignStatusActive,
		TotalBudget:  1_000_000,
		StartDate:    now.Add(-24 * time.Hour),
		EndDate:      now.Add(24 * time.Hour),
		Approved:     true,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, f.campaigns.Insert(context.Background(), c))
	return c
}

func (f *engineFixture) seedAd(t *testing.T, mutate ...func(*models.Advertisement)) *models.Advertisement {
	t.Helper()
	now := time.Now().UTC()
	a := &models.Advertisement{
		ID:          "ad-1",
		CampaignID:  "camp-1",
		Name:        "spring-banner",
		Status:      models.AdStatusActive,
		BiddingType: models.BiddingCPM,
		BidAmount:   10_000,
		TotalBudget: 500_000,
		StartDate:   now.Add(-24 * time.Hour),
		EndDate:     now.Add(24 * time.Hour),
		Approved:    true,
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, f.ads.Insert(context.Background(), a))
	return a
}

func TestRecordImpressionAccepted(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.Goal = models.Goal{Type: models.GoalImpressions, Target: 100}
	})
	f.seedAd(t)

	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{ViewerID: "v1"})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NotEmpty(t, res.ImpressionID)

	// CPM ads are charged at impression time: 10_000 / 1000.
	imp, err := f.impressions.GetByID(ctx, res.ImpressionID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), imp.Cost)
	assert.Equal(t, "v1", imp.ViewerID)

	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), ad.SpentAmount)
	assert.Equal(t, int64(1), ad.Impressions)

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.SpentAmount)
	assert.Equal(t, int64(1), c.Goal.Progress)
}

func TestRecordImpressionGates(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name       string
		campaign   func(*models.Campaign)
		ad         func(*models.Advertisement)
		reqCtx     models.RequestContext
		wantReason string
	}{
		{
			name:       "paused ad",
			ad:         func(a *models.Advertisement) { a.Status = models.AdStatusPaused },
			wantReason: "ad_status",
		},
		{
			name:       "unapproved ad",
			ad:         func(a *models.Advertisement) { a.Approved = false },
			wantReason: "ad_status",
		},
		{
			name:       "paused campaign",
			campaign:   func(c *models.Campaign) { c.Status = models.CampaignStatusPaused },
			wantReason: "campaign_status",
		},
		{
			name:       "unapproved campaign",
			campaign:   func(c *models.Campaign) { c.Approved = false },
			wantReason: "campaign_status",
		},
		{
			name: "ad window not started",
			ad: func(a *models.Advertisement) {
				a.StartDate = now.Add(time.Hour)
				a.EndDate = now.Add(48 * time.Hour)
			},
			wantReason: "ad_window",
		},
		{
			name: "campaign window ended",
			campaign: func(c *models.Campaign) {
				c.StartDate = now.Add(-48 * time.Hour)
				c.EndDate = now.Add(-time.Hour)
			},
			ad: func(a *models.Advertisement) {
				a.StartDate = now.Add(-48 * time.Hour)
				a.EndDate = now.Add(48 * time.Hour)
			},
			wantReason: "campaign_window",
		},
		{
			name: "campaign targeting",
			campaign: func(c *models.Campaign) {
				c.Targeting = &models.TargetingRules{Countries: []string{"NG"}}
			},
			reqCtx:     models.RequestContext{Country: "KE"},
			wantReason: "campaign_targeting_country",
		},
		{
			name: "ad targeting",
			ad: func(a *models.Advertisement) {
				a.Targeting = &models.TargetingRules{DeviceTypes: []string{"mobile"}}
			},
			reqCtx:     models.RequestContext{DeviceType: "desktop"},
			wantReason: "targeting_device_type",
		},
		{
			name:       "campaign budget cannot cover the impression",
			campaign:   func(c *models.Campaign) { c.TotalBudget = 5 },
			wantReason: "budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			if tt.campaign != nil {
				f.seedCampaign(t, tt.campaign)
			} else {
				f.seedCampaign(t)
			}
			if tt.ad != nil {
				f.seedAd(t, tt.ad)
			} else {
				f.seedAd(t)
			}

			res, err := f.engine.RecordImpression(context.Background(), "ad-1", tt.reqCtx)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestRecordImpressionUnknownAd(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.RecordImpression(context.Background(), "nope", models.RequestContext{})
	assert.True(t, core.IsNotFound(err))
}

func TestRecordClickChargesOnce(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.Goal = models.Goal{Type: models.GoalClicks, Target: 10}
	})
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPC
		a.BidAmount = 500
	})

	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	// CPC ads accrue nothing at impression time.
	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Zero(t, c.SpentAmount)

	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))

	imp, err := f.impressions.GetByID(ctx, res.ImpressionID)
	require.NoError(t, err)
	require.NotNil(t, imp.ClickedAt)
	assert.Equal(t, int64(500), imp.Cost)

	// A duplicate click neither errors nor charges again.
	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))

	c, err = f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), c.SpentAmount)
	assert.Equal(t, int64(1), c.Goal.Progress)

	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), ad.SpentAmount)
}

func TestRecordClickKeptWhenAdBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t)
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPC
		a.BidAmount = 500
		a.TotalBudget = 400
	})

	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	// The charge is refused but the click itself stays on the ledger.
	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))

	imp, err := f.impressions.GetByID(ctx, res.ImpressionID)
	require.NoError(t, err)
	require.NotNil(t, imp.ClickedAt)
	assert.Zero(t, imp.Cost)

	// Total ceiling means the ad is done, not merely paused.
	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusCompleted, ad.Status)
	assert.Zero(t, ad.SpentAmount)
}

func TestDailyCeilingPausesCampaign(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.DailyBudget = 300
	})
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPC
		a.BidAmount = 500
	})

	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, c.Status)
	assert.Zero(t, c.SpentAmount)

	// The stranded ad debit was compensated.
	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Zero(t, ad.SpentAmount)
	assert.Equal(t, models.AdStatusActive, ad.Status)
}

func TestTotalCeilingCompletesCampaign(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.TotalBudget = 15
	})
	f.seedAd(t)

	// First CPM impression costs 10 and fits; the second does not.
	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "budget", res.Reason)

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, c.Status)
	assert.Equal(t, int64(10), c.SpentAmount)
}

func TestRecordConversion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.Goal = models.Goal{Type: models.GoalRevenue, Target: 100_000}
	})
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPA
		a.BidAmount = 1_000
	})

	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	require.NoError(t, f.engine.RecordConversion(ctx, res.ImpressionID, 5_000))

	imp, err := f.impressions.GetByID(ctx, res.ImpressionID)
	require.NoError(t, err)
	require.NotNil(t, imp.ConvertedAt)
	assert.Equal(t, int64(1_000), imp.Cost)
	assert.Equal(t, int64(5_000), imp.Revenue)

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), c.SpentAmount)
	assert.Equal(t, int64(5_000), c.Goal.Progress)

	// Duplicate conversion is a no-op.
	require.NoError(t, f.engine.RecordConversion(ctx, res.ImpressionID, 9_000))
	imp, err = f.impressions.GetByID(ctx, res.ImpressionID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), imp.Revenue)

	err = f.engine.RecordConversion(ctx, res.ImpressionID, -1)
	assert.True(t, core.IsValidation(err))
}

func TestBudgetAlertFiresOncePerCrossing(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.TotalBudget = 100
	})
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPC
		a.BidAmount = 45
		a.TotalBudget = 1_000_000
	})

	serveAndClick := func() {
		res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
		require.NoError(t, err)
		require.True(t, res.Accepted)
		require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))
	}

	serveAndClick() // 45% used, below the line
	assert.Zero(t, f.sink.alertCount())

	serveAndClick() // 90% used, alert fires
	assert.Equal(t, 1, f.sink.alertCount())

	// Staying above the threshold never re-alerts.
	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))
	assert.Equal(t, 1, f.sink.alertCount())

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, alertThreshold, c.LastAlertPct)
}

func TestDailyBudgetAlertFiresOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.DailyBudget = 100
	})
	f.seedAd(t, func(a *models.Advertisement) {
		a.BiddingType = models.BiddingCPC
		a.BidAmount = 45
	})

	serveAndClick := func() {
		res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
		require.NoError(t, err)
		require.True(t, res.Accepted)
		require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))
	}

	serveAndClick() // 45 of 100 daily, below the line
	assert.Zero(t, f.sink.alertCount())

	serveAndClick() // 90 of 100 daily, alert fires
	require.Equal(t, 1, f.sink.alertCount())
	assert.Equal(t, "daily", f.sink.alerts[0].Ceiling)
	assert.Equal(t, "campaign", f.sink.alerts[0].Entity)

	// The next click crosses the daily ceiling; the campaign pauses and
	// the crossing does not re-alert.
	res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NoError(t, f.engine.RecordClick(ctx, res.ImpressionID))
	assert.Equal(t, 1, f.sink.alertCount())

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, c.Status)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), c.DailyAlertDate)
}

type failingImpressionRepo struct {
	storage.ImpressionRepo
	failInsert bool
}

func (r *failingImpressionRepo) Insert(ctx context.Context, imp *models.Impression) error {
	if r.failInsert {
		return errors.New("ledger unavailable")
	}
	return r.ImpressionRepo.Insert(ctx, imp)
}

func TestImpressionInsertFailureRefundsCharge(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t)
	f.seedAd(t) // CPM, 10 per impression

	broken := &failingImpressionRepo{ImpressionRepo: f.impressions, failInsert: true}
	engine := NewEngine(Config{
		Campaigns:   f.campaigns,
		Ads:         f.ads,
		Impressions: broken,
		Advertisers: f.advertisers,
		Sink:        f.sink,
	})

	_, err := engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
	require.Error(t, err)

	// The CPM charge is reversed on both legs: no spend without a
	// backing ledger row.
	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Zero(t, ad.SpentAmount)

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Zero(t, c.SpentAmount)
}

func TestConcurrentChargesRespectCeiling(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCampaign(t, func(c *models.Campaign) {
		c.TotalBudget = 50
	})
	f.seedAd(t) // CPM, 10 per impression

	const workers = 20
	var wg sync.WaitGroup
	accepted := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.RecordImpression(ctx, "ad-1", models.RequestContext{})
			if err == nil && res.Accepted {
				accepted <- true
			}
		}()
	}
	wg.Wait()
	close(accepted)

	assert.Equal(t, 5, len(accepted))

	c, err := f.campaigns.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.SpentAmount)

	// Ad and campaign ledgers agree after compensation.
	ad, err := f.ads.GetByID(ctx, "ad-1")
	require.NoError(t, err)
	assert.Equal(t, c.SpentAmount, ad.SpentAmount)
}
