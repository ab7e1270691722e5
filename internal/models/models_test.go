package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignTransitions(t *testing.T) {
	assert.True(t, CampaignStatusDraft.CanTransitionTo(CampaignStatusActive))
	assert.True(t, CampaignStatusActive.CanTransitionTo(CampaignStatusPaused))
	assert.True(t, CampaignStatusPaused.CanTransitionTo(CampaignStatusActive))
	assert.True(t, CampaignStatusCompleted.CanTransitionTo(CampaignStatusArchived))

	assert.False(t, CampaignStatusDraft.CanTransitionTo(CampaignStatusPaused))
	assert.False(t, CampaignStatusActive.CanTransitionTo(CampaignStatusDraft))
	assert.False(t, CampaignStatusArchived.CanTransitionTo(CampaignStatusActive))

	assert.True(t, CampaignStatusArchived.Terminal())
	assert.False(t, CampaignStatusCompleted.Terminal())
}

func TestAdTransitions(t *testing.T) {
	assert.True(t, AdStatusDraft.CanTransitionTo(AdStatusRejected))
	assert.True(t, AdStatusRejected.CanTransitionTo(AdStatusDraft))
	assert.True(t, AdStatusActive.CanTransitionTo(AdStatusExpired))
	assert.True(t, AdStatusExpired.CanTransitionTo(AdStatusArchived))

	assert.False(t, AdStatusExpired.CanTransitionTo(AdStatusActive))
	assert.False(t, AdStatusArchived.CanTransitionTo(AdStatusDraft))
}

func TestCampaignValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := func() *Campaign {
		return &Campaign{
			ID:           "c1",
			AdvertiserID: "adv1",
			Name:         "launch",
			TotalBudget:  1000,
			DailyBudget:  100,
			StartDate:    now,
			EndDate:      now.Add(24 * time.Hour),
		}
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.TotalBudget = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.DailyBudget = 2000
	assert.Error(t, c.Validate())

	c = valid()
	c.EndDate = c.StartDate
	assert.Error(t, c.Validate())
}

func TestAdValidateCPMBidFloor(t *testing.T) {
	now := time.Now().UTC()
	valid := func() *Advertisement {
		return &Advertisement{
			ID:          "a1",
			CampaignID:  "c1",
			Name:        "banner",
			Creative:    Creative{Title: "Sale", DestinationURL: "https://example.com"},
			BiddingType: BiddingCPM,
			BidAmount:   1000,
			TotalBudget: 5000,
			StartDate:   now,
			EndDate:     now.Add(24 * time.Hour),
		}
	}

	require.NoError(t, valid().Validate())

	// A CPM bid under 1000 kobo would truncate to a free impression.
	a := valid()
	a.BidAmount = 999
	assert.Error(t, a.Validate())

	// The floor applies to CPM only.
	a = valid()
	a.BiddingType = BiddingCPC
	a.BidAmount = 50
	assert.NoError(t, a.Validate())
}

func TestDailySpentOn(t *testing.T) {
	c := &Campaign{DailySpent: 250, DailySpentDate: "2025-06-10"}
	assert.Equal(t, int64(250), c.DailySpentOn("2025-06-10"))
	// A stale date key counts as a fresh day.
	assert.Zero(t, c.DailySpentOn("2025-06-11"))
}

func TestEventCosts(t *testing.T) {
	cpm := &Advertisement{BiddingType: BiddingCPM, BidAmount: 10_000}
	assert.Equal(t, int64(10), cpm.ImpressionCost())
	assert.Zero(t, cpm.ClickCost())
	assert.Zero(t, cpm.ConversionCost())

	cpc := &Advertisement{BiddingType: BiddingCPC, BidAmount: 500}
	assert.Zero(t, cpc.ImpressionCost())
	assert.Equal(t, int64(500), cpc.ClickCost())

	fixed := &Advertisement{BiddingType: BiddingFixed, BidAmount: 300}
	assert.Equal(t, int64(300), fixed.ClickCost())

	cpa := &Advertisement{BiddingType: BiddingCPA, BidAmount: 2_000}
	assert.Equal(t, int64(2_000), cpa.ConversionCost())
	assert.Zero(t, cpa.ClickCost())
}

func TestWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	ad := &Advertisement{StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour)}

	assert.True(t, ad.WithinWindow(now))
	assert.True(t, ad.WithinWindow(ad.StartDate))
	assert.True(t, ad.WithinWindow(ad.EndDate))
	assert.False(t, ad.WithinWindow(ad.EndDate.Add(time.Second)))
	assert.False(t, ad.WithinWindow(ad.StartDate.Add(-time.Second)))
}

func TestRequestContextTimestamp(t *testing.T) {
	fixed := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, RequestContext{Now: fixed}.Timestamp())

	got := RequestContext{}.Timestamp()
	assert.WithinDuration(t, time.Now().UTC(), got, time.Second)
}
