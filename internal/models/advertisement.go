package models

import (
	"errors"
	"time"
)

type AdStatus string

const (
	AdStatusDraft     AdStatus = "draft"
	AdStatusActive    AdStatus = "active"
	AdStatusPaused    AdStatus = "paused"
	AdStatusCompleted AdStatus = "completed"
	AdStatusCancelled AdStatus = "cancelled"
	AdStatusArchived  AdStatus = "archived"
	AdStatusExpired   AdStatus = "expired"
	AdStatusRejected  AdStatus = "rejected"
)

type BiddingType string

const (
	BiddingCPC   BiddingType = "cpc"
	BiddingCPM   BiddingType = "cpm"
	BiddingCPA   BiddingType = "cpa"
	BiddingFixed BiddingType = "fixed"
)

// Creative is the renderable payload of an advertisement.
type Creative struct {
	Title          string `json:"title"`
	ImageURL       string `json:"image_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	HTML           string `json:"html,omitempty"`
	CTAText        string `json:"cta_text,omitempty"`
	DestinationURL string `json:"destination_url"`
}

// PerformanceSnapshot is the cached performance summary written through
// on each aggregation read. It is derived from the impression ledger and
// never authoritative.
type PerformanceSnapshot struct {
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	CTR         float64   `json:"ctr"`
	CPC         float64   `json:"cpc"`
	CPM         float64   `json:"cpm"`
	ROAS        float64   `json:"roas"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Advertisement is a single ad under a campaign, with its own budgets,
// bidding configuration and lifecycle.
type Advertisement struct {
	ID         string   `json:"id"`
	CampaignID string   `json:"campaign_id"`
	Name       string   `json:"name"`
	Status     AdStatus `json:"status"`

	Creative  Creative        `json:"creative"`
	Targeting *TargetingRules `json:"targeting,omitempty"`

	BiddingType BiddingType `json:"bidding_type"`
	BidAmount   int64       `json:"bid_amount"`

	DailyBudget    int64  `json:"daily_budget,omitempty"`
	TotalBudget    int64  `json:"total_budget"`
	SpentAmount    int64  `json:"spent_amount"`
	DailySpent     int64  `json:"daily_spent"`
	DailySpentDate string `json:"daily_spent_date,omitempty"`

	// Impressions is a cached exposure counter bumped on accepted
	// impressions; the ledger remains the source of truth.
	Impressions int64 `json:"impressions"`

	Performance *PerformanceSnapshot `json:"performance,omitempty"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// Approved is cleared whenever creative, targeting or schedule
	// change; the ad must be re-approved before serving again.
	Approved       bool   `json:"approved"`
	LastAlertPct   int    `json:"last_alert_pct,omitempty"`
	DailyAlertDate string `json:"daily_alert_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var adTransitions = map[AdStatus][]AdStatus{
	AdStatusDraft:     {AdStatusActive, AdStatusCancelled, AdStatusRejected},
	AdStatusActive:    {AdStatusPaused, AdStatusCompleted, AdStatusCancelled, AdStatusExpired},
	AdStatusPaused:    {AdStatusActive, AdStatusCompleted, AdStatusCancelled, AdStatusExpired},
	AdStatusCompleted: {AdStatusArchived},
	AdStatusCancelled: {AdStatusArchived},
	AdStatusExpired:   {AdStatusArchived},
	AdStatusRejected:  {AdStatusDraft, AdStatusArchived},
	AdStatusArchived:  {},
}

// CanTransitionTo reports whether the status graph permits moving to next.
func (s AdStatus) CanTransitionTo(next AdStatus) bool {
	for _, t := range adTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further mutation is permitted.
func (s AdStatus) Terminal() bool {
	return s == AdStatusArchived
}

func (a *Advertisement) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.CampaignID == "" {
		return errors.New("campaign_id is required")
	}
	if a.Name == "" {
		return errors.New("name is required")
	}
	if a.Creative.Title == "" || a.Creative.DestinationURL == "" {
		return errors.New("creative title and destination_url are required")
	}
	switch a.BiddingType {
	case BiddingCPC, BiddingCPM, BiddingCPA, BiddingFixed:
	default:
		return errors.New("unknown bidding_type")
	}
	if a.BidAmount <= 0 {
		return errors.New("bid_amount must be > 0")
	}
	// CPM charges bid/1000 per impression in integer kobo; a bid under
	// 1000 would truncate to zero and serve for free.
	if a.BiddingType == BiddingCPM && a.BidAmount < 1000 {
		return errors.New("cpm bid_amount must be at least 1000")
	}
	if a.TotalBudget <= 0 {
		return errors.New("total_budget must be > 0")
	}
	if a.DailyBudget < 0 {
		return errors.New("daily_budget must not be negative")
	}
	if a.EndDate.IsZero() || a.StartDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if !a.EndDate.After(a.StartDate) {
		return errors.New("end_date must be after start_date")
	}
	return nil
}

// WithinWindow reports whether ts falls inside the ad's serving dates.
func (a *Advertisement) WithinWindow(ts time.Time) bool {
	return !ts.Before(a.StartDate) && !ts.After(a.EndDate)
}

// Remaining returns the unspent portion of the total budget.
func (a *Advertisement) Remaining() int64 {
	return a.TotalBudget - a.SpentAmount
}

// DailySpentOn returns the spend accrued on the given date key.
func (a *Advertisement) DailySpentOn(date string) int64 {
	if a.DailySpentDate != date {
		return 0
	}
	return a.DailySpent
}

// ImpressionCost returns the cost accrued when an impression is served.
// Only CPM ads are charged at impression time.
func (a *Advertisement) ImpressionCost() int64 {
	if a.BiddingType == BiddingCPM {
		return a.BidAmount / 1000
	}
	return 0
}

// ClickCost returns the cost accrued when a click is registered.
func (a *Advertisement) ClickCost() int64 {
	switch a.BiddingType {
	case BiddingCPC, BiddingFixed:
		return a.BidAmount
	default:
		return 0
	}
}

// ConversionCost returns the cost accrued when a conversion is registered.
func (a *Advertisement) ConversionCost() int64 {
	if a.BiddingType == BiddingCPA {
		return a.BidAmount
	}
	return 0
}
