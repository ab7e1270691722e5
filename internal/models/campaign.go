package models

import (
	"errors"
	"time"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusArchived  CampaignStatus = "archived"
)

type BudgetType string

const (
	BudgetTypeDaily    BudgetType = "daily"
	BudgetTypeTotal    BudgetType = "total"
	BudgetTypeLifetime BudgetType = "lifetime"
)

type GoalType string

const (
	GoalImpressions GoalType = "impressions"
	GoalClicks      GoalType = "clicks"
	GoalConversions GoalType = "conversions"
	GoalRevenue     GoalType = "revenue"
)

// Goal tracks the campaign objective and progress toward it.
type Goal struct {
	Type     GoalType `json:"type"`
	Target   int64    `json:"target"`
	Progress int64    `json:"progress"`
}

// Campaign groups advertisements under shared budgets and a lifecycle
// state machine. All monetary amounts are kobo-denominated integers.
type Campaign struct {
	ID           string         `json:"id"`
	AdvertiserID string         `json:"advertiser_id"`
	Name         string         `json:"name"`
	Status       CampaignStatus `json:"status"`

	// Budget. SpentAmount is monotonic non-decreasing while active and
	// never exceeds TotalBudget; DailySpent is scoped to DailySpentDate
	// and reset inside the atomic debit when the date rolls over.
	BudgetType     BudgetType `json:"budget_type"`
	TotalBudget    int64      `json:"total_budget"`
	DailyBudget    int64      `json:"daily_budget,omitempty"`
	SpentAmount    int64      `json:"spent_amount"`
	DailySpent     int64      `json:"daily_spent"`
	DailySpentDate string     `json:"daily_spent_date,omitempty"`

	Goal      Goal            `json:"goal"`
	Targeting *TargetingRules `json:"targeting,omitempty"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Approved  bool      `json:"approved"`

	// LastAlertPct is the highest total-budget threshold already alerted
	// on, so the sweep fires once per crossing rather than once per poll.
	// DailyAlertDate holds the date key of the last daily-ceiling alert;
	// a new day re-arms it.
	LastAlertPct   int    `json:"last_alert_pct,omitempty"`
	DailyAlertDate string `json:"daily_alert_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// campaignTransitions is the allowed status graph. Archived is terminal.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusActive, CampaignStatusCompleted, CampaignStatusCancelled},
	CampaignStatusCompleted: {CampaignStatusArchived},
	CampaignStatusCancelled: {CampaignStatusArchived},
	CampaignStatusArchived:  {},
}

// CanTransitionTo reports whether the status graph permits moving to next.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, t := range campaignTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further mutation is permitted.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusArchived
}

func (c *Campaign) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.AdvertiserID == "" {
		return errors.New("advertiser_id is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.TotalBudget <= 0 {
		return errors.New("total_budget must be > 0")
	}
	if c.DailyBudget < 0 {
		return errors.New("daily_budget must not be negative")
	}
	if c.DailyBudget > c.TotalBudget {
		return errors.New("daily_budget must not exceed total_budget")
	}
	if c.EndDate.IsZero() || c.StartDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if !c.EndDate.After(c.StartDate) {
		return errors.New("end_date must be after start_date")
	}
	return nil
}

// Remaining returns the unspent portion of the total budget.
func (c *Campaign) Remaining() int64 {
	return c.TotalBudget - c.SpentAmount
}

// DailySpentOn returns the spend accrued on the given date key,
// treating a stale DailySpentDate as a fresh day.
func (c *Campaign) DailySpentOn(date string) int64 {
	if c.DailySpentDate != date {
		return 0
	}
	return c.DailySpent
}
