package models

import (
	"time"
)

// Impression is one append-only exposure record. ClickedAt and
// ConvertedAt transition at most once from nil to a timestamp and are
// never cleared; Cost is set by the charge that the transition triggers.
type Impression struct {
	ID         string `json:"id"`
	AdID       string `json:"ad_id"`
	CampaignID string `json:"campaign_id"`
	ViewerID   string `json:"viewer_id,omitempty"`

	// Context captured at serve time.
	Country    string `json:"country,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`

	ViewedAt    time.Time  `json:"viewed_at"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	ConvertedAt *time.Time `json:"converted_at,omitempty"`

	Cost    int64 `json:"cost"`
	Revenue int64 `json:"revenue,omitempty"`
}

// RequestContext is the runtime snapshot an impression request carries
// into targeting evaluation and the ledger.
type RequestContext struct {
	ViewerID   string    `json:"viewer_id,omitempty"`
	Country    string    `json:"country,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Now        time.Time `json:"-"`
}

// Timestamp returns the context time, defaulting to the wall clock.
func (rc RequestContext) Timestamp() time.Time {
	if rc.Now.IsZero() {
		return time.Now().UTC()
	}
	return rc.Now
}
