package models

import (
	"errors"
	"time"
)

// AdvertiserStats are derived aggregate caches, recomputable at any time
// from campaigns, ads and the impression ledger.
type AdvertiserStats struct {
	TotalSpent      int64     `json:"total_spent"`
	ActiveCampaigns int       `json:"active_campaigns"`
	AverageRoas     float64   `json:"average_roas"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Advertiser owns campaigns and carries the wallet that funds them.
// WalletBalance is kobo-denominated.
type Advertiser struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	WalletBalance int64  `json:"wallet_balance"`
	Verified      bool   `json:"verified"`

	// LowBalanceAlerted dedupes the low-wallet alert: set when the
	// balance drops under the floor, cleared once it recovers.
	LowBalanceAlerted bool `json:"low_balance_alerted,omitempty"`

	Stats     AdvertiserStats `json:"stats"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *Advertiser) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	if a.WalletBalance < 0 {
		return errors.New("wallet_balance must not be negative")
	}
	return nil
}
