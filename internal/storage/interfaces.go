package storage

import (
	"context"
	"time"

	"github.com/adforge/adledger/internal/models"
)

// =============================================
// CAMPAIGN REPOSITORY
// =============================================

// CampaignRepo defines operations for campaign storage. Implementations
// must make AddSpend and CompareAndSetStatus atomic: a concurrent pair
// of debits can never both pass a ceiling only one of them fits under.
type CampaignRepo interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	ListByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Campaign, error)
	ListByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error)
	Insert(ctx context.Context, c *models.Campaign) error
	Update(ctx context.Context, c *models.Campaign) error

	// AddSpend debits amount against the campaign for the given date
	// key. It applies only when the total ceiling (and the daily
	// ceiling, when set) still fits; applied reports whether the debit
	// took effect.
	AddSpend(ctx context.Context, id string, amount int64, date string) (applied bool, err error)

	// CompareAndSetStatus transitions status only when the stored value
	// still equals from; applied reports whether the swap happened.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.CampaignStatus) (applied bool, err error)

	// SetLastAlertPct records the highest alerted total-budget threshold.
	SetLastAlertPct(ctx context.Context, id string, pct int) error

	// SetDailyAlertDate records the date key of the last daily-ceiling
	// alert, so the alert re-arms when the day rolls over.
	SetDailyAlertDate(ctx context.Context, id string, date string) error

	// AddGoalProgress bumps goal progress for the given goal type.
	AddGoalProgress(ctx context.Context, id string, goalType models.GoalType, delta int64) error
}

// =============================================
// ADVERTISEMENT REPOSITORY
// =============================================

// AdRepo defines operations for advertisement storage, with the same
// atomicity requirements as CampaignRepo.
type AdRepo interface {
	GetByID(ctx context.Context, id string) (*models.Advertisement, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.Advertisement, error)
	ListByStatus(ctx context.Context, statuses ...models.AdStatus) ([]*models.Advertisement, error)
	Insert(ctx context.Context, a *models.Advertisement) error
	Update(ctx context.Context, a *models.Advertisement) error

	AddSpend(ctx context.Context, id string, amount int64, date string) (applied bool, err error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.AdStatus) (applied bool, err error)
	SetLastAlertPct(ctx context.Context, id string, pct int) error
	SetDailyAlertDate(ctx context.Context, id string, date string) error

	// IncrementImpressions bumps the cached exposure counter.
	IncrementImpressions(ctx context.Context, id string) error

	// SetPerformance writes through the cached performance snapshot.
	SetPerformance(ctx context.Context, id string, p *models.PerformanceSnapshot) error
}

// =============================================
// IMPRESSION LEDGER
// =============================================

// ImpressionRepo is the append-only exposure ledger. MarkClicked and
// MarkConverted are single conditional updates: they apply only while
// the respective timestamp is still unset, which is what makes
// recordClick/recordConversion idempotent under concurrent retries.
type ImpressionRepo interface {
	Insert(ctx context.Context, imp *models.Impression) error
	GetByID(ctx context.Context, id string) (*models.Impression, error)

	MarkClicked(ctx context.Context, id string, ts time.Time) (applied bool, err error)
	MarkConverted(ctx context.Context, id string, ts time.Time, revenue int64) (applied bool, err error)

	// AddCost records the cost accrued by the charge an event triggered.
	AddCost(ctx context.Context, id string, cost int64) error

	ListByAd(ctx context.Context, adID string, since time.Time) ([]*models.Impression, error)
	ListByCampaign(ctx context.Context, campaignID string, since time.Time) ([]*models.Impression, error)
}

// =============================================
// ADVERTISER REPOSITORY
// =============================================

// AdvertiserRepo defines operations for advertiser storage.
type AdvertiserRepo interface {
	GetByID(ctx context.Context, id string) (*models.Advertiser, error)
	Insert(ctx context.Context, a *models.Advertiser) error
	Update(ctx context.Context, a *models.Advertiser) error

	// AddWalletBalance applies delta only when the resulting balance
	// stays non-negative; applied reports whether it took effect.
	AddWalletBalance(ctx context.Context, id string, delta int64) (applied bool, err error)

	// SetLowBalanceAlerted records the low-wallet alert dedup flag.
	SetLowBalanceAlerted(ctx context.Context, id string, alerted bool) error

	// SetStats writes through the derived aggregate cache.
	SetStats(ctx context.Context, id string, stats models.AdvertiserStats) error
}

// =============================================
// IMPRESSION ARCHIVE
// =============================================

// ImpressionArchive is an analytics sink for accepted impressions.
// Writes are fire-and-forget: failures never affect the serving path.
type ImpressionArchive interface {
	Archive(ctx context.Context, imps []*models.Impression) error
	Close() error
}
