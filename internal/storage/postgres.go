package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/models"
)

// PostgreSQL implementations of the repositories. Ceiling enforcement
// and click/conversion idempotency are single conditional UPDATEs so
// concurrent writers serialize inside the database.

// =============================================
// Campaigns
// =============================================

type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

const campaignColumns = `
	id, advertiser_id, name, status, budget_type,
	total_budget, daily_budget, spent_amount, daily_spent, daily_spent_date,
	goal_type, goal_target, goal_progress, targeting,
	start_date, end_date, approved, last_alert_pct, daily_alert_date, created_at, updated_at`

func (r *PostgresCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == pgx.ErrNoRows {
		return nil, core.NotFound("campaign", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

func (r *PostgresCampaignRepo) ListByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE advertiser_id = $1 ORDER BY created_at DESC`, advertiserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *PostgresCampaignRepo) ListByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE status = ANY($1) ORDER BY created_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *PostgresCampaignRepo) Insert(ctx context.Context, c *models.Campaign) error {
	targetingJSON, err := marshalTargeting(c.Targeting)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		c.ID, c.AdvertiserID, c.Name, c.Status, c.BudgetType,
		c.TotalBudget, c.DailyBudget, c.SpentAmount, c.DailySpent, nullString(c.DailySpentDate),
		c.Goal.Type, c.Goal.Target, c.Goal.Progress, targetingJSON,
		c.StartDate, c.EndDate, c.Approved, c.LastAlertPct, nullString(c.DailyAlertDate), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	targetingJSON, err := marshalTargeting(c.Targeting)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET
			name = $2, status = $3, budget_type = $4,
			total_budget = $5, daily_budget = $6,
			goal_type = $7, goal_target = $8, targeting = $9,
			start_date = $10, end_date = $11, approved = $12, updated_at = $13
		WHERE id = $1
	`,
		c.ID, c.Name, c.Status, c.BudgetType,
		c.TotalBudget, c.DailyBudget,
		c.Goal.Type, c.Goal.Target, targetingJSON,
		c.StartDate, c.EndDate, c.Approved, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("campaign", c.ID)
	}
	return nil
}

func (r *PostgresCampaignRepo) AddSpend(ctx context.Context, id string, amount int64, date string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET
			daily_spent = CASE WHEN daily_spent_date = $3 THEN daily_spent + $2 ELSE $2 END,
			daily_spent_date = $3,
			spent_amount = spent_amount + $2,
			updated_at = now()
		WHERE id = $1
		  AND spent_amount + $2 <= total_budget
		  AND (daily_budget = 0 OR
		       (CASE WHEN daily_spent_date = $3 THEN daily_spent ELSE 0 END) + $2 <= daily_budget)
	`, id, amount, date)
	if err != nil {
		return false, fmt.Errorf("failed to add campaign spend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresCampaignRepo) CompareAndSetStatus(ctx context.Context, id string, from, to models.CampaignStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresCampaignRepo) SetLastAlertPct(ctx context.Context, id string, pct int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE campaigns SET last_alert_pct = $2 WHERE id = $1`, id, pct)
	if err != nil {
		return fmt.Errorf("failed to set alert threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("campaign", id)
	}
	return nil
}

func (r *PostgresCampaignRepo) SetDailyAlertDate(ctx context.Context, id string, date string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE campaigns SET daily_alert_date = $2 WHERE id = $1`, id, date)
	if err != nil {
		return fmt.Errorf("failed to set daily alert date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("campaign", id)
	}
	return nil
}

func (r *PostgresCampaignRepo) AddGoalProgress(ctx context.Context, id string, goalType models.GoalType, delta int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET goal_progress = goal_progress + $3
		WHERE id = $1 AND goal_type = $2
	`, id, goalType, delta)
	if err != nil {
		return fmt.Errorf("failed to add goal progress: %w", err)
	}
	return nil
}

// existsErr distinguishes a failed condition from a missing row.
func (r *PostgresCampaignRepo) existsErr(ctx context.Context, id string) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM campaigns WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return core.NotFound("campaign", id)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var dailySpentDate, dailyAlertDate *string
	var targetingJSON []byte

	err := row.Scan(
		&c.ID, &c.AdvertiserID, &c.Name, &c.Status, &c.BudgetType,
		&c.TotalBudget, &c.DailyBudget, &c.SpentAmount, &c.DailySpent, &dailySpentDate,
		&c.Goal.Type, &c.Goal.Target, &c.Goal.Progress, &targetingJSON,
		&c.StartDate, &c.EndDate, &c.Approved, &c.LastAlertPct, &dailyAlertDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DailySpentDate = deref(dailySpentDate)
	c.DailyAlertDate = deref(dailyAlertDate)
	if err := unmarshalTargeting(targetingJSON, &c.Targeting); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCampaigns(rows pgx.Rows) ([]*models.Campaign, error) {
	var res []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// =============================================
// Advertisements
// =============================================

type PostgresAdRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAdRepo(pool *pgxpool.Pool) *PostgresAdRepo {
	return &PostgresAdRepo{pool: pool}
}

const adColumns = `
	id, campaign_id, name, status, creative, targeting,
	bidding_type, bid_amount, daily_budget, total_budget,
	spent_amount, daily_spent, daily_spent_date, impressions, performance,
	start_date, end_date, approved, last_alert_pct, daily_alert_date, created_at, updated_at`

func (r *PostgresAdRepo) GetByID(ctx context.Context, id string) (*models.Advertisement, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+adColumns+` FROM advertisements WHERE id = $1`, id)
	a, err := scanAd(row)
	if err == pgx.ErrNoRows {
		return nil, core.NotFound("advertisement", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertisement: %w", err)
	}
	return a, nil
}

func (r *PostgresAdRepo) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Advertisement, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+adColumns+` FROM advertisements WHERE campaign_id = $1 ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	defer rows.Close()
	return collectAds(rows)
}

func (r *PostgresAdRepo) ListByStatus(ctx context.Context, statuses ...models.AdStatus) ([]*models.Advertisement, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `SELECT`+adColumns+` FROM advertisements WHERE status = ANY($1) ORDER BY created_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	defer rows.Close()
	return collectAds(rows)
}

func (r *PostgresAdRepo) Insert(ctx context.Context, a *models.Advertisement) error {
	creativeJSON, err := json.Marshal(a.Creative)
	if err != nil {
		return fmt.Errorf("failed to marshal creative: %w", err)
	}
	targetingJSON, err := marshalTargeting(a.Targeting)
	if err != nil {
		return err
	}
	perfJSON, err := marshalPerformance(a.Performance)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO advertisements (`+adColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		a.ID, a.CampaignID, a.Name, a.Status, creativeJSON, targetingJSON,
		a.BiddingType, a.BidAmount, a.DailyBudget, a.TotalBudget,
		a.SpentAmount, a.DailySpent, nullString(a.DailySpentDate), a.Impressions, perfJSON,
		a.StartDate, a.EndDate, a.Approved, a.LastAlertPct, nullString(a.DailyAlertDate), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert advertisement: %w", err)
	}
	return nil
}

func (r *PostgresAdRepo) Update(ctx context.Context, a *models.Advertisement) error {
	creativeJSON, err := json.Marshal(a.Creative)
	if err != nil {
		return fmt.Errorf("failed to marshal creative: %w", err)
	}
	targetingJSON, err := marshalTargeting(a.Targeting)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE advertisements SET
			name = $2, status = $3, creative = $4, targeting = $5,
			bidding_type = $6, bid_amount = $7, daily_budget = $8, total_budget = $9,
			start_date = $10, end_date = $11, approved = $12, updated_at = $13
		WHERE id = $1
	`,
		a.ID, a.Name, a.Status, creativeJSON, targetingJSON,
		a.BiddingType, a.BidAmount, a.DailyBudget, a.TotalBudget,
		a.StartDate, a.EndDate, a.Approved, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update advertisement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("advertisement", a.ID)
	}
	return nil
}

func (r *PostgresAdRepo) AddSpend(ctx context.Context, id string, amount int64, date string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE advertisements SET
			daily_spent = CASE WHEN daily_spent_date = $3 THEN daily_spent + $2 ELSE $2 END,
			daily_spent_date = $3,
			spent_amount = spent_amount + $2,
			updated_at = now()
		WHERE id = $1
		  AND spent_amount + $2 <= total_budget
		  AND (daily_budget = 0 OR
		       (CASE WHEN daily_spent_date = $3 THEN daily_spent ELSE 0 END) + $2 <= daily_budget)
	`, id, amount, date)
	if err != nil {
		return false, fmt.Errorf("failed to add advertisement spend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresAdRepo) CompareAndSetStatus(ctx context.Context, id string, from, to models.AdStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE advertisements SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update advertisement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresAdRepo) SetLastAlertPct(ctx context.Context, id string, pct int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE advertisements SET last_alert_pct = $2 WHERE id = $1`, id, pct)
	if err != nil {
		return fmt.Errorf("failed to set alert threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("advertisement", id)
	}
	return nil
}

func (r *PostgresAdRepo) SetDailyAlertDate(ctx context.Context, id string, date string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE advertisements SET daily_alert_date = $2 WHERE id = $1`, id, date)
	if err != nil {
		return fmt.Errorf("failed to set daily alert date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("advertisement", id)
	}
	return nil
}

func (r *PostgresAdRepo) IncrementImpressions(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE advertisements SET impressions = impressions + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment impressions: %w", err)
	}
	return nil
}

func (r *PostgresAdRepo) SetPerformance(ctx context.Context, id string, p *models.PerformanceSnapshot) error {
	perfJSON, err := marshalPerformance(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE advertisements SET performance = $2 WHERE id = $1`, id, perfJSON)
	if err != nil {
		return fmt.Errorf("failed to set performance snapshot: %w", err)
	}
	return nil
}

func (r *PostgresAdRepo) existsErr(ctx context.Context, id string) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM advertisements WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return core.NotFound("advertisement", id)
	}
	return err
}

func scanAd(row rowScanner) (*models.Advertisement, error) {
	var a models.Advertisement
	var dailySpentDate, dailyAlertDate *string
	var creativeJSON, targetingJSON, perfJSON []byte

	err := row.Scan(
		&a.ID, &a.CampaignID, &a.Name, &a.Status, &creativeJSON, &targetingJSON,
		&a.BiddingType, &a.BidAmount, &a.DailyBudget, &a.TotalBudget,
		&a.SpentAmount, &a.DailySpent, &dailySpentDate, &a.Impressions, &perfJSON,
		&a.StartDate, &a.EndDate, &a.Approved, &a.LastAlertPct, &dailyAlertDate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.DailySpentDate = deref(dailySpentDate)
	a.DailyAlertDate = deref(dailyAlertDate)
	if len(creativeJSON) > 0 {
		if err := json.Unmarshal(creativeJSON, &a.Creative); err != nil {
			return nil, fmt.Errorf("failed to parse creative: %w", err)
		}
	}
	if err := unmarshalTargeting(targetingJSON, &a.Targeting); err != nil {
		return nil, err
	}
	if len(perfJSON) > 0 {
		var p models.PerformanceSnapshot
		if err := json.Unmarshal(perfJSON, &p); err != nil {
			return nil, fmt.Errorf("failed to parse performance: %w", err)
		}
		a.Performance = &p
	}
	return &a, nil
}

func collectAds(rows pgx.Rows) ([]*models.Advertisement, error) {
	var res []*models.Advertisement
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// =============================================
// Impressions
// =============================================

type PostgresImpressionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresImpressionRepo(pool *pgxpool.Pool) *PostgresImpressionRepo {
	return &PostgresImpressionRepo{pool: pool}
}

const impressionColumns = `
	id, ad_id, campaign_id, viewer_id, country, device_type, ip, user_agent,
	viewed_at, clicked_at, converted_at, cost, revenue`

func (r *PostgresImpressionRepo) Insert(ctx context.Context, imp *models.Impression) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO impressions (`+impressionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		imp.ID, imp.AdID, imp.CampaignID, nullString(imp.ViewerID),
		nullString(imp.Country), nullString(imp.DeviceType), nullString(imp.IP), nullString(imp.UserAgent),
		imp.ViewedAt, imp.ClickedAt, imp.ConvertedAt, imp.Cost, imp.Revenue,
	)
	if err != nil {
		return fmt.Errorf("failed to insert impression: %w", err)
	}
	return nil
}

func (r *PostgresImpressionRepo) GetByID(ctx context.Context, id string) (*models.Impression, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+impressionColumns+` FROM impressions WHERE id = $1`, id)
	imp, err := scanImpression(row)
	if err == pgx.ErrNoRows {
		return nil, core.NotFound("impression", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get impression: %w", err)
	}
	return imp, nil
}

func (r *PostgresImpressionRepo) MarkClicked(ctx context.Context, id string, ts time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE impressions SET clicked_at = $2
		WHERE id = $1 AND clicked_at IS NULL
	`, id, ts)
	if err != nil {
		return false, fmt.Errorf("failed to mark click: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresImpressionRepo) MarkConverted(ctx context.Context, id string, ts time.Time, revenue int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE impressions SET converted_at = $2, revenue = $3
		WHERE id = $1 AND converted_at IS NULL
	`, id, ts, revenue)
	if err != nil {
		return false, fmt.Errorf("failed to mark conversion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, r.existsErr(ctx, id)
	}
	return true, nil
}

func (r *PostgresImpressionRepo) AddCost(ctx context.Context, id string, cost int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE impressions SET cost = cost + $2 WHERE id = $1`, id, cost)
	if err != nil {
		return fmt.Errorf("failed to add impression cost: %w", err)
	}
	return nil
}

func (r *PostgresImpressionRepo) ListByAd(ctx context.Context, adID string, since time.Time) ([]*models.Impression, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+impressionColumns+` FROM impressions
		WHERE ad_id = $1 AND viewed_at >= $2 ORDER BY viewed_at
	`, adID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list impressions: %w", err)
	}
	defer rows.Close()
	return collectImpressions(rows)
}

func (r *PostgresImpressionRepo) ListByCampaign(ctx context.Context, campaignID string, since time.Time) ([]*models.Impression, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+impressionColumns+` FROM impressions
		WHERE campaign_id = $1 AND viewed_at >= $2 ORDER BY viewed_at
	`, campaignID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list impressions: %w", err)
	}
	defer rows.Close()
	return collectImpressions(rows)
}

func (r *PostgresImpressionRepo) existsErr(ctx context.Context, id string) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM impressions WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return core.NotFound("impression", id)
	}
	return err
}

func scanImpression(row rowScanner) (*models.Impression, error) {
	var imp models.Impression
	var viewerID, country, deviceType, ip, userAgent *string

	err := row.Scan(
		&imp.ID, &imp.AdID, &imp.CampaignID, &viewerID, &country, &deviceType, &ip, &userAgent,
		&imp.ViewedAt, &imp.ClickedAt, &imp.ConvertedAt, &imp.Cost, &imp.Revenue,
	)
	if err != nil {
		return nil, err
	}
	imp.ViewerID = deref(viewerID)
	imp.Country = deref(country)
	imp.DeviceType = deref(deviceType)
	imp.IP = deref(ip)
	imp.UserAgent = deref(userAgent)
	return &imp, nil
}

func collectImpressions(rows pgx.Rows) ([]*models.Impression, error) {
	var res []*models.Impression
	for rows.Next() {
		imp, err := scanImpression(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, imp)
	}
	return res, rows.Err()
}

// =============================================
// Advertisers
// =============================================

type PostgresAdvertiserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAdvertiserRepo(pool *pgxpool.Pool) *PostgresAdvertiserRepo {
	return &PostgresAdvertiserRepo{pool: pool}
}

func (r *PostgresAdvertiserRepo) GetByID(ctx context.Context, id string) (*models.Advertiser, error) {
	var a models.Advertiser
	var statsJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, wallet_balance, verified, low_balance_alerted, stats, created_at, updated_at
		FROM advertisers WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Name, &a.WalletBalance, &a.Verified, &a.LowBalanceAlerted, &statsJSON, &a.CreatedAt, &a.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, core.NotFound("advertiser", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertiser: %w", err)
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &a.Stats); err != nil {
			return nil, fmt.Errorf("failed to parse advertiser stats: %w", err)
		}
	}
	return &a, nil
}

func (r *PostgresAdvertiserRepo) Insert(ctx context.Context, a *models.Advertiser) error {
	statsJSON, err := json.Marshal(a.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal advertiser stats: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO advertisers (id, user_id, name, wallet_balance, verified, low_balance_alerted, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.UserID, a.Name, a.WalletBalance, a.Verified, a.LowBalanceAlerted, statsJSON, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert advertiser: %w", err)
	}
	return nil
}

func (r *PostgresAdvertiserRepo) Update(ctx context.Context, a *models.Advertiser) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE advertisers SET user_id = $2, name = $3, verified = $4, updated_at = $5
		WHERE id = $1
	`, a.ID, a.UserID, a.Name, a.Verified, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update advertiser: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("advertiser", a.ID)
	}
	return nil
}

func (r *PostgresAdvertiserRepo) AddWalletBalance(ctx context.Context, id string, delta int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE advertisers SET wallet_balance = wallet_balance + $2, updated_at = now()
		WHERE id = $1 AND wallet_balance + $2 >= 0
	`, id, delta)
	if err != nil {
		return false, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := r.pool.QueryRow(ctx, `SELECT 1 FROM advertisers WHERE id = $1`, id).Scan(&one)
		if err == pgx.ErrNoRows {
			return false, core.NotFound("advertiser", id)
		}
		return false, err
	}
	return true, nil
}

func (r *PostgresAdvertiserRepo) SetLowBalanceAlerted(ctx context.Context, id string, alerted bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE advertisers SET low_balance_alerted = $2 WHERE id = $1`, id, alerted)
	if err != nil {
		return fmt.Errorf("failed to set low balance flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("advertiser", id)
	}
	return nil
}

func (r *PostgresAdvertiserRepo) SetStats(ctx context.Context, id string, stats models.AdvertiserStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal advertiser stats: %w", err)
	}
	_, err = r.pool.Exec(ctx, `UPDATE advertisers SET stats = $2 WHERE id = $1`, id, statsJSON)
	if err != nil {
		return fmt.Errorf("failed to set advertiser stats: %w", err)
	}
	return nil
}

// =============================================
// Helpers
// =============================================

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalTargeting(t *models.TargetingRules) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal targeting: %w", err)
	}
	return b, nil
}

func unmarshalTargeting(b []byte, dst **models.TargetingRules) error {
	if len(b) == 0 {
		return nil
	}
	var t models.TargetingRules
	if err := json.Unmarshal(b, &t); err != nil {
		return fmt.Errorf("failed to parse targeting: %w", err)
	}
	*dst = &t
	return nil
}

func marshalPerformance(p *models.PerformanceSnapshot) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance: %w", err)
	}
	return b, nil
}
