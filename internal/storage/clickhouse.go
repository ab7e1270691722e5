package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/models"
)

// ClickHouseArchive streams accepted impressions into ClickHouse for
// offline analytics. It implements ImpressionArchive; the serving path
// treats archive failures as non-fatal.
type ClickHouseArchive struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseArchive connects to ClickHouse and verifies the link.
func NewClickHouseArchive(ctx context.Context, addr, database, username, password string, logger *zap.Logger) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("connected to ClickHouse",
		zap.String("addr", addr),
		zap.String("database", database),
	)

	return &ClickHouseArchive{conn: conn, logger: logger}, nil
}

// Archive batches the impressions into the impressions_archive table.
func (a *ClickHouseArchive) Archive(ctx context.Context, imps []*models.Impression) error {
	if len(imps) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO impressions_archive
			(id, ad_id, campaign_id, viewer_id, country, device_type, viewed_at, cost, revenue)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, imp := range imps {
		err := batch.Append(
			imp.ID, imp.AdID, imp.CampaignID, imp.ViewerID,
			imp.Country, imp.DeviceType, imp.ViewedAt, imp.Cost, imp.Revenue,
		)
		if err != nil {
			return fmt.Errorf("failed to append to archive batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}

// NopArchive discards impressions. Used when ClickHouse is not configured.
type NopArchive struct{}

func (NopArchive) Archive(ctx context.Context, imps []*models.Impression) error { return nil }
func (NopArchive) Close() error                                                 { return nil }
