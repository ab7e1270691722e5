package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatCounters mirrors serving events into Redis as date-scoped
// counters for cheap operational dashboards. All writes are pipelined
// and best effort; the ledger in Postgres stays authoritative.
type StatCounters struct {
	client *redis.Client
}

func NewStatCounters(client *redis.Client) *StatCounters {
	return &StatCounters{client: client}
}

func (s *StatCounters) RecordImpression(ctx context.Context, adID, campaignID string, cost int64) {
	if s == nil || s.client == nil {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	pipe := s.client.Pipeline()

	impKey := fmt.Sprintf("stats:imps:%s:%s", adID, today)
	pipe.Incr(ctx, impKey)
	pipe.Expire(ctx, impKey, 48*time.Hour)

	if cost > 0 {
		spendKey := fmt.Sprintf("stats:spend:%s:%s", campaignID, today)
		pipe.IncrBy(ctx, spendKey, cost)
		pipe.Expire(ctx, spendKey, 48*time.Hour)
	}

	pipe.Exec(ctx)
}

func (s *StatCounters) RecordClick(ctx context.Context, adID, campaignID string, cost int64) {
	if s == nil || s.client == nil {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	pipe := s.client.Pipeline()

	clickKey := fmt.Sprintf("stats:clicks:%s:%s", adID, today)
	pipe.Incr(ctx, clickKey)
	pipe.Expire(ctx, clickKey, 48*time.Hour)

	if cost > 0 {
		spendKey := fmt.Sprintf("stats:spend:%s:%s", campaignID, today)
		pipe.IncrBy(ctx, spendKey, cost)
		pipe.Expire(ctx, spendKey, 48*time.Hour)
	}

	pipe.Exec(ctx)
}

func (s *StatCounters) RecordConversion(ctx context.Context, adID, campaignID string, cost, revenue int64) {
	if s == nil || s.client == nil {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	pipe := s.client.Pipeline()

	convKey := fmt.Sprintf("stats:convs:%s:%s", adID, today)
	pipe.Incr(ctx, convKey)
	pipe.Expire(ctx, convKey, 48*time.Hour)

	if cost > 0 {
		spendKey := fmt.Sprintf("stats:spend:%s:%s", campaignID, today)
		pipe.IncrBy(ctx, spendKey, cost)
		pipe.Expire(ctx, spendKey, 48*time.Hour)
	}
	if revenue > 0 {
		revKey := fmt.Sprintf("stats:revenue:%s:%s", campaignID, today)
		pipe.IncrBy(ctx, revKey, revenue)
		pipe.Expire(ctx, revKey, 48*time.Hour)
	}

	pipe.Exec(ctx)
}

// DailySpend reads back the mirrored spend counter for a campaign.
func (s *StatCounters) DailySpend(ctx context.Context, campaignID, date string) int64 {
	if s == nil || s.client == nil {
		return 0
	}
	v, err := s.client.Get(ctx, fmt.Sprintf("stats:spend:%s:%s", campaignID, date)).Int64()
	if err != nil {
		return 0
	}
	return v
}
