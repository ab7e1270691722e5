package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/models"
)

func TestCampaignAddSpend(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCampaignRepo()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{
		ID:          "c1",
		TotalBudget: 1000,
		DailyBudget: 300,
	}))

	applied, err := repo.AddSpend(ctx, "c1", 250, "2025-06-10")
	require.NoError(t, err)
	assert.True(t, applied)

	// Daily ceiling blocks even though total still fits.
	applied, err = repo.AddSpend(ctx, "c1", 100, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, applied)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), c.SpentAmount)
	assert.Equal(t, int64(250), c.DailySpent)

	// New date resets the daily counter.
	applied, err = repo.AddSpend(ctx, "c1", 300, "2025-06-11")
	require.NoError(t, err)
	assert.True(t, applied)

	c, err = repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(550), c.SpentAmount)
	assert.Equal(t, int64(300), c.DailySpent)
	assert.Equal(t, "2025-06-11", c.DailySpentDate)

	// Total ceiling blocks across days.
	applied, err = repo.AddSpend(ctx, "c1", 200, "2025-06-12")
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = repo.AddSpend(ctx, "c1", 300, "2025-06-13")
	require.NoError(t, err)
	assert.False(t, applied)

	// Negative amounts reverse a debit.
	applied, err = repo.AddSpend(ctx, "c1", -200, "2025-06-13")
	require.NoError(t, err)
	assert.True(t, applied)
	c, err = repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(550), c.SpentAmount)

	_, err = repo.AddSpend(ctx, "missing", 1, "2025-06-10")
	assert.True(t, core.IsNotFound(err))
}

func TestCampaignAddSpendNoDailyBudget(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCampaignRepo()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{ID: "c1", TotalBudget: 100}))

	applied, err := repo.AddSpend(ctx, "c1", 100, "2025-06-10")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.AddSpend(ctx, "c1", 1, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCampaignCompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCampaignRepo()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{
		ID:     "c1",
		Status: models.CampaignStatusActive,
	}))

	applied, err := repo.CompareAndSetStatus(ctx, "c1", models.CampaignStatusActive, models.CampaignStatusPaused)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second swap from the stale status no-ops.
	applied, err = repo.CompareAndSetStatus(ctx, "c1", models.CampaignStatusActive, models.CampaignStatusCompleted)
	require.NoError(t, err)
	assert.False(t, applied)

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, c.Status)
}

func TestCampaignGoalProgress(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCampaignRepo()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{
		ID:   "c1",
		Goal: models.Goal{Type: models.GoalClicks, Target: 10},
	}))

	require.NoError(t, repo.AddGoalProgress(ctx, "c1", models.GoalClicks, 3))
	// Mismatched goal type is ignored.
	require.NoError(t, repo.AddGoalProgress(ctx, "c1", models.GoalImpressions, 5))

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Goal.Progress)
}

func TestAdAddSpendCeilings(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryAdRepo()
	require.NoError(t, repo.Insert(ctx, &models.Advertisement{
		ID:          "a1",
		TotalBudget: 500,
	}))

	applied, err := repo.AddSpend(ctx, "a1", 500, "2025-06-10")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.AddSpend(ctx, "a1", 1, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestImpressionMarkIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryImpressionRepo()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.Impression{
		ID:         "i1",
		AdID:       "a1",
		CampaignID: "c1",
		ViewedAt:   now,
	}))

	applied, err := repo.MarkClicked(ctx, "i1", now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkClicked(ctx, "i1", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.MarkConverted(ctx, "i1", now, 2500)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkConverted(ctx, "i1", now, 9999)
	require.NoError(t, err)
	assert.False(t, applied)

	imp, err := repo.GetByID(ctx, "i1")
	require.NoError(t, err)
	require.NotNil(t, imp.ClickedAt)
	assert.Equal(t, now, *imp.ClickedAt)
	assert.Equal(t, int64(2500), imp.Revenue)

	_, err = repo.MarkClicked(ctx, "missing", now)
	assert.True(t, core.IsNotFound(err))
}

func TestImpressionListSince(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryImpressionRepo()
	now := time.Now().UTC()

	for i, age := range []time.Duration{0, time.Hour, 48 * time.Hour} {
		require.NoError(t, repo.Insert(ctx, &models.Impression{
			ID:         string(rune('a' + i)),
			AdID:       "a1",
			CampaignID: "c1",
			ViewedAt:   now.Add(-age),
		}))
	}

	imps, err := repo.ListByAd(ctx, "a1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, imps, 2)

	imps, err = repo.ListByCampaign(ctx, "c1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, imps, 3)

	imps, err = repo.ListByAd(ctx, "unknown", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, imps)
}

func TestAdvertiserWalletFloor(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryAdvertiserRepo()
	require.NoError(t, repo.Insert(ctx, &models.Advertiser{
		ID:            "adv1",
		WalletBalance: 100,
	}))

	applied, err := repo.AddWalletBalance(ctx, "adv1", -60)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.AddWalletBalance(ctx, "adv1", -50)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.AddWalletBalance(ctx, "adv1", 10)
	require.NoError(t, err)
	assert.True(t, applied)

	a, err := repo.GetByID(ctx, "adv1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.WalletBalance)
}

func TestRepoReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCampaignRepo()
	require.NoError(t, repo.Insert(ctx, &models.Campaign{ID: "c1", Name: "launch"}))

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	c.Name = "mutated"

	again, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "launch", again.Name)
}
