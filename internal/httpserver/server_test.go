package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adledger/internal/ledger"
	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/reporting"
	"github.com/adforge/adledger/internal/storage"
)

func newTestServer(t *testing.T) (http.Handler, *storage.InMemoryCampaignRepo, *storage.InMemoryAdRepo, *storage.InMemoryAdvertiserRepo) {
	t.Helper()

	campaigns := storage.NewInMemoryCampaignRepo()
	ads := storage.NewInMemoryAdRepo()
	impressions := storage.NewInMemoryImpressionRepo()
	advertisers := storage.NewInMemoryAdvertiserRepo()

	engine := ledger.NewEngine(ledger.Config{
		Campaigns:   campaigns,
		Ads:         ads,
		Impressions: impressions,
		Advertisers: advertisers,
	})
	aggregator := reporting.NewAggregator(campaigns, ads, impressions, advertisers, nil, time.Minute, nil)

	handler := NewServer(&Dependencies{
		Engine:      engine,
		Aggregator:  aggregator,
		Campaigns:   campaigns,
		Ads:         ads,
		Advertisers: advertisers,
	})
	return handler, campaigns, ads, advertisers
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCampaignWorkflowOverHTTP(t *testing.T) {
	handler, _, _, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/v1/advertisers",
		map[string]string{"user_id": "u1", "name": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	var adv models.Advertiser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &adv))
	require.NotEmpty(t, adv.ID)

	rec = doJSON(t, handler, http.MethodPost, "/v1/advertisers/"+adv.ID+"/topup",
		map[string]int64{"amount": 50_000})
	require.Equal(t, http.StatusOK, rec.Code)

	now := time.Now().UTC()
	rec = doJSON(t, handler, http.MethodPost, "/v1/campaigns", models.Campaign{
		AdvertiserID: adv.ID,
		Name:         "launch",
		TotalBudget:  20_000,
		StartDate:    now.Add(-time.Hour),
		EndDate:      now.Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var c models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, models.CampaignStatusDraft, c.Status)

	// A campaign the wallet cannot cover comes back 402.
	rec = doJSON(t, handler, http.MethodPost, "/v1/campaigns", models.Campaign{
		AdvertiserID: adv.ID,
		Name:         "too-big",
		TotalBudget:  1_000_000,
		StartDate:    now,
		EndDate:      now.Add(24 * time.Hour),
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/campaigns/"+c.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, handler, http.MethodPut, "/v1/campaigns/"+c.ID+"/status",
		map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)

	// An invalid transition comes back 400.
	rec = doJSON(t, handler, http.MethodPut, "/v1/campaigns/"+c.ID+"/status",
		map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/campaigns/"+c.ID+"/budget/add",
		map[string]int64{"amount": 5_000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/v1/campaigns/"+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, int64(25_000), c.TotalBudget)
}

func TestServeAndEventsOverHTTP(t *testing.T) {
	handler, campaigns, ads, _ := newTestServer(t)
	now := time.Now().UTC()

	require.NoError(t, campaigns.Insert(context.Background(), &models.Campaign{
		ID:          "camp-1",
		Status:      models.CampaignStatusActive,
		TotalBudget: 100_000,
		StartDate:   now.Add(-time.Hour),
		EndDate:     now.Add(24 * time.Hour),
		Approved:    true,
	}))
	require.NoError(t, ads.Insert(context.Background(), &models.Advertisement{
		ID:          "ad-1",
		CampaignID:  "camp-1",
		Status:      models.AdStatusActive,
		BiddingType: models.BiddingCPC,
		BidAmount:   500,
		TotalBudget: 50_000,
		StartDate:   now.Add(-time.Hour),
		EndDate:     now.Add(24 * time.Hour),
		Approved:    true,
	}))

	rec := doJSON(t, handler, http.MethodPost, "/v1/serve/ad-1",
		models.RequestContext{ViewerID: "v1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Accepted     bool   `json:"accepted"`
		ImpressionID string `json:"impression_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Accepted)
	require.NotEmpty(t, result.ImpressionID)

	rec = doJSON(t, handler, http.MethodPost,
		"/v1/events/click?impression_id="+result.ImpressionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/events/conversion?impression_id=%s&revenue=2500", result.ImpressionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := campaigns.GetByID(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), c.SpentAmount)

	// Unknown impression id maps to 404.
	rec = doJSON(t, handler, http.MethodPost, "/v1/events/click?impression_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Serving an unknown ad maps to 404, missing id to 400.
	rec = doJSON(t, handler, http.MethodPost, "/v1/serve/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, handler, http.MethodPost, "/v1/serve/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Performance reads work through the same surface.
	rec = doJSON(t, handler, http.MethodGet, "/v1/ads/ad-1/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report reporting.AdReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(1), report.Impressions)
	assert.Equal(t, int64(1), report.Clicks)
	assert.Equal(t, int64(500), report.Spend)
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _, _, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodDelete, "/v1/campaigns", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
