package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/config"
	"github.com/adforge/adledger/internal/core"
	"github.com/adforge/adledger/internal/ledger"
	"github.com/adforge/adledger/internal/metrics"
	"github.com/adforge/adledger/internal/models"
	"github.com/adforge/adledger/internal/reporting"
	"github.com/adforge/adledger/internal/storage"
)

// Dependencies holds the wired services the server exposes.
type Dependencies struct {
	Engine      *ledger.Engine
	Aggregator  *reporting.Aggregator
	Campaigns   storage.CampaignRepo
	Ads         storage.AdRepo
	Advertisers storage.AdvertiserRepo
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Server is a thin HTTP surface over the ledger and reporting services.
type Server struct {
	engine      *ledger.Engine
	aggregator  *reporting.Aggregator
	campaigns   storage.CampaignRepo
	ads         storage.AdRepo
	advertisers storage.AdvertiserRepo
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		engine:      deps.Engine,
		aggregator:  deps.Aggregator,
		campaigns:   deps.Campaigns,
		ads:         deps.Ads,
		advertisers: deps.Advertisers,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if deps.Config != nil && deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Serving and event ingestion
	mux.HandleFunc("/v1/serve/", s.handleServe)
	mux.HandleFunc("/v1/events/click", s.handleClick)
	mux.HandleFunc("/v1/events/conversion", s.handleConversion)

	// Advertisers
	mux.HandleFunc("/v1/advertisers", s.handleAdvertisers)
	mux.HandleFunc("/v1/advertisers/", s.handleAdvertiserByID)

	// Campaigns
	mux.HandleFunc("/v1/campaigns", s.handleCampaigns)
	mux.HandleFunc("/v1/campaigns/", s.handleCampaignByID)

	// Advertisements
	mux.HandleFunc("/v1/ads", s.handleAds)
	mux.HandleFunc("/v1/ads/", s.handleAdByID)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Serving ----

func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	adID := strings.TrimPrefix(r.URL.Path, "/v1/serve/")
	if adID == "" {
		s.errorResponse(w, "ad id required", http.StatusBadRequest)
		return
	}

	var reqCtx models.RequestContext
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&reqCtx); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if reqCtx.IP == "" {
		reqCtx.IP = clientIP(r)
	}
	if reqCtx.UserAgent == "" {
		reqCtx.UserAgent = r.UserAgent()
	}

	start := time.Now()
	result, err := s.engine.RecordImpression(r.Context(), adID, reqCtx)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if s.metrics != nil {
		outcome := "rejected"
		if result.Accepted {
			outcome = "accepted"
		}
		s.metrics.RecordServe(reqCtx.DeviceType, outcome, time.Since(start))
	}
	s.jsonResponse(w, result)
}

// ---- Events ----

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	impressionID := r.URL.Query().Get("impression_id")
	if impressionID == "" {
		s.errorResponse(w, "impression_id required", http.StatusBadRequest)
		return
	}

	if err := s.engine.RecordClick(r.Context(), impressionID); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	impressionID := q.Get("impression_id")
	if impressionID == "" {
		s.errorResponse(w, "impression_id required", http.StatusBadRequest)
		return
	}

	var revenue int64
	if v := q.Get("revenue"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, "invalid revenue", http.StatusBadRequest)
			return
		}
		revenue = parsed
	}

	if err := s.engine.RecordConversion(r.Context(), impressionID, revenue); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// ---- Advertisers ----

func (s *Server) handleAdvertisers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	adv, err := s.engine.CreateAdvertiser(r.Context(), req.UserID, req.Name)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, adv)
}

func (s *Server) handleAdvertiserByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/advertisers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		adv, err := s.advertisers.GetByID(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, adv)

	case action == "topup" && r.Method == http.MethodPost:
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.engine.TopUpWallet(r.Context(), id, req.Amount); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "campaigns" && r.Method == http.MethodGet:
		list, err := s.campaigns.ListByAdvertiser(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, list)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Campaigns ----

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.engine.CreateCampaign(r.Context(), &c); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, c)
}

func (s *Server) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/campaigns/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		c, err := s.campaigns.GetByID(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, c)

	case action == "status" && r.Method == http.MethodPut:
		var req struct {
			Status models.CampaignStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.engine.UpdateCampaignStatus(r.Context(), id, req.Status); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "budget" && r.Method == http.MethodPut:
		var req struct {
			TotalBudget int64 `json:"total_budget"`
			DailyBudget int64 `json:"daily_budget"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.engine.UpdateBudget(r.Context(), id, req.TotalBudget, req.DailyBudget); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "budget/add" && r.Method == http.MethodPost:
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.engine.AddBudget(r.Context(), id, req.Amount); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "approve" && r.Method == http.MethodPost:
		if err := s.engine.ApproveCampaign(r.Context(), id); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "performance" && r.Method == http.MethodGet:
		report, err := s.aggregator.CampaignPerformance(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, report)

	case action == "analytics" && r.Method == http.MethodGet:
		start, end := parseDateRange(r)
		points, err := s.aggregator.CampaignAnalytics(r.Context(), id, start, end)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, points)

	case action == "ads" && r.Method == http.MethodGet:
		list, err := s.ads.ListByCampaign(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, list)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Advertisements ----

func (s *Server) handleAds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var a models.Advertisement
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.engine.CreateAd(r.Context(), &a); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, a)
}

func (s *Server) handleAdByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/ads/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		ad, err := s.ads.GetByID(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, ad)

	case action == "" && r.Method == http.MethodPut:
		var a models.Advertisement
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		a.ID = id
		if err := s.engine.UpdateAd(r.Context(), &a); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, a)

	case action == "status" && r.Method == http.MethodPut:
		var req struct {
			Status models.AdStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.engine.UpdateAdStatus(r.Context(), id, req.Status); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "approve" && r.Method == http.MethodPost:
		if err := s.engine.ApproveAd(r.Context(), id); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]string{"status": "ok"})

	case action == "performance" && r.Method == http.MethodGet:
		report, err := s.aggregator.AdPerformance(r.Context(), id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, report)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps the core error taxonomy onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case core.IsNotFound(err):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case core.IsValidation(err):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case core.IsBudgetExceeded(err) || errors.Is(err, core.ErrInsufficientFunds):
		s.errorResponse(w, err.Error(), http.StatusPaymentRequired)
	case core.IsConflict(err):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func parseDateRange(r *http.Request) (time.Time, time.Time) {
	var start, end time.Time
	if v := r.URL.Query().Get("start_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			end = t.AddDate(0, 0, 1)
		}
	}
	return start, end
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
