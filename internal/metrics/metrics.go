package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ad ledger.
type Metrics struct {
	// Serving metrics
	ImpressionRequests *prometheus.CounterVec
	Impressions        *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
	ServeLatency       *prometheus.HistogramVec

	// Event metrics
	Clicks      *prometheus.CounterVec
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec

	// Accrual metrics
	Charges          *prometheus.CounterVec
	ChargeFailures   *prometheus.CounterVec
	BudgetUsage      *prometheus.GaugeVec
	BudgetAlerts     *prometheus.CounterVec
	WalletRejections *prometheus.CounterVec

	// Lifecycle metrics
	SweepTransitions *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec

	// System metrics
	ActiveCampaigns prometheus.Gauge
	ActiveAds       prometheus.Gauge
	DBConnections   *prometheus.GaugeVec
	GeoLookupErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ImpressionRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_requests_total",
				Help:      "Total serve attempts received",
			},
			[]string{"device_type"},
		),
		Impressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impressions_total",
				Help:      "Accepted impressions",
			},
			[]string{"campaign_id", "ad_id"},
		),
		Rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_rejections_total",
				Help:      "Rejected serve attempts by reason",
			},
			[]string{"reason"},
		),
		ServeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "serve_latency_seconds",
				Help:      "Impression recording latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"outcome"},
		),

		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total clicks",
			},
			[]string{"campaign_id", "ad_id"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total conversions",
			},
			[]string{"campaign_id", "ad_id"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_kobo_total",
				Help:      "Attributed conversion revenue in kobo",
			},
			[]string{"campaign_id"},
		),

		Charges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "charges_kobo_total",
				Help:      "Cost accrued in kobo by event type",
			},
			[]string{"campaign_id", "event"},
		),
		ChargeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "charge_failures_total",
				Help:      "Charges refused by a budget ceiling",
			},
			[]string{"ceiling"},
		),
		BudgetUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_usage_percent",
				Help:      "Total budget usage percentage",
			},
			[]string{"campaign_id"},
		),
		BudgetAlerts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_alerts_total",
				Help:      "Budget threshold alerts emitted",
			},
			[]string{"entity", "threshold"},
		),
		WalletRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_rejections_total",
				Help:      "Operations refused for insufficient wallet balance",
			},
			[]string{"operation"},
		),

		SweepTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_transitions_total",
				Help:      "Lifecycle transitions applied by the scheduler",
			},
			[]string{"entity", "to"},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Scheduler sweep duration",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"sweep"},
		),

		ActiveCampaigns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_campaigns",
				Help:      "Number of active campaigns",
			},
		),
		ActiveAds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_ads",
				Help:      "Number of active advertisements",
			},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"},
		),
		GeoLookupErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geo_lookup_errors_total",
				Help:      "Failed GeoIP lookups",
			},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordImpression records an accepted impression.
func (m *Metrics) RecordImpression(campaignID, adID string) {
	m.Impressions.WithLabelValues(campaignID, adID).Inc()
}

// RecordRejection records a rejected serve attempt.
func (m *Metrics) RecordRejection(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

// RecordServe records a serve attempt outcome with latency.
func (m *Metrics) RecordServe(deviceType, outcome string, latency time.Duration) {
	if deviceType == "" {
		deviceType = "unknown"
	}
	m.ImpressionRequests.WithLabelValues(deviceType).Inc()
	m.ServeLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordClick records a click.
func (m *Metrics) RecordClick(campaignID, adID string) {
	m.Clicks.WithLabelValues(campaignID, adID).Inc()
}

// RecordConversion records a conversion and any attributed revenue.
func (m *Metrics) RecordConversion(campaignID, adID string, revenue int64) {
	m.Conversions.WithLabelValues(campaignID, adID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(campaignID).Add(float64(revenue))
	}
}

// RecordCharge records an applied charge.
func (m *Metrics) RecordCharge(campaignID, event string, amount int64) {
	m.Charges.WithLabelValues(campaignID, event).Add(float64(amount))
}

// RecordChargeFailure records a charge refused by a ceiling.
func (m *Metrics) RecordChargeFailure(ceiling string) {
	m.ChargeFailures.WithLabelValues(ceiling).Inc()
}

// RecordBudgetUsage updates the usage gauge for a campaign.
func (m *Metrics) RecordBudgetUsage(campaignID string, pct float64) {
	m.BudgetUsage.WithLabelValues(campaignID).Set(pct)
}

// RecordBudgetAlert records an emitted threshold alert.
func (m *Metrics) RecordBudgetAlert(entity, threshold string) {
	m.BudgetAlerts.WithLabelValues(entity, threshold).Inc()
}

// RecordWalletRejection records an insufficient-funds rejection.
func (m *Metrics) RecordWalletRejection(operation string) {
	m.WalletRejections.WithLabelValues(operation).Inc()
}

// RecordSweepTransition records a lifecycle transition from a sweep.
func (m *Metrics) RecordSweepTransition(entity, to string) {
	m.SweepTransitions.WithLabelValues(entity, to).Inc()
}

// RecordSweepDuration records how long a sweep took.
func (m *Metrics) RecordSweepDuration(sweep string, d time.Duration) {
	m.SweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// UpdateActiveCounts updates active entity gauges.
func (m *Metrics) UpdateActiveCounts(campaigns, ads int) {
	m.ActiveCampaigns.Set(float64(campaigns))
	m.ActiveAds.Set(float64(ads))
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
