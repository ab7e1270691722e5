// Package notify delivers advertiser-facing alerts. Delivery is
// fire-and-forget: a failed or slow sink never blocks the caller.
package notify

import (
	"go.uber.org/zap"
)

// BudgetAlert describes a budget-usage threshold crossing.
type BudgetAlert struct {
	Entity    string // "campaign" or "advertisement"
	EntityID  string
	Name      string
	Ceiling   string // "daily" or "total"
	Threshold int    // percent, e.g. 90
	UsagePct  float64
	Spent     int64
	Budget    int64
}

// WalletAlert reports an advertiser balance dropping under the floor.
type WalletAlert struct {
	AdvertiserID string
	Name         string
	Balance      int64
	Floor        int64
}

// LifecycleEvent describes an automatic status transition.
type LifecycleEvent struct {
	Entity   string
	EntityID string
	Name     string
	From     string
	To       string
	Reason   string
}

// Sink receives alerts. Implementations must not block.
type Sink interface {
	BudgetAlert(alert BudgetAlert)
	WalletAlert(alert WalletAlert)
	LifecycleEvent(event LifecycleEvent)
}

// LogSink writes alerts to the structured log. It stands in for a real
// delivery channel (email, webhook) in deployments that have none.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) BudgetAlert(alert BudgetAlert) {
	s.logger.Warn("budget alert",
		zap.String("entity", alert.Entity),
		zap.String("entity_id", alert.EntityID),
		zap.String("name", alert.Name),
		zap.String("ceiling", alert.Ceiling),
		zap.Int("threshold_pct", alert.Threshold),
		zap.Float64("usage_pct", alert.UsagePct),
		zap.Int64("spent", alert.Spent),
		zap.Int64("budget", alert.Budget),
	)
}

func (s *LogSink) WalletAlert(alert WalletAlert) {
	s.logger.Warn("wallet balance low",
		zap.String("advertiser_id", alert.AdvertiserID),
		zap.String("name", alert.Name),
		zap.Int64("balance", alert.Balance),
		zap.Int64("floor", alert.Floor),
	)
}

func (s *LogSink) LifecycleEvent(event LifecycleEvent) {
	s.logger.Info("lifecycle transition",
		zap.String("entity", event.Entity),
		zap.String("entity_id", event.EntityID),
		zap.String("name", event.Name),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.String("reason", event.Reason),
	)
}

// NopSink discards all alerts.
type NopSink struct{}

func (NopSink) BudgetAlert(BudgetAlert)       {}
func (NopSink) WalletAlert(WalletAlert)       {}
func (NopSink) LifecycleEvent(LifecycleEvent) {}
