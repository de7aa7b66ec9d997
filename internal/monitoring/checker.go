package monitoring

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/config"
)

// Checker periodically collects a decision-layer snapshot and pushes
// threshold alerts. The serve command starts it next to the queue drain loop.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	// Check once immediately: a breaker that opened during startup should
	// not wait a full interval to surface.
	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	open := openBreakers(snap)
	log.Debug("monitoring: snapshot collected",
		zap.Int("records_total", snap.RecordsTotal),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("approval_rate", snap.ApprovalRate),
		zap.Int("queue_depth", snap.QueueDepth),
		zap.Int("approval_window_used", snap.ApprovalWindow),
		zap.Strings("open_breakers", open),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("monitoring: alerts raised",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Strings("open_breakers", open),
	)
}

// openBreakers returns the endpoints whose circuit is currently open,
// sorted for stable log output.
func openBreakers(snap *MetricsSnapshot) []string {
	var open []string
	for endpoint, h := range snap.Endpoints {
		if h.State == circuitOpenState {
			open = append(open, endpoint)
		}
	}
	sort.Strings(open)
	return open
}
