package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/resilience"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultLookbackHours = 24
)

// BreakerSource reports dependency circuit states, typically the catalog
// router.
type BreakerSource interface {
	Breakers() []resilience.Snapshot
}

// Checker evaluates run health on an interval and posts alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	breakers  BreakerSource
	interval  time.Duration
	lookback  int
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithBreakerSource adds open-circuit alerts for the given dependencies.
func WithBreakerSource(b BreakerSource) CheckerOption {
	return func(c *Checker) { c.breakers = b }
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
	}
	if c.interval <= 0 {
		c.interval = defaultCheckInterval
	}
	if c.lookback <= 0 {
		c.lookback = defaultLookbackHours
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run checks once per interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: run health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: run health checker stopped")
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates the current window and breaker states, sends what fired,
// and returns the number of alerts raised.
func (c *Checker) Check(ctx context.Context) int {
	var alerts []Alert

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: collect run metrics", zap.Error(err))
	} else {
		alerts = append(alerts, c.alerter.Evaluate(snap)...)
	}
	if c.breakers != nil {
		alerts = append(alerts, c.alerter.EvaluateBreakers(c.breakers.Breakers())...)
	}

	if len(alerts) == 0 {
		return 0
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: health check raised alerts",
		zap.Int("raised", len(alerts)),
		zap.Int("sent", sent),
	)
	return len(alerts)
}
