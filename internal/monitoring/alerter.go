package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "analysis_failure_rate"
	AlertLowConfidence AlertType = "analysis_low_confidence"
	AlertDegradedRate  AlertType = "planning_degraded_rate"
	AlertCircuitOpen   AlertType = "dependency_circuit_open"
)

// Rates are not judged on fewer finished runs than this.
const minFinishedRuns = 5

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rateRule compares one snapshot figure against one configured threshold.
type rateRule struct {
	typ       AlertType
	severity  string
	threshold func(config.MonitoringConfig) float64
	value     func(*MetricsSnapshot) float64
	// below flips the comparison for figures that should stay high.
	below   bool
	message func(s *MetricsSnapshot, limit float64) string
}

var rateRules = []rateRule{
	{
		typ:       AlertFailureRate,
		severity:  "high",
		threshold: func(c config.MonitoringConfig) float64 { return c.FailureRateThreshold },
		value:     func(s *MetricsSnapshot) float64 { return s.FailRate },
		message: func(s *MetricsSnapshot, limit float64) string {
			return fmt.Sprintf("Analysis failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				s.FailRate*100, limit*100, s.RunsFailed, s.Finished(), s.LookbackHours)
		},
	},
	{
		typ:       AlertLowConfidence,
		severity:  "medium",
		threshold: func(c config.MonitoringConfig) float64 { return c.MinAvgConfidence },
		value:     func(s *MetricsSnapshot) float64 { return s.AvgConfidence },
		below:     true,
		message: func(s *MetricsSnapshot, limit float64) string {
			return fmt.Sprintf("Average confidence %.2f is below %.2f across %d runs in last %dh",
				s.AvgConfidence, limit, s.Finished(), s.LookbackHours)
		},
	},
	{
		typ:       AlertDegradedRate,
		severity:  "medium",
		threshold: func(c config.MonitoringConfig) float64 { return c.DegradedRateThreshold },
		value:     func(s *MetricsSnapshot) float64 { return s.DegradedRate },
		message: func(s *MetricsSnapshot, _ float64) string {
			return fmt.Sprintf("%.1f%% of analyses fell back to template plans in last %dh; check the reasoning provider",
				s.DegradedRate*100, s.LookbackHours)
		},
	},
}

func (r rateRule) breached(cfg config.MonitoringConfig, s *MetricsSnapshot) (float64, bool) {
	limit := r.threshold(cfg)
	if limit <= 0 {
		return limit, false
	}
	v := r.value(s)
	if r.below {
		return limit, v < limit
	}
	return limit, v > limit
}

// Alerter turns snapshots into alerts and posts them to a webhook. An alert
// type that was delivered within the cooldown is not sent again.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryPolicy

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	now      func() time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, JitterFraction: 0.2},
		lastSent: make(map[AlertType]time.Time),
		now:      time.Now,
	}
}

// Evaluate returns the alerts whose thresholds snap breaches. Thresholds of
// zero are disabled.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	if snap.Finished() < minFinishedRuns {
		return nil
	}

	now := a.now().UTC()
	var alerts []Alert
	for _, r := range rateRules {
		limit, hit := r.breached(a.cfg, snap)
		if !hit {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     r.typ,
			Severity: r.severity,
			Message:  r.message(snap, limit),
			Details: map[string]any{
				"value":     r.value(snap),
				"threshold": limit,
				"finished":  snap.Finished(),
			},
			Timestamp: now,
		})
	}
	return alerts
}

// EvaluateBreakers raises one alert naming every dependency whose circuit is
// open. Breakers need no minimum sample.
func (a *Alerter) EvaluateBreakers(snaps []resilience.Snapshot) []Alert {
	var open []string
	for _, s := range snaps {
		if s.State == resilience.CircuitOpen {
			open = append(open, s.Name)
		}
	}
	if len(open) == 0 {
		return nil
	}
	return []Alert{{
		Type:      AlertCircuitOpen,
		Severity:  "high",
		Message:   fmt.Sprintf("Circuit open for %s; queries to it fail fast", strings.Join(open, ", ")),
		Details:   map[string]any{"dependencies": open},
		Timestamp: a.now().UTC(),
	}}
}

// SendAlerts posts alerts to the webhook and returns how many were
// delivered. Alerts inside their cooldown are skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		if a.cooling(alert.Type) {
			log.Debug("monitoring: alert suppressed by cooldown")
			continue
		}
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("monitoring: failed to send alert", zap.Error(err))
			continue
		}
		a.markSent(alert.Type)
		log.Info("monitoring: alert sent")
		sent++
	}
	return sent
}

func (a *Alerter) cooldown() time.Duration {
	return time.Duration(a.cfg.CooldownMins) * time.Minute
}

func (a *Alerter) cooling(t AlertType) bool {
	cd := a.cooldown()
	if cd <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < cd
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	a.lastSent[t] = a.now()
	a.mu.Unlock()
}

// post delivers one alert. 5xx and 429 responses are transient.
func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 400 {
		return nil
	}
	err = eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}
