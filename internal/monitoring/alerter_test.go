package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/resilience"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:  0.10,
		MinAvgConfidence:      0.4,
		DegradedRateThreshold: 0.8,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     100,
		RunsComplete:  95,
		RunsFailed:    5,
		FailRate:      0.05,
		AvgConfidence: 0.9,
		DegradedRate:  0.1,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		FailRate:      0.4,
		AvgConfidence: 0.6,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "8 failed / 20 finished")
}

func TestAlerter_Evaluate_LowConfidence(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		RunsComplete:  10,
		AvgConfidence: 0.25,
		LookbackHours: 6,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowConfidence, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "0.25")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		RunsComplete:  5,
		RunsFailed:    5,
		FailRate:      0.5,
		AvgConfidence: 0.3,
		DegradedRate:  0.9,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertFailureRate])
	assert.True(t, types[AlertLowConfidence])
	assert.True(t, types[AlertDegradedRate])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	// Only 3 finished runs, below the minimum sample.
	snap := &MetricsSnapshot{
		RunsComplete:  1,
		RunsFailed:    2,
		FailRate:      0.666,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := &MetricsSnapshot{RunsFailed: 10, FailRate: 1, DegradedRate: 1}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertLowConfidence, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry = fastRetry()
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}})
	assert.Equal(t, 0, sent)
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestAlerter_SendAlerts_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry = fastRetry()

	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertDegradedRate}}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry = fastRetry()

	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertDegradedRate}}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_SendAlerts_Cooldown(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL, CooldownMins: 30})
	a.now = func() time.Time { return now }
	alerts := []Alert{{Type: AlertFailureRate}}

	assert.Equal(t, 1, a.SendAlerts(context.Background(), alerts))
	now = now.Add(10 * time.Minute)
	assert.Equal(t, 0, a.SendAlerts(context.Background(), alerts))
	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertLowConfidence}}))
	now = now.Add(31 * time.Minute)
	assert.Equal(t, 1, a.SendAlerts(context.Background(), alerts))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_EvaluateBreakers(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	assert.Empty(t, a.EvaluateBreakers(nil))
	assert.Empty(t, a.EvaluateBreakers([]resilience.Snapshot{{Name: "powerbi", State: resilience.CircuitHalfOpen}}))

	alerts := a.EvaluateBreakers([]resilience.Snapshot{
		{Name: "powerbi", State: resilience.CircuitOpen},
		{Name: "reasoning:anthropic", State: resilience.CircuitOpen},
		{Name: "warehouse", State: resilience.CircuitClosed},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "powerbi, reasoning:anthropic")
	assert.NotContains(t, alerts[0].Message, "warehouse")
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}}))
}
