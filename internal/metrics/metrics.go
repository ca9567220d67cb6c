// Package metrics exports pipeline activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/insight-cli/internal/model"
)

const namespace = "insight"

// Metrics implements pipeline.Observer on top of Prometheus collectors.
//
// Exported series:
//   - insight_analyses_total{intent,outcome}
//   - insight_analysis_duration_seconds{depth}
//   - insight_analysis_confidence
//   - insight_trace_conditions_total{condition}
//   - insight_plans_total{final_state,degraded}
//   - insight_steps_total{result}
//   - insight_step_duration_seconds
//   - insight_reasoning_tokens_total{model,direction}
//   - insight_reasoning_cost_usd_total{model}
type Metrics struct {
	gatherer prometheus.Gatherer

	analyses   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	confidence prometheus.Histogram
	conditions *prometheus.CounterVec
	plans      *prometheus.CounterVec
	steps      *prometheus.CounterVec
	stepTime   prometheus.Histogram
	tokens     *prometheus.CounterVec
	costUSD    *prometheus.CounterVec
}

// New registers the pipeline metrics with reg. A nil reg uses a fresh
// registry, which keeps repeated construction in tests from colliding.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyses answered, by intent and outcome.",
		}, []string{"intent", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analysis latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"depth"}),
		confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_confidence",
			Help:      "Confidence of answered analyses.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		conditions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_conditions_total",
			Help:      "Non-fatal conditions recorded in analysis traces.",
		}, []string{"condition"}),
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Execution plans built, by final planner state.",
		}, []string{"final_state", "degraded"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Plan steps executed, by result (ok, cached or an error tag).",
		}, []string{"result"}),
		stepTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Plan step latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_tokens_total",
			Help:      "Planning tokens consumed, by model and direction (input or output).",
		}, []string{"model", "direction"}),
		costUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_cost_usd_total",
			Help:      "Estimated planning spend in USD.",
		}, []string{"model"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveStep records one executed plan step.
func (m *Metrics) ObserveStep(r model.ExecutionResult) {
	result := "ok"
	switch {
	case !r.Success:
		result = r.ErrorTag
	case r.FromCache:
		result = "cached"
	}
	m.steps.WithLabelValues(result).Inc()
	m.stepTime.Observe(msToSeconds(r.LatencyMs))
}

// ObservePlan records a finished plan.
func (m *Metrics) ObservePlan(p *model.ExecutionPlan) {
	if p == nil {
		return
	}
	m.plans.WithLabelValues(string(p.Final()), strconv.FormatBool(p.Degraded)).Inc()
}

// ObserveAnalysis records a finished analysis, including cache hits.
func (m *Metrics) ObserveAnalysis(r *model.AnalysisResult) {
	if r == nil {
		return
	}
	outcome := "failure"
	switch {
	case r.FromCache:
		outcome = "cached"
	case r.Success:
		outcome = "success"
	}
	m.analyses.WithLabelValues(string(r.Intent), outcome).Inc()
	if r.FromCache {
		return
	}
	m.duration.WithLabelValues(string(r.Query.Depth)).Observe(msToSeconds(r.LatencyMs))
	m.confidence.Observe(r.Confidence)
	for _, ev := range r.Trace {
		m.conditions.WithLabelValues(string(ev.Condition)).Inc()
	}
}

// ObserveReasoning records token usage and estimated cost of one planning
// call.
func (m *Metrics) ObserveReasoning(model string, inputTokens, outputTokens int64, usd float64) {
	m.tokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.tokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if usd > 0 {
		m.costUSD.WithLabelValues(model).Add(usd)
	}
}

func msToSeconds(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}
