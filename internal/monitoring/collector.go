// Package monitoring summarizes recent analysis runs and raises alerts when
// they look unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of analysis health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`
	DegradedRate  float64 `json:"degraded_rate"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`

	ByIntent map[model.Intent]int `json:"by_intent,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs with a terminal status.
func (s *MetricsSnapshot) Finished() int {
	return s.RunsComplete + s.RunsFailed
}

// RunLister is the store capability the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from persisted runs.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		ByIntent:      make(map[model.Intent]int),
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var confidence float64
	var latency int64
	var degraded int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning, model.RunStatusQueued:
			snap.RunsRunning++
			continue
		}
		confidence += r.Confidence
		latency += r.LatencyMs
		if r.Degraded {
			degraded++
		}
		if r.Intent != "" {
			snap.ByIntent[r.Intent]++
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.DegradedRate = float64(degraded) / float64(finished)
		snap.AvgConfidence = confidence / float64(finished)
		snap.AvgLatencyMs = float64(latency) / float64(finished)
	}
	return snap, nil
}
