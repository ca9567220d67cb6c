package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

// mockRuns implements RunLister for testing.
type mockRuns struct {
	runs    []model.Run
	listErr error
	filter  store.RunFilter
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.filter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestCollector(runs RunLister) *Collector {
	c := NewCollector(runs)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	recent := fixedNow.Add(-time.Hour)
	st := &mockRuns{runs: []model.Run{
		{Status: model.RunStatusComplete, Intent: model.IntentSales, Confidence: 1.0, LatencyMs: 100, CreatedAt: recent},
		{Status: model.RunStatusComplete, Intent: model.IntentSales, Confidence: 0.85, Degraded: true, LatencyMs: 300, CreatedAt: recent},
		{Status: model.RunStatusFailed, Intent: model.IntentTrend, Confidence: 0, LatencyMs: 200, CreatedAt: recent},
		{Status: model.RunStatusRunning, CreatedAt: recent},
		{Status: model.RunStatusFailed, CreatedAt: fixedNow.Add(-48 * time.Hour)},
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 3, snap.Finished())
	assert.InDelta(t, 1.0/3, snap.FailRate, 1e-9)
	assert.InDelta(t, 1.0/3, snap.DegradedRate, 1e-9)
	assert.InDelta(t, 0.6166, snap.AvgConfidence, 1e-3)
	assert.InDelta(t, 200.0, snap.AvgLatencyMs, 1e-9)
	assert.Equal(t, 2, snap.ByIntent[model.IntentSales])
	assert.Equal(t, 1, snap.ByIntent[model.IntentTrend])
	assert.Equal(t, fixedNow.Add(-24*time.Hour), st.filter.CreatedAfter)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgConfidence)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&mockRuns{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
