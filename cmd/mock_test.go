package main

import (
	"context"
	"sync"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/store"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	queries []model.Query
	stats   pipeline.Stats
}

func (f *fakeAnalyzer) Analyze(_ context.Context, q model.Query) *model.AnalysisResult {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return &model.AnalysisResult{
		Query:      q,
		Intent:     model.IntentSales,
		Response:   "# Sales Performance Analysis",
		Success:    true,
		Confidence: 0.85,
		Degraded:   true,
	}
}

func (f *fakeAnalyzer) Stats() pipeline.Stats { return f.stats }

func (f *fakeAnalyzer) last() model.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type fakeSources struct {
	sources []model.SourceDescriptor
	err     error
	scope   string
}

func (f *fakeSources) ListSources(_ context.Context, scope string) ([]model.SourceDescriptor, error) {
	f.scope = scope
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

type fakeRuns struct {
	runs   map[string]*model.Run
	list   []model.Run
	err    error
	filter store.RunFilter
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*model.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

type fakeBreakers []resilience.Snapshot

func (f fakeBreakers) Breakers() []resilience.Snapshot { return f }
