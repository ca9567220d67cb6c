package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/reasoning"
)

// --- Catalog Mock ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SourceDescriptor), args.Error(1)
}

// --- Reasoner Mock ---

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Complete(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reasoning.Response), args.Error(1)
}

// reasonerFunc adapts a function to Reasoner.
type reasonerFunc func(ctx context.Context, req reasoning.Request) (*reasoning.Response, error)

func (f reasonerFunc) Complete(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	return f(ctx, req)
}

// --- Query Runner Fake ---

// fakeRunner answers queries from a function and counts calls per source.
type fakeRunner struct {
	fn    func(ctx context.Context, sourceID, query string) (*model.RowSet, error)
	calls atomic.Int32

	mu       sync.Mutex
	bySource map[string]int
}

func newFakeRunner(fn func(ctx context.Context, sourceID, query string) (*model.RowSet, error)) *fakeRunner {
	return &fakeRunner{fn: fn, bySource: make(map[string]int)}
}

func (f *fakeRunner) RunQuery(ctx context.Context, sourceID, query string) (*model.RowSet, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.bySource[sourceID]++
	f.mu.Unlock()
	return f.fn(ctx, sourceID, query)
}

func (f *fakeRunner) callsFor(sourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySource[sourceID]
}

// --- Recorder / Observer Fakes ---

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*model.AnalysisResult
	err  error
}

func (f *fakeRecorder) RecordRun(_ context.Context, r *model.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return f.err
}

type fakeObserver struct {
	steps    atomic.Int32
	plans    atomic.Int32
	analyses atomic.Int32
}

func (f *fakeObserver) ObserveStep(model.ExecutionResult)     { f.steps.Add(1) }
func (f *fakeObserver) ObservePlan(*model.ExecutionPlan)      { f.plans.Add(1) }
func (f *fakeObserver) ObserveAnalysis(*model.AnalysisResult) { f.analyses.Add(1) }
