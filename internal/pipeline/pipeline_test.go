package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/reasoning"
	"github.com/sells-group/insight-cli/internal/resilience"
)

const topSalesQuestion = "What were our top sales products last quarter?"

func catalogWith(sources []model.SourceDescriptor, err error) *mockCatalog {
	c := new(mockCatalog)
	c.On("ListSources", mock.Anything, "").Return(sources, err)
	return c
}

func salesReasoner() Reasoner {
	return reasonerFunc(func(_ context.Context, _ reasoning.Request) (*reasoning.Response, error) {
		return &reasoning.Response{Text: `{"summary":"Top products by sales","steps":[
			{"source_id":"powerbi:sales","query":"EVALUATE TOPN(10, SUMMARIZECOLUMNS('Sales'[Product]))","rationale":"rank products","aggregate":true}
		]}`}, nil
	})
}

func unorderedProducts() *model.RowSet {
	return &model.RowSet{
		Columns: []string{"Product", "Total Sales"},
		Rows:    [][]any{{"Gadget", 300.0}, {"Widget", 500.0}, {"Doohickey", 100.0}},
	}
}

func resilienceSingleAttempt() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 1, AttemptTimeout: 5 * time.Second}
}

func newTestPipeline(t *testing.T, deps Deps) *Pipeline {
	t.Helper()
	return New(config.PipelineConfig{}, deps, WithRetryPolicy(fastRetry()))
}

func TestAnalyze_TopSalesProducts(t *testing.T) {
	runner := newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
		return unorderedProducts(), nil
	})
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))

	assert.Equal(t, model.IntentSales, res.Intent)
	assert.True(t, res.Success)
	assert.False(t, res.Degraded)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.InDelta(t, 1.0, res.Confidence, 0.0001)

	var ranking *model.Insight
	for i := range res.Insights {
		if res.Insights[i].Kind == model.InsightRanking {
			ranking = &res.Insights[i]
		}
	}
	require.NotNil(t, ranking)
	require.Len(t, ranking.Entries, 3)
	assert.Equal(t, "Widget", ranking.Entries[0].Label)
	assert.Equal(t, "Gadget", ranking.Entries[1].Label)
	assert.Equal(t, "Doohickey", ranking.Entries[2].Label)

	assert.True(t, strings.HasPrefix(res.Response, "# Sales Performance Analysis"))
	assert.True(t, strings.HasPrefix(res.Window.Label, "last quarter"))
	assert.Contains(t, res.Sources, "powerbi:sales")
	assert.NotEmpty(t, res.ContextSummary)

	names := make([]string, len(res.Stages))
	for i, s := range res.Stages {
		names[i] = s.Name
	}
	assert.Equal(t, []string{StageClassify, StageCatalog, StageAssemble, StagePlan, StageExecute, StageExtract, StageFormat}, names)
	assert.Equal(t, 1, runner.callsFor("powerbi:sales"))
}

func TestAnalyze_NoSources(t *testing.T) {
	runner := newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
		t.Error("runner must not be called without sources")
		return nil, nil
	})
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith([]model.SourceDescriptor{}, nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))

	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Confidence)
	assert.NotEmpty(t, res.Response)
	assert.Contains(t, res.Response, NoDataAdvice)
	require.Len(t, res.Insights, 1)
	assert.Contains(t, res.Insights[0].Statement, NoDataStatement)
	require.NotNil(t, res.Plan)
	assert.Equal(t, []model.PlanState{model.PlanNotStarted, model.PlanDone}, res.Plan.States)
	assert.Zero(t, runner.calls.Load())
}

func TestAnalyze_MalformedPlanDegrades(t *testing.T) {
	runner := newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
		return productRows(), nil
	})
	reasoner := reasonerFunc(func(context.Context, reasoning.Request) (*reasoning.Response, error) {
		return &reasoning.Response{Text: "I'm sorry, I can't produce a plan for that."}, nil
	})
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: reasoner,
		Runner:   runner,
	})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))

	assert.True(t, res.HasCondition(model.ConditionPlanningDegraded))
	assert.True(t, res.Degraded)
	assert.True(t, res.Success)
	assert.Contains(t, res.Plan.States, model.PlanMalformed)
	assert.Contains(t, res.Plan.States, model.PlanFallbackBuilt)
	assert.InDelta(t, 0.85, res.Confidence, 0.0001)
	assert.NotEmpty(t, res.Plan.Steps)
}

func TestAnalyze_CatalogFailure(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Catalog: catalogWith(nil, errors.New("connection refused")),
		Runner: newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
			return productRows(), nil
		}),
	})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	assert.False(t, res.Success)
	assert.True(t, res.HasCondition(model.ConditionCatalogUnavailable))
	assert.NotEmpty(t, res.Response)
}

func TestAnalyze_CatalogPanicIsContained(t *testing.T) {
	c := new(mockCatalog)
	c.On("ListSources", mock.Anything, "").Run(func(mock.Arguments) { panic("boom") })
	p := newTestPipeline(t, Deps{Catalog: c})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	assert.False(t, res.Success)
	assert.Equal(t, model.IntentSales, res.Intent)
	assert.True(t, res.HasCondition(model.ConditionAllStepsFailed))
	assert.NotEmpty(t, res.Response)
}

func TestAnalyze_CachedResult(t *testing.T) {
	runner := newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
		return unorderedProducts(), nil
	})
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	})

	first := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	require.True(t, first.Success)
	calls := runner.calls.Load()

	second := p.Analyze(context.Background(), model.NewQuery("what were our TOP sales  products last quarter?", "", nil))
	assert.True(t, second.FromCache)
	assert.True(t, second.HasCondition(model.ConditionCacheHit))
	assert.False(t, first.HasCondition(model.ConditionCacheHit))
	assert.Equal(t, calls, runner.calls.Load())
	assert.Equal(t, first.Response, second.Response)

	third := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, model.DepthDeep, nil))
	assert.False(t, third.FromCache)
}

func TestAnalyze_Deadline(t *testing.T) {
	runner := newFakeRunner(func(ctx context.Context, _, _ string) (*model.RowSet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := config.PipelineConfig{Deadlines: config.DeadlineConfig{Standard: 1}}
	p := New(cfg, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	}, WithRetryPolicy(resilienceSingleAttempt()))

	start := time.Now()
	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Confidence)
	assert.True(t, res.HasCondition(model.ConditionDeadlineExceeded))
	require.NotEmpty(t, res.Insights)
	assert.Contains(t, res.Insights[0].Statement, "time budget")
	assert.Contains(t, res.Response, "ran out of time")

	again := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	assert.False(t, again.FromCache)
}

func TestAnalyze_CallerCancelIsNotDeadline(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	runner := newFakeRunner(func(ctx context.Context, _, _ string) (*model.RowSet, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return unorderedProducts(), nil
		}
	})
	p := New(config.PipelineConfig{}, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	}, WithRetryPolicy(resilienceSingleAttempt()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res := p.Analyze(ctx, model.NewQuery(topSalesQuestion, "", nil))

	assert.False(t, res.Success)
	assert.True(t, res.HasCondition(model.ConditionCanceled))
	assert.False(t, res.HasCondition(model.ConditionDeadlineExceeded))
	require.NotEmpty(t, res.Insights)
	assert.Contains(t, res.Insights[0].Statement, "canceled by the caller")
	assert.NotContains(t, res.Insights[0].Statement, "time budget")
	assert.Contains(t, res.Response, "was canceled")
}

func TestAnalyze_CachedResultIsIsolated(t *testing.T) {
	runner := newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
		return unorderedProducts(), nil
	})
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner:   runner,
	})

	first := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	require.True(t, first.Success)
	require.NotEmpty(t, first.Insights)
	require.NotEmpty(t, first.Results)
	wantStatement := first.Insights[0].Statement
	wantTrace := len(first.Trace)
	wantCell := first.Results[0].Rows.Rows[0][0]

	first.Insights[0].Statement = "mutated"
	first.Trace = append(first.Trace[:0], model.TraceEvent{Condition: model.ConditionStepFailed})
	first.Results[0].Rows.Rows[0][0] = "mutated"

	second := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	require.True(t, second.FromCache)
	assert.Equal(t, wantStatement, second.Insights[0].Statement)
	assert.Len(t, second.Trace, wantTrace+1)
	assert.False(t, second.HasCondition(model.ConditionStepFailed))
	assert.Equal(t, wantCell, second.Results[0].Rows.Rows[0][0])
}

func TestAnalyze_StatsAndReset(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner: newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
			return unorderedProducts(), nil
		}),
	})
	p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))

	empty := newTestPipeline(t, Deps{Catalog: catalogWith(nil, nil)})
	empty.Analyze(context.Background(), model.NewQuery("anything", "", nil))

	s := p.Stats()
	assert.Equal(t, int64(1), s.TotalAnalyses)
	assert.Equal(t, int64(1), s.SuccessfulAnalyses)
	assert.Equal(t, 1.0, s.SuccessRate)

	e := empty.Stats()
	assert.Equal(t, int64(1), e.TotalAnalyses)
	assert.Equal(t, int64(0), e.SuccessfulAnalyses)
	assert.Equal(t, 0.0, e.SuccessRate)

	p.ResetStats()
	assert.Equal(t, Stats{}, p.Stats())
}

func TestAnalyze_RecorderAndObserver(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	obs := &fakeObserver{}
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner: newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
			return unorderedProducts(), nil
		}),
		Recorder: rec,
		Observer: obs,
	})

	res := p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	assert.True(t, res.Success)
	require.Len(t, rec.runs, 1)
	assert.Same(t, res, rec.runs[0])
	assert.Equal(t, int32(1), obs.analyses.Load())
	assert.Equal(t, int32(1), obs.plans.Load())
	assert.Equal(t, int32(1), obs.steps.Load())
}

func TestAnalyze_HistoryRecorded(t *testing.T) {
	p := newTestPipeline(t, Deps{Catalog: catalogWith(testSources(), nil)})
	p.Analyze(context.Background(), model.NewQuery(topSalesQuestion, "", nil))
	assert.Equal(t, []string{topSalesQuestion}, p.History().Recent(5))
}

func TestAnalyze_Concurrent(t *testing.T) {
	p := newTestPipeline(t, Deps{
		Catalog:  catalogWith(testSources(), nil),
		Reasoner: salesReasoner(),
		Runner: newFakeRunner(func(context.Context, string, string) (*model.RowSet, error) {
			return unorderedProducts(), nil
		}),
	})

	var wg sync.WaitGroup
	results := make([]*model.AnalysisResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := fmt.Sprintf("top sales products in region %d last quarter", i)
			results[i] = p.Analyze(context.Background(), model.NewQuery(q, "", nil))
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Success)
	}
	assert.Equal(t, int64(8), p.Stats().TotalAnalyses)
}

func TestConfidence(t *testing.T) {
	ok := model.ExecutionResult{Success: true}
	bad := model.ExecutionResult{}
	primary := &model.ExecutionPlan{}
	degraded := &model.ExecutionPlan{Degraded: true}

	assert.Equal(t, 0.0, confidence(primary, nil))
	assert.Equal(t, 0.0, confidence(primary, []model.ExecutionResult{bad, bad}))
	assert.InDelta(t, 1.0, confidence(primary, []model.ExecutionResult{ok, ok}), 1e-9)
	assert.InDelta(t, 0.65, confidence(primary, []model.ExecutionResult{ok, bad}), 1e-9)
	assert.InDelta(t, 0.5, confidence(degraded, []model.ExecutionResult{ok, bad}), 1e-9)
}
