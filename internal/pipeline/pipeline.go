// Package pipeline turns a natural-language business question into a
// formatted answer: classify, assemble context, plan, execute, extract
// insights and format.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/cache"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Stage names used in StageResult and TraceEvent.
const (
	StageClassify = "classify"
	StageCatalog  = "catalog"
	StageAssemble = "assemble"
	StagePlan     = "plan"
	StageExecute  = "execute"
	StageExtract  = "extract"
	StageFormat   = "format"
)

const (
	primaryPathScore  = 1.0
	degradedPathScore = 0.5
	recordTimeout     = 5 * time.Second
)

// Catalog lists the sources available to a request.
type Catalog interface {
	ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error)
}

// RunRecorder persists finished analyses.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *model.AnalysisResult) error
}

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	ObserveStep(result model.ExecutionResult)
	ObservePlan(plan *model.ExecutionPlan)
	ObserveAnalysis(result *model.AnalysisResult)
}

// Caches are the cross-request caches. They are the only state shared
// between concurrent analyses.
type Caches struct {
	Analysis  *cache.TTL[*model.AnalysisResult]
	Relevance *cache.TTL[[]model.RelevanceScore]
	Execution *cache.TTL[*model.RowSet]
}

// NewCaches builds caches with the configured TTLs.
func NewCaches(cfg config.CacheConfig) *Caches {
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return &Caches{
		Analysis:  cache.New[*model.AnalysisResult](secs(cfg.AnalysisTTLSecs)),
		Relevance: cache.New[[]model.RelevanceScore](secs(cfg.RelevanceTTLSecs)),
		Execution: cache.New[*model.RowSet](secs(cfg.ExecutionTTLSecs)),
	}
}

// Deps are the collaborators a Pipeline calls.
type Deps struct {
	Catalog  Catalog
	Reasoner Reasoner
	Runner   QueryRunner
	Recorder RunRecorder
	Observer Observer
	Caches   *Caches
}

// Stats summarizes analyses since start or the last reset.
type Stats struct {
	TotalAnalyses      int64   `json:"total_analyses"`
	SuccessfulAnalyses int64   `json:"successful_analyses"`
	SuccessRate        float64 `json:"success_rate"`
	AverageLatencyMs   float64 `json:"average_execution_time_ms"`
	TotalLatencyMs     int64   `json:"total_execution_time_ms"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIntentRules replaces the classification table.
func WithIntentRules(rules []IntentRule) Option {
	return func(p *Pipeline) { p.rules = rules }
}

// WithPlannerOptions configures the planner.
func WithPlannerOptions(opts ...PlannerOption) Option {
	return func(p *Pipeline) { p.plannerOpts = append(p.plannerOpts, opts...) }
}

// WithRetryPolicy overrides the query retry policy built from config.
func WithRetryPolicy(rp resilience.RetryPolicy) Option {
	return func(p *Pipeline) { p.retry = &rp }
}

// Pipeline coordinates one analysis per Analyze call. It is safe for
// concurrent use.
type Pipeline struct {
	cfg       config.PipelineConfig
	catalog   Catalog
	recorder  RunRecorder
	observer  Observer
	caches    *Caches
	history   *History
	formatter *Formatter

	classifier *Classifier
	assembler  *Assembler
	planner    *Planner
	executor   *Executor

	rules       []IntentRule
	plannerOpts []PlannerOption
	retry       *resilience.RetryPolicy

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		catalog:   deps.Catalog,
		recorder:  deps.Recorder,
		observer:  deps.Observer,
		caches:    deps.Caches,
		history:   NewHistory(cfg.HistorySize),
		formatter: NewFormatter(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.caches == nil {
		p.caches = NewCaches(cfg.Cache)
	}

	rp := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier, cfg.Retry.JitterFraction, cfg.StepTimeout())
	if p.retry != nil {
		rp = *p.retry
	}
	if rp.OnRetry == nil {
		rp.OnRetry = resilience.RetryLogger("catalog", "run_query")
	}

	p.classifier = NewClassifier(p.rules)
	p.assembler = NewAssembler(p.classifier, NewRanker(cfg.TopK, p.caches.Relevance), p.history)
	p.planner = NewPlanner(deps.Reasoner, p.plannerOpts...)
	p.executor = NewExecutor(deps.Runner, p.caches.Execution, rp, cfg.FanOut)
	p.executor.observer = deps.Observer
	return p
}

// Stats returns a snapshot of analysis statistics.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// ResetStats clears analysis statistics.
func (p *Pipeline) ResetStats() {
	p.statsMu.Lock()
	p.stats = Stats{}
	p.statsMu.Unlock()
}

// History returns the recent-query history.
func (p *Pipeline) History() *History { return p.history }

// Analyze answers a query. It never fails: every problem is recorded in the
// result trace and reflected in Success and Confidence. It returns within
// the depth's deadline plus a small overhead.
func (p *Pipeline) Analyze(ctx context.Context, q model.Query) *model.AnalysisResult {
	start := time.Now()
	if q.Depth == "" {
		q.Depth = model.DepthStandard
	}
	log := zap.L().With(zap.String("depth", string(q.Depth)))

	key := analysisKey(q)
	if cached, ok := p.caches.Analysis.Get(key); ok {
		res := cached.Clone()
		res.FromCache = true
		res.LatencyMs = time.Since(start).Milliseconds()
		res.Trace = append(res.Trace, model.TraceEvent{
			Stage: StageClassify, Condition: model.ConditionCacheHit, At: time.Now(),
		})
		p.finish(ctx, res)
		log.Info("pipeline: analysis served from cache", zap.String("intent", string(res.Intent)))
		return res
	}

	deadline := p.cfg.Deadlines.For(string(q.Depth))
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	st := &runState{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error("pipeline: analysis panicked", zap.Any("panic", r))
				st.addTrace(st.currentStage(), model.ConditionAllStepsFailed, fmt.Sprintf("internal error: %v", r))
			}
		}()
		p.run(runCtx, q, st)
	}()

	stop := stopNone
	select {
	case <-done:
	case <-runCtx.Done():
		stop = stopDeadline
		if errors.Is(ctx.Err(), context.Canceled) {
			stop = stopCanceled
		}
	}

	out := st.freeze()
	res := p.buildResult(q, out, stop, deadline)
	formatStart := time.Now()
	res.LatencyMs = time.Since(start).Milliseconds()
	res.Response = p.formatter.Format(res)
	res.Stages = append(res.Stages, model.StageResult{
		Name:     StageFormat,
		Status:   model.StageComplete,
		Duration: time.Since(formatStart).Milliseconds(),
	})

	if res.Success && stop == stopNone {
		p.caches.Analysis.Set(key, res.Clone())
	}
	p.finish(ctx, res)

	log.Info("pipeline: analysis complete",
		zap.String("intent", string(res.Intent)),
		zap.Bool("success", res.Success),
		zap.Bool("degraded", res.Degraded),
		zap.Float64("confidence", res.Confidence),
		zap.Int64("duration_ms", res.LatencyMs),
	)
	return res
}

// run executes the stages in order, publishing each output to st.
func (p *Pipeline) run(ctx context.Context, q model.Query, st *runState) {
	track := func(name string, fn func() map[string]any) {
		st.setStage(name)
		begin := time.Now()
		meta := fn()
		st.addStage(model.StageResult{
			Name:     name,
			Status:   model.StageComplete,
			Duration: time.Since(begin).Milliseconds(),
			Metadata: meta,
		})
	}

	var intent model.Intent
	track(StageClassify, func() map[string]any {
		var matched bool
		intent, matched = p.classifier.ClassifyWithMatch(q.Text)
		st.set(func(s *stageOutputs) { s.intent = intent })
		if !matched {
			st.addTrace(StageClassify, model.ConditionClassificationDefault, "no rule matched")
		}
		return map[string]any{"intent": string(intent), "matched": matched}
	})

	var snapshot []model.SourceDescriptor
	track(StageCatalog, func() map[string]any {
		if p.catalog == nil {
			return map[string]any{"sources": 0}
		}
		list, err := p.catalog.ListSources(ctx, q.Hint(model.HintWorkspace))
		if err != nil {
			zap.L().Warn("pipeline: catalog listing failed", zap.Error(err))
			st.addTrace(StageCatalog, model.ConditionCatalogUnavailable, err.Error())
		}
		snapshot = list
		return map[string]any{"sources": len(list)}
	})

	var actx *model.AnalysisContext
	track(StageAssemble, func() map[string]any {
		actx = p.assembler.AssembleFor(ctx, q, intent, snapshot)
		st.set(func(s *stageOutputs) { s.actx = actx })
		if len(actx.Defaulted) > 0 {
			st.addTrace(StageAssemble, model.ConditionAssemblyPartial, fmt.Sprintf("defaulted: %v", actx.Defaulted))
		}
		return map[string]any{"ranked_sources": len(actx.Sources), "complexity": string(actx.Complexity)}
	})

	var plan *model.ExecutionPlan
	track(StagePlan, func() map[string]any {
		plan = p.planner.Plan(ctx, actx, q.Depth)
		st.set(func(s *stageOutputs) { s.plan = plan })
		if plan.Degraded {
			st.addTrace(StagePlan, model.ConditionPlanningDegraded, plan.Reason)
		}
		if p.observer != nil {
			p.observer.ObservePlan(plan)
		}
		return map[string]any{"steps": len(plan.Steps), "degraded": plan.Degraded, "final_state": string(plan.Final())}
	})

	var results []model.ExecutionResult
	track(StageExecute, func() map[string]any {
		results = p.executor.Execute(ctx, plan)
		st.set(func(s *stageOutputs) { s.results = results })
		for _, r := range results {
			if !r.Success {
				st.addTrace(StageExecute, model.ConditionStepFailed,
					fmt.Sprintf("step %d on %s: %s", r.Step.Index, r.Step.SourceID, r.ErrorTag))
			}
		}
		ok := model.CountSucceeded(results)
		if len(results) > 0 && ok == 0 {
			st.addTrace(StageExecute, model.ConditionAllStepsFailed, fmt.Sprintf("%d steps failed", len(results)))
		}
		return map[string]any{"steps": len(results), "succeeded": ok}
	})

	track(StageExtract, func() map[string]any {
		insights := ExtractInsights(results)
		st.set(func(s *stageOutputs) { s.insights = insights })
		return map[string]any{"insights": len(insights)}
	})
}

// stopReason records why Analyze stopped waiting for the stages.
type stopReason int

const (
	stopNone stopReason = iota
	stopDeadline
	stopCanceled
)

// buildResult assembles the caller-facing result from whatever stages
// completed.
func (p *Pipeline) buildResult(q model.Query, out stageOutputs, stop stopReason, deadline time.Duration) *model.AnalysisResult {
	res := &model.AnalysisResult{
		Query:   q,
		Intent:  out.intent,
		Results: out.results,
		Stages:  out.stages,
		Trace:   out.trace,
		Plan:    out.plan,
	}
	if res.Intent == "" {
		res.Intent = p.classifier.Classify(q.Text)
	}
	if out.actx != nil {
		res.ContextSummary = out.actx.Summary()
		res.Sources = out.actx.SourceIDs()
		res.Window = out.actx.Window
	}
	if out.plan != nil {
		res.Degraded = out.plan.Degraded
	}

	insights := out.insights
	if insights == nil {
		insights = ExtractInsights(out.results)
	}

	succeeded := model.CountSucceeded(out.results)
	if stop != stopNone {
		stage := out.stage
		if stage == "" {
			stage = StageClassify
		}
		ev := model.TraceEvent{
			Stage:     stage,
			Condition: model.ConditionDeadlineExceeded,
			Detail:    fmt.Sprintf("deadline %s exceeded", deadline),
			At:        time.Now(),
		}
		statement := fmt.Sprintf("Analysis stopped after exceeding its %s time budget during the %s stage.", deadline, stage)
		if stop == stopCanceled {
			ev.Condition = model.ConditionCanceled
			ev.Detail = "canceled by caller"
			statement = fmt.Sprintf("Analysis was canceled by the caller during the %s stage.", stage)
		}
		res.Trace = append(res.Trace, ev)
		diag := model.Insight{Kind: model.InsightSummary, Step: -1, Statement: statement}
		insights = append([]model.Insight{diag}, withoutNoData(insights)...)
	}
	res.Insights = insights

	res.Success = stop == stopNone && succeeded > 0
	res.Confidence = confidence(out.plan, out.results)
	return res
}

// withoutNoData drops the generic no-data insight so a more specific
// diagnostic can replace it.
func withoutNoData(in []model.Insight) []model.Insight {
	out := in[:0:0]
	for _, i := range in {
		if i.Step == -1 && i.Kind == model.InsightSummary {
			continue
		}
		out = append(out, i)
	}
	return out
}

// confidence weights step success and the planning path. It is zero when
// nothing succeeded.
func confidence(plan *model.ExecutionPlan, results []model.ExecutionResult) float64 {
	ok := model.CountSucceeded(results)
	if ok == 0 || len(results) == 0 {
		return 0
	}
	path := primaryPathScore
	if plan != nil && plan.Degraded {
		path = degradedPathScore
	}
	c := 0.7*float64(ok)/float64(len(results)) + 0.3*path
	return min(max(c, 0), 1)
}

func (p *Pipeline) finish(ctx context.Context, res *model.AnalysisResult) {
	p.statsMu.Lock()
	p.stats.TotalAnalyses++
	if res.Success {
		p.stats.SuccessfulAnalyses++
	}
	p.stats.TotalLatencyMs += res.LatencyMs
	p.stats.SuccessRate = float64(p.stats.SuccessfulAnalyses) / float64(p.stats.TotalAnalyses)
	p.stats.AverageLatencyMs = float64(p.stats.TotalLatencyMs) / float64(p.stats.TotalAnalyses)
	p.statsMu.Unlock()

	if p.observer != nil {
		p.observer.ObserveAnalysis(res)
	}
	if p.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := p.recorder.RecordRun(recCtx, res); err != nil {
			zap.L().Warn("pipeline: failed to record run", zap.Error(err))
		}
	}
}

func analysisKey(q model.Query) string {
	parts := []string{q.Normalized(), string(q.Depth)}
	for _, k := range slices.Sorted(maps.Keys(q.Hints)) {
		parts = append(parts, k+"="+q.Hints[k])
	}
	return cache.Key(parts...)
}

// stageOutputs is what the run goroutine has published so far.
type stageOutputs struct {
	stage    string
	intent   model.Intent
	actx     *model.AnalysisContext
	plan     *model.ExecutionPlan
	results  []model.ExecutionResult
	insights []model.Insight
	stages   []model.StageResult
	trace    []model.TraceEvent
}

// runState guards stage outputs shared between the run goroutine and the
// coordinator. Once frozen, late writes are dropped.
type runState struct {
	mu     sync.Mutex
	frozen bool
	out    stageOutputs
}

func (s *runState) set(fn func(*stageOutputs)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		fn(&s.out)
	}
}

func (s *runState) setStage(name string) {
	s.set(func(o *stageOutputs) { o.stage = name })
}

func (s *runState) currentStage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.stage
}

func (s *runState) addStage(r model.StageResult) {
	s.set(func(o *stageOutputs) { o.stages = append(o.stages, r) })
}

func (s *runState) addTrace(stage string, c model.Condition, detail string) {
	ev := model.TraceEvent{Stage: stage, Condition: c, Detail: detail, At: time.Now()}
	s.set(func(o *stageOutputs) { o.trace = append(o.trace, ev) })
}

func (s *runState) freeze() stageOutputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	out := s.out
	out.stages = slices.Clone(out.stages)
	out.trace = slices.Clone(out.trace)
	return out
}
