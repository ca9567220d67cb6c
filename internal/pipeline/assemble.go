package pipeline

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/model"
)

// Sub-derivation names recorded in AnalysisContext.Defaulted.
const (
	subtaskRank    = "rank"
	subtaskWindow  = "time_window"
	subtaskMetrics = "metric_hints"
)

const recentQueryCount = 5

// Assembler builds the immutable AnalysisContext for a request.
type Assembler struct {
	classifier *Classifier
	ranker     *Ranker
	history    *History
	now        func() time.Time

	// Derivations are fields so tests can force failures.
	rankFn    func(intent model.Intent, text string, sources []model.SourceDescriptor) []model.RelevanceScore
	windowFn  func(text string, now time.Time) (model.TimeWindow, bool)
	metricsFn func(q model.Query, intent model.Intent) []string
}

// NewAssembler creates an assembler. A nil history disables recent-query
// tracking.
func NewAssembler(classifier *Classifier, ranker *Ranker, history *History) *Assembler {
	return &Assembler{
		classifier: classifier,
		ranker:     ranker,
		history:    history,
		now:        time.Now,
		rankFn:     ranker.Rank,
		windowFn:   DeriveTimeWindow,
		metricsFn:  DeriveMetricHints,
	}
}

// Assemble classifies the query and builds its context.
func (a *Assembler) Assemble(ctx context.Context, q model.Query, snapshot []model.SourceDescriptor) *model.AnalysisContext {
	return a.AssembleFor(ctx, q, a.classifier.Classify(q.Text), snapshot)
}

// AssembleFor builds the context for an already classified query. Ranking,
// time-window and metric derivations run concurrently. One that panics, or
// that has not started when ctx is already done, is replaced by its default;
// a derivation that has started runs to completion. It never fails.
func (a *Assembler) AssembleFor(ctx context.Context, q model.Query, intent model.Intent, snapshot []model.SourceDescriptor) *model.AnalysisContext {
	now := a.now()
	actx := &model.AnalysisContext{
		Query:         q,
		Intent:        intent,
		Business:      BusinessContextFor(intent),
		RecentQueries: a.history.Recent(recentQueryCount),
	}

	var (
		mu        sync.Mutex
		defaulted []string
	)
	markDefault := func(name string, err error) {
		mu.Lock()
		defaulted = append(defaulted, name)
		mu.Unlock()
		zap.L().Warn("pipeline: context derivation defaulted",
			zap.String("derivation", name),
			zap.Error(err),
		)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ranked, err := runDerivation(gCtx, func() []model.RelevanceScore {
			return a.rankFn(intent, q.Text, snapshot)
		})
		if err != nil {
			markDefault(subtaskRank, err)
			ranked = defaultRanking(snapshot, a.ranker.K())
		}
		actx.Sources = ranked
		return nil
	})

	g.Go(func() error {
		window, err := runDerivation(gCtx, func() model.TimeWindow {
			w, _ := a.windowFn(q.Text, now)
			return w
		})
		if err != nil || !window.Valid() {
			if err == nil {
				err = eris.Errorf("invalid window %q", window.Label)
			}
			markDefault(subtaskWindow, err)
			window = DefaultTimeWindow(now)
		}
		actx.Window = window
		return nil
	})

	g.Go(func() error {
		hints, err := runDerivation(gCtx, func() []string {
			return a.metricsFn(q, intent)
		})
		if err != nil {
			markDefault(subtaskMetrics, err)
			hints = nil
			if m := intentDefaultMetric[intent]; m != "" {
				hints = []string{m}
			}
		}
		actx.MetricHints = hints
		return nil
	})

	_ = g.Wait()

	slices.Sort(defaulted)
	actx.Defaulted = defaulted
	actx.Complexity, actx.PerformanceHints = EstimateComplexity(actx.Sources, intent)
	a.history.Add(q.Text, intent)

	zap.L().Debug("pipeline: context assembled",
		zap.String("intent", string(intent)),
		zap.Int("sources", len(actx.Sources)),
		zap.String("window", actx.Window.Label),
		zap.Strings("defaulted", defaulted),
	)
	return actx
}

// runDerivation runs fn, converting a panic or an already-done context into
// an error.
func runDerivation[T any](ctx context.Context, fn func() T) (out T, err error) {
	if err := ctx.Err(); err != nil {
		return out, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("derivation panicked: %v", r)
		}
	}()
	return fn(), nil
}

// defaultRanking keeps the first k sources by id with a zero score.
func defaultRanking(snapshot []model.SourceDescriptor, k int) []model.RelevanceScore {
	sorted := slices.Clone(snapshot)
	slices.SortFunc(sorted, func(a, b model.SourceDescriptor) int { return strings.Compare(a.ID, b.ID) })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]model.RelevanceScore, len(sorted))
	for i, s := range sorted {
		out[i] = model.RelevanceScore{Source: s}
	}
	return out
}
