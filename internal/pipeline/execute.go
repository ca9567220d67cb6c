package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/insight-cli/internal/cache"
	"github.com/sells-group/insight-cli/internal/catalog"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
)

const (
	defaultFanOut = 4
	// sharedCallCap bounds a deduplicated remote call once it no longer
	// follows any single request's deadline.
	sharedCallCap = 2 * time.Minute
)

// QueryRunner executes one query against one source.
type QueryRunner interface {
	RunQuery(ctx context.Context, sourceID, query string) (*model.RowSet, error)
}

// Executor runs plan steps concurrently with caching, per-attempt timeouts
// and retry of transient failures.
type Executor struct {
	runner   QueryRunner
	cache    *cache.TTL[*model.RowSet]
	inflight singleflight.Group
	policy   resilience.RetryPolicy
	fanOut   int
	observer Observer
}

// NewExecutor creates an executor. A nil cache disables result caching.
func NewExecutor(runner QueryRunner, c *cache.TTL[*model.RowSet], policy resilience.RetryPolicy, fanOut int) *Executor {
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return &Executor{runner: runner, cache: c, policy: policy, fanOut: fanOut}
}

// Execute returns one result per step in plan order. A failed step never
// aborts its siblings.
func (e *Executor) Execute(ctx context.Context, plan *model.ExecutionPlan) []model.ExecutionResult {
	if plan.Empty() {
		return nil
	}

	results := make([]model.ExecutionResult, len(plan.Steps))
	g := new(errgroup.Group)
	g.SetLimit(e.fanOut)
	for i, step := range plan.Steps {
		g.Go(func() error {
			results[i] = e.executeStep(ctx, step)
			if e.observer != nil {
				e.observer.ObserveStep(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type fetched struct {
	rows     *model.RowSet
	attempts int
}

func (e *Executor) executeStep(ctx context.Context, step model.PlanStep) model.ExecutionResult {
	start := time.Now()
	res := model.ExecutionResult{Step: step}
	key := cache.Key(step.SourceID, step.Query)

	if rows, ok := e.cache.Get(key); ok {
		res.Success = true
		res.FromCache = true
		res.Rows = finishRows(rows, step)
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}

	if err := ctx.Err(); err != nil {
		return failStep(res, err, start)
	}

	// The call may be shared with other requests, so it runs detached from
	// this request's deadline. Each caller still stops waiting at its own.
	callCtx := context.WithoutCancel(ctx)
	ch := e.inflight.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(callCtx, sharedCallCap)
		defer cancel()
		rows, attempts, err := resilience.Retry(callCtx, e.policy, func(ctx context.Context) (*model.RowSet, error) {
			return e.runner.RunQuery(ctx, step.SourceID, step.Query)
		})
		if err != nil {
			return fetched{attempts: attempts}, err
		}
		if rows == nil {
			rows = &model.RowSet{}
		}
		e.cache.Set(key, rows.Clone())
		return fetched{rows: rows, attempts: attempts}, nil
	})

	select {
	case <-ctx.Done():
		return failStep(res, ctx.Err(), start)
	case out := <-ch:
		f, _ := out.Val.(fetched)
		res.Attempts = f.attempts
		if out.Err != nil {
			return failStep(res, out.Err, start)
		}
		res.Success = true
		res.Rows = finishRows(f.rows, step)
		res.LatencyMs = time.Since(start).Milliseconds()
		zap.L().Debug("pipeline: step complete",
			zap.Int("step", step.Index),
			zap.String("source_id", step.SourceID),
			zap.Int("rows", res.Rows.Len()),
			zap.Int("attempts", f.attempts),
			zap.Int64("duration_ms", res.LatencyMs),
		)
		return res
	}
}

func failStep(res model.ExecutionResult, err error, start time.Time) model.ExecutionResult {
	res.Success = false
	res.ErrorTag = errorTag(err)
	res.Error = err.Error()
	res.LatencyMs = time.Since(start).Milliseconds()
	zap.L().Warn("pipeline: step failed",
		zap.Int("step", res.Step.Index),
		zap.String("source_id", res.Step.SourceID),
		zap.String("error_tag", res.ErrorTag),
		zap.Int("attempts", res.Attempts),
		zap.Error(err),
	)
	return res
}

// errorTag buckets a step failure.
func errorTag(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return model.ErrorTagCanceled
	case resilience.IsTimeout(err):
		return model.ErrorTagTimeout
	case errors.Is(err, catalog.ErrUnknownSource):
		return model.ErrorTagUnknown
	case errors.Is(err, resilience.ErrCircuitOpen), resilience.IsTransient(err):
		return model.ErrorTagNetwork
	default:
		return model.ErrorTagQuery
	}
}

// finishRows copies rows so callers cannot mutate shared state, and ranks
// them by value when the step asks for aggregation.
func finishRows(rows *model.RowSet, step model.PlanStep) *model.RowSet {
	out := rows.Clone()
	if step.Aggregate {
		sortByValue(out)
	}
	return out
}

// sortByValue stably orders rows descending by the right-most numeric
// column.
func sortByValue(rs *model.RowSet) {
	col := valueColumn(rs)
	if col < 0 {
		return
	}
	slices.SortStableFunc(rs.Rows, func(a, b []any) int {
		av, _ := toFloat(cell(a, col))
		bv, _ := toFloat(cell(b, col))
		switch {
		case av > bv:
			return -1
		case av < bv:
			return 1
		default:
			return 0
		}
	})
}

// valueColumn returns the right-most column whose non-nil values are all
// numeric, or -1.
func valueColumn(rs *model.RowSet) int {
	if rs.Len() == 0 {
		return -1
	}
	for c := len(rs.Columns) - 1; c >= 0; c-- {
		if numericColumn(rs, c) {
			return c
		}
	}
	return -1
}

func numericColumn(rs *model.RowSet, c int) bool {
	seen := false
	for _, row := range rs.Rows {
		v := cell(row, c)
		if v == nil {
			continue
		}
		if _, ok := toFloat(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func cell(row []any, c int) any {
	if c < 0 || c >= len(row) {
		return nil
	}
	return row[c]
}
