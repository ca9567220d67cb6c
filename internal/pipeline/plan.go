package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/reasoning"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Reasoner is the remote text-generation capability used for planning.
type Reasoner interface {
	Complete(ctx context.Context, req reasoning.Request) (*reasoning.Response, error)
}

// maxStepsByDepth bounds how many steps a remote plan may contain.
var maxStepsByDepth = map[model.Depth]int{
	model.DepthStandard:  3,
	model.DepthDeep:      5,
	model.DepthExtensive: 8,
}

// ErrMalformedPlan is returned when the remote plan cannot be used.
var ErrMalformedPlan = eris.New("pipeline: malformed plan")

const planSystemPrompt = `You are a business intelligence query planner. Given an analysis context, produce a plan of read-only queries against the listed sources.

Respond with a single JSON object and nothing else:
{"summary": "<one sentence>", "steps": [{"source_id": "<id from the source list>", "query": "<query in the source's dialect>", "rationale": "<why this step>", "aggregate": <true if rows should be ranked by value>}]}

Rules:
- Use only source ids from the list.
- Write DAX (starting with EVALUATE) for dax sources and a single SELECT for sql sources.
- Respect the step limit.`

// Planner turns an AnalysisContext into an ExecutionPlan, using the remote
// reasoning capability when available and canned templates otherwise.
type Planner struct {
	reasoner    Reasoner
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlanBudget sets the token budget and sampling temperature.
func WithPlanBudget(maxTokens int64, temperature float64) PlannerOption {
	return func(p *Planner) {
		if maxTokens > 0 {
			p.maxTokens = maxTokens
		}
		p.temperature = temperature
	}
}

// WithPlanTimeout bounds the remote planning call.
func WithPlanTimeout(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPlanner creates a planner. A nil reasoner always plans from templates.
func NewPlanner(r Reasoner, opts ...PlannerOption) *Planner {
	p := &Planner{
		reasoner:  r,
		maxTokens: 1500,
		timeout:   15 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan never fails. Remote errors move the state machine to timed_out,
// unavailable or malformed, then to fallback_built.
func (p *Planner) Plan(ctx context.Context, actx *model.AnalysisContext, depth model.Depth) *model.ExecutionPlan {
	plan := &model.ExecutionPlan{States: []model.PlanState{model.PlanNotStarted}}

	if len(actx.Sources) == 0 {
		plan.Summary = "No relevant data sources were found for this question."
		plan.States = append(plan.States, model.PlanDone)
		return plan
	}

	if p.reasoner == nil {
		return p.fallback(plan, actx, model.PlanUnavailable, "reasoning capability not configured")
	}

	plan.States = append(plan.States, model.PlanRemoteRequested)
	start := time.Now()

	steps, summary, err := p.remotePlan(ctx, actx, depth)
	if err != nil {
		state := model.PlanUnavailable
		switch {
		case errors.Is(err, ErrMalformedPlan):
			state = model.PlanMalformed
		case resilience.IsTimeout(err):
			state = model.PlanTimedOut
		}
		zap.L().Warn("pipeline: remote planning failed",
			zap.String("state", string(state)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return p.fallback(plan, actx, state, err.Error())
	}

	plan.Steps = steps
	plan.Summary = summary
	plan.States = append(plan.States, model.PlanParsed, model.PlanDone)
	zap.L().Debug("pipeline: remote plan parsed",
		zap.Int("steps", len(steps)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return plan
}

func (p *Planner) fallback(plan *model.ExecutionPlan, actx *model.AnalysisContext, state model.PlanState, reason string) *model.ExecutionPlan {
	plan.States = append(plan.States, state, model.PlanFallbackBuilt, model.PlanDone)
	plan.Steps = BuildFallbackPlan(actx)
	plan.Degraded = true
	plan.Reason = reason
	plan.Summary = fmt.Sprintf("Template %s plan over %d source(s).", strings.TrimSuffix(string(actx.Intent), "_analysis"), len(plan.Steps))
	return plan
}

func (p *Planner) remotePlan(ctx context.Context, actx *model.AnalysisContext, depth model.Depth) ([]model.PlanStep, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	limit := stepLimit(depth)
	resp, err := p.reasoner.Complete(callCtx, reasoning.Request{
		System:      planSystemPrompt,
		User:        BuildPlanPrompt(actx, depth, limit),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, "", &resilience.TimeoutError{Err: err, After: p.timeout}
		}
		return nil, "", eris.Wrap(err, "pipeline: plan request")
	}
	if resp == nil {
		return nil, "", eris.Wrap(ErrMalformedPlan, "pipeline: empty response")
	}
	return ParsePlan(resp.Text, actx, limit)
}

func stepLimit(depth model.Depth) int {
	if n, ok := maxStepsByDepth[depth]; ok {
		return n
	}
	return maxStepsByDepth[model.DepthStandard]
}

type planResponse struct {
	Summary string `json:"summary"`
	Steps   []struct {
		SourceID  string `json:"source_id"`
		Query     string `json:"query"`
		Rationale string `json:"rationale"`
		Aggregate bool   `json:"aggregate"`
	} `json:"steps"`
}

// ParsePlan validates a remote plan against the context. Steps naming
// sources outside the context or carrying no query are dropped; a plan left
// with no steps is malformed. At most limit steps are kept.
func ParsePlan(text string, actx *model.AnalysisContext, limit int) ([]model.PlanStep, string, error) {
	var pr planResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &pr); err != nil {
		return nil, "", eris.Wrapf(ErrMalformedPlan, "pipeline: decode plan: %v", err)
	}

	var steps []model.PlanStep
	for _, s := range pr.Steps {
		if _, ok := actx.Source(s.SourceID); !ok {
			zap.L().Debug("pipeline: dropping plan step for unknown source", zap.String("source_id", s.SourceID))
			continue
		}
		q := strings.TrimSpace(s.Query)
		if q == "" {
			continue
		}
		steps = append(steps, model.PlanStep{
			Index:     len(steps),
			SourceID:  s.SourceID,
			Query:     q,
			Rationale: strings.TrimSpace(s.Rationale),
			Aggregate: s.Aggregate,
		})
		if limit > 0 && len(steps) == limit {
			break
		}
	}
	if len(steps) == 0 {
		return nil, "", eris.Wrap(ErrMalformedPlan, "pipeline: plan has no usable steps")
	}
	return steps, strings.TrimSpace(pr.Summary), nil
}

// BuildPlanPrompt renders the context for the reasoning capability. The
// output depends only on the query and what was derived from it; recent
// history is reporting data and stays out of the prompt.
func BuildPlanPrompt(actx *model.AnalysisContext, depth model.Depth, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", actx.Query.Text)
	fmt.Fprintf(&b, "Intent: %s\n", actx.Intent)
	fmt.Fprintf(&b, "Depth: %s (at most %d steps)\n", depth, limit)
	fmt.Fprintf(&b, "Time window: %s, %s to %s (exclusive), by %s\n",
		actx.Window.Label,
		actx.Window.Start.Format(time.DateOnly),
		actx.Window.End.Format(time.DateOnly),
		actx.Window.Granularity,
	)
	if len(actx.MetricHints) > 0 {
		fmt.Fprintf(&b, "Metrics: %s\n", strings.Join(actx.MetricHints, ", "))
	}
	fmt.Fprintf(&b, "Business domain: %s\n", actx.Business.Domain)
	for _, r := range actx.Business.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	fmt.Fprintf(&b, "Complexity: %s\n", actx.Complexity)
	for _, h := range actx.PerformanceHints {
		fmt.Fprintf(&b, "- %s\n", h)
	}

	b.WriteString("\nSources:\n")
	for _, rs := range actx.Sources {
		s := rs.Source
		fmt.Fprintf(&b, "- id: %s\n  name: %s\n  dialect: %s\n", s.ID, s.Name, s.Dialect)
		if s.WorkspaceName != "" {
			fmt.Fprintf(&b, "  workspace: %s\n", s.WorkspaceName)
		}
		if len(s.Fields) > 0 {
			fmt.Fprintf(&b, "  fields: %s\n", strings.Join(s.Fields, ", "))
		}
	}
	return b.String()
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
