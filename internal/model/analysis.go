package model

import (
	"maps"
	"slices"
	"time"
)

// Condition tags a non-fatal event recorded in an analysis trace.
type Condition string

const (
	ConditionClassificationDefault Condition = "classification_default"
	ConditionAssemblyPartial       Condition = "assembly_partial"
	ConditionPlanningDegraded      Condition = "planning_degraded"
	ConditionStepFailed            Condition = "step_failed"
	ConditionAllStepsFailed        Condition = "all_steps_failed"
	ConditionDeadlineExceeded      Condition = "deadline_exceeded"
	ConditionCanceled              Condition = "canceled"
	ConditionCatalogUnavailable    Condition = "catalog_unavailable"
	ConditionCacheHit              Condition = "cache_hit"
)

// TraceEvent is one entry in an analysis trace.
type TraceEvent struct {
	Stage     string    `json:"stage"`
	Condition Condition `json:"condition"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// StageStatus is the outcome of a pipeline stage.
type StageStatus string

const (
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageResult records how a single stage went.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AnalysisResult is the terminal artifact returned to callers. It is frozen
// once returned.
type AnalysisResult struct {
	Query          Query             `json:"query"`
	Intent         Intent            `json:"intent"`
	ContextSummary string            `json:"context_summary"`
	Sources        []string          `json:"sources,omitempty"`
	Window         TimeWindow        `json:"window"`
	Plan           *ExecutionPlan    `json:"plan,omitempty"`
	Results        []ExecutionResult `json:"results"`
	Insights       []Insight         `json:"insights"`
	Response       string            `json:"response"`
	Success        bool              `json:"success"`
	Confidence     float64           `json:"confidence"`
	Degraded       bool              `json:"degraded"`
	LatencyMs      int64             `json:"latency_ms"`
	FromCache      bool              `json:"from_cache,omitempty"`
	Stages         []StageResult     `json:"stages,omitempty"`
	Trace          []TraceEvent      `json:"trace,omitempty"`
}

// Clone returns a copy that shares no slices, maps or row sets with r.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Query.Hints = maps.Clone(r.Query.Hints)
	out.Sources = slices.Clone(r.Sources)
	out.Trace = slices.Clone(r.Trace)
	if r.Plan != nil {
		plan := *r.Plan
		plan.Steps = slices.Clone(r.Plan.Steps)
		plan.States = slices.Clone(r.Plan.States)
		out.Plan = &plan
	}
	if r.Results != nil {
		out.Results = make([]ExecutionResult, len(r.Results))
		for i, er := range r.Results {
			er.Rows = er.Rows.Clone()
			out.Results[i] = er
		}
	}
	if r.Insights != nil {
		out.Insights = make([]Insight, len(r.Insights))
		for i, in := range r.Insights {
			in.RowRefs = slices.Clone(in.RowRefs)
			in.Entries = slices.Clone(in.Entries)
			if in.ChangePct != nil {
				v := *in.ChangePct
				in.ChangePct = &v
			}
			out.Insights[i] = in
		}
	}
	if r.Stages != nil {
		out.Stages = make([]StageResult, len(r.Stages))
		for i, st := range r.Stages {
			st.Metadata = maps.Clone(st.Metadata)
			out.Stages[i] = st
		}
	}
	return &out
}

// HasCondition reports whether the trace contains c.
func (r *AnalysisResult) HasCondition(c Condition) bool {
	for _, ev := range r.Trace {
		if ev.Condition == c {
			return true
		}
	}
	return false
}
