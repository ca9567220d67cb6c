package model

// PlanState is a node in the planner's state machine.
type PlanState string

const (
	PlanNotStarted      PlanState = "not_started"
	PlanRemoteRequested PlanState = "remote_requested"
	PlanParsed          PlanState = "parsed"
	PlanTimedOut        PlanState = "timed_out"
	PlanMalformed       PlanState = "malformed"
	PlanUnavailable     PlanState = "unavailable"
	PlanFallbackBuilt   PlanState = "fallback_built"
	PlanDone            PlanState = "done"
)

// PlanStep is one remote query with the reason it was chosen.
type PlanStep struct {
	Index     int    `json:"index"`
	SourceID  string `json:"source_id"`
	Query     string `json:"query"`
	Rationale string `json:"rationale"`

	// Aggregate permits the executor to re-sort rows client side.
	Aggregate bool `json:"aggregate,omitempty"`
}

// ExecutionPlan is the ordered list of steps produced by the planner. An
// empty plan is valid and means there was not enough data to query.
type ExecutionPlan struct {
	Steps    []PlanStep  `json:"steps"`
	Degraded bool        `json:"degraded"`
	States   []PlanState `json:"states"`
	Summary  string      `json:"summary,omitempty"`

	// Reason explains why the fallback path was taken.
	Reason string `json:"reason,omitempty"`
}

// Empty reports whether the plan has no steps.
func (p *ExecutionPlan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

// Final returns the last recorded state.
func (p *ExecutionPlan) Final() PlanState {
	if p == nil || len(p.States) == 0 {
		return PlanNotStarted
	}
	return p.States[len(p.States)-1]
}
