package model

import "time"

// RunStatus represents the lifecycle of a persisted analysis run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one analysis.
type Run struct {
	ID         string          `json:"id"`
	QueryText  string          `json:"query"`
	Depth      Depth           `json:"depth"`
	Intent     Intent          `json:"intent,omitempty"`
	Status     RunStatus       `json:"status"`
	Confidence float64         `json:"confidence"`
	Degraded   bool            `json:"degraded"`
	LatencyMs  int64           `json:"latency_ms"`
	Result     *AnalysisResult `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StatusFor maps an analysis outcome to a terminal run status.
func StatusFor(r *AnalysisResult) RunStatus {
	if r != nil && r.Success {
		return RunStatusComplete
	}
	return RunStatusFailed
}
