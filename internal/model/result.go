package model

// RowSet is a column-labeled table that preserves the remote source's column
// and row order.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (r *RowSet) ColumnIndex(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, col), or nil when out of range.
func (r *RowSet) Value(row, col int) any {
	if r == nil || row < 0 || row >= len(r.Rows) || col < 0 || col >= len(r.Rows[row]) {
		return nil
	}
	return r.Rows[row][col]
}

// Row returns row i as a column-keyed map. Map iteration order is random, so
// callers that care about order should walk Columns instead.
func (r *RowSet) Row(i int) map[string]any {
	if r == nil || i < 0 || i >= len(r.Rows) {
		return nil
	}
	m := make(map[string]any, len(r.Columns))
	for j, c := range r.Columns {
		if j < len(r.Rows[i]) {
			m[c] = r.Rows[i][j]
		}
	}
	return m
}

// Clone returns a deep copy of the row slice headers so cached sets cannot be
// mutated through a returned result.
func (r *RowSet) Clone() *RowSet {
	if r == nil {
		return nil
	}
	out := &RowSet{
		Columns: append([]string(nil), r.Columns...),
		Rows:    make([][]any, len(r.Rows)),
	}
	for i, row := range r.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Error tags attached to failed execution results.
const (
	ErrorTagTimeout  = "timeout"
	ErrorTagNetwork  = "network"
	ErrorTagQuery    = "query"
	ErrorTagCanceled = "canceled"
	ErrorTagUnknown  = "unknown_source"
)

// ExecutionResult is the outcome of one plan step.
type ExecutionResult struct {
	Step      PlanStep `json:"step"`
	Success   bool     `json:"success"`
	Rows      *RowSet  `json:"rows,omitempty"`
	LatencyMs int64    `json:"latency_ms"`
	Attempts  int      `json:"attempts"`
	FromCache bool     `json:"from_cache,omitempty"`
	ErrorTag  string   `json:"error_tag,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// CountSucceeded returns how many results succeeded.
func CountSucceeded(results []ExecutionResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
