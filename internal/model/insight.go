package model

// InsightKind classifies a derived finding.
type InsightKind string

const (
	InsightRanking InsightKind = "ranking"
	InsightTrend   InsightKind = "trend"
	InsightAnomaly InsightKind = "anomaly"
	InsightSummary InsightKind = "summary"
)

// RankedEntry is one labelled value in a ranking insight.
type RankedEntry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Insight is a typed finding derived from one execution result.
type Insight struct {
	Kind      InsightKind   `json:"kind"`
	Statement string        `json:"statement"`
	SourceID  string        `json:"source_id,omitempty"`
	Step      int           `json:"step"`
	RowRefs   []int         `json:"row_refs,omitempty"`
	Metric    string        `json:"metric,omitempty"`
	Entries   []RankedEntry `json:"entries,omitempty"`

	// ChangePct is set on trend insights.
	ChangePct *float64 `json:"change_pct,omitempty"`
}
