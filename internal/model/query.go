package model

import (
	"maps"
	"strings"
)

// Depth selects how much planning and execution an analysis may spend.
type Depth string

const (
	DepthStandard  Depth = "standard"
	DepthDeep      Depth = "deep"
	DepthExtensive Depth = "extensive"
)

// ParseDepth converts a user-supplied string to a Depth. Empty input maps to
// DepthStandard. The second return is false for unrecognized values.
func ParseDepth(s string) (Depth, bool) {
	switch Depth(strings.ToLower(strings.TrimSpace(s))) {
	case "", DepthStandard:
		return DepthStandard, true
	case DepthDeep:
		return DepthDeep, true
	case DepthExtensive:
		return DepthExtensive, true
	default:
		return DepthStandard, false
	}
}

// Hint keys understood by the pipeline.
const (
	HintWorkspace = "workspace"
	HintMetric    = "metric"
)

// Query is the immutable input for one analysis request.
type Query struct {
	Text  string            `json:"text"`
	Depth Depth             `json:"depth"`
	Hints map[string]string `json:"hints,omitempty"`
}

// NewQuery builds a Query, defaulting the depth and copying hints so later
// mutation of the caller's map cannot leak into the request.
func NewQuery(text string, depth Depth, hints map[string]string) Query {
	if depth == "" {
		depth = DepthStandard
	}
	q := Query{Text: text, Depth: depth}
	if len(hints) > 0 {
		q.Hints = maps.Clone(hints)
	}
	return q
}

// Hint returns the caller-supplied hint for key, or "".
func (q Query) Hint(key string) string {
	return q.Hints[key]
}

// Normalized returns the lower-cased, whitespace-collapsed query text.
func (q Query) Normalized() string {
	return NormalizeText(q.Text)
}

// NormalizeText lower-cases s and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
