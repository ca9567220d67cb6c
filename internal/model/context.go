package model

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the bucket size of a time window.
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// TimeWindow is a half-open [Start, End) interval with a reporting grain.
type TimeWindow struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
	Label       string      `json:"label"`
	Defaulted   bool        `json:"defaulted,omitempty"`
}

// Valid reports whether the window is non-empty and well ordered.
func (w TimeWindow) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start) && w.Granularity != ""
}

// Complexity is a coarse estimate of how expensive an analysis will be.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// BusinessContext carries the domain label and analysis rules for an intent.
type BusinessContext struct {
	Domain string   `json:"domain"`
	Rules  []string `json:"rules,omitempty"`
}

// AnalysisContext is the immutable bundle every downstream stage reads. It
// is built once per request by the assembler.
type AnalysisContext struct {
	Query            Query            `json:"query"`
	Intent           Intent           `json:"intent"`
	Sources          []RelevanceScore `json:"sources"`
	Window           TimeWindow       `json:"window"`
	MetricHints      []string         `json:"metric_hints,omitempty"`
	Business         BusinessContext  `json:"business"`
	Complexity       Complexity       `json:"complexity"`
	PerformanceHints []string         `json:"performance_hints,omitempty"`
	RecentQueries    []string         `json:"recent_queries,omitempty"`

	// Defaulted names the sub-derivations that fell back to their defaults.
	Defaulted []string `json:"defaulted,omitempty"`
}

// SourceIDs returns the ranked source ids in rank order.
func (c *AnalysisContext) SourceIDs() []string {
	ids := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		ids[i] = s.Source.ID
	}
	return ids
}

// Source returns the ranked descriptor with the given id.
func (c *AnalysisContext) Source(id string) (SourceDescriptor, bool) {
	for _, s := range c.Sources {
		if s.Source.ID == id {
			return s.Source, true
		}
	}
	return SourceDescriptor{}, false
}

// TopMetric returns the first metric hint, or "" when none was derived.
func (c *AnalysisContext) TopMetric() string {
	if len(c.MetricHints) == 0 {
		return ""
	}
	return c.MetricHints[0]
}

// Summary renders a one-line, deterministic description of the context.
func (c *AnalysisContext) Summary() string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Source.Name
	}
	sources := "none"
	if len(names) > 0 {
		sources = strings.Join(names, ", ")
	}
	return fmt.Sprintf("Intent: %s | Sources: %s | Window: %s (%s to %s) | Complexity: %s | Domain: %s",
		c.Intent,
		sources,
		c.Window.Label,
		c.Window.Start.Format(time.DateOnly),
		c.Window.End.Format(time.DateOnly),
		c.Complexity,
		c.Business.Domain,
	)
}
