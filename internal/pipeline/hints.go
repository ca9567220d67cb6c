package pipeline

import (
	"slices"
	"strings"
	"sync"

	"github.com/sells-group/insight-cli/internal/model"
)

// metricVocabulary maps query words to canonical metric names.
var metricVocabulary = []struct {
	word   string
	metric string
}{
	{"revenue", "revenue"},
	{"sales", "revenue"},
	{"income", "revenue"},
	{"profit", "profit"},
	{"margin", "margin"},
	{"cost", "cost"},
	{"expense", "cost"},
	{"spend", "cost"},
	{"budget", "budget"},
	{"unit", "quantity"},
	{"quantity", "quantity"},
	{"volume", "quantity"},
	{"order", "orders"},
	{"customer", "customers"},
	{"churn", "churn"},
	{"retention", "retention"},
	{"inventory", "inventory"},
	{"roi", "roi"},
}

// intentDefaultMetric is used when the query names no metric.
var intentDefaultMetric = map[model.Intent]string{
	model.IntentSales:       "revenue",
	model.IntentRanking:     "revenue",
	model.IntentTrend:       "revenue",
	model.IntentComparison:  "revenue",
	model.IntentProduct:     "quantity",
	model.IntentCustomer:    "customers",
	model.IntentFinancial:   "cost",
	model.IntentPerformance: "revenue",
	model.IntentGeographic:  "revenue",
}

// DeriveMetricHints returns the canonical metrics the query mentions, with
// an explicit caller hint first and an intent default last.
func DeriveMetricHints(q model.Query, intent model.Intent) []string {
	var out []string
	add := func(m string) {
		if m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}

	add(model.NormalizeText(q.Hint(model.HintMetric)))
	tokens := tokenize(q.Normalized())
	for _, v := range metricVocabulary {
		if keywordMatches(v.word, tokens) {
			add(v.metric)
		}
	}
	add(intentDefaultMetric[intent])
	return out
}

var businessDomains = map[model.Intent]string{
	model.IntentSales:       "Sales & Marketing",
	model.IntentCustomer:    "Customer Relations",
	model.IntentFinancial:   "Finance & Accounting",
	model.IntentProduct:     "Product Management",
	model.IntentPerformance: "Business Intelligence",
}

var businessRules = map[model.Intent][]string{
	model.IntentSales: {
		"Focus on revenue trends and growth",
		"Consider seasonality in retail data",
		"Analyze by product, region, and time period",
	},
	model.IntentCustomer: {
		"Prioritize customer lifetime value",
		"Consider customer segmentation",
		"Analyze retention and churn patterns",
	},
	model.IntentFinancial: {
		"Ensure data accuracy for financial reporting",
		"Consider fiscal year vs calendar year",
		"Include budget vs actual comparisons",
	},
}

// BusinessContextFor returns the domain label and analysis rules for an
// intent.
func BusinessContextFor(intent model.Intent) model.BusinessContext {
	domain, ok := businessDomains[intent]
	if !ok {
		domain = "General Business"
	}
	return model.BusinessContext{Domain: domain, Rules: businessRules[intent]}
}

var intentWeights = map[model.Intent]float64{
	model.IntentGeneral:     0.3,
	model.IntentSales:       0.5,
	model.IntentTrend:       0.7,
	model.IntentComparison:  0.8,
	model.IntentPerformance: 0.6,
}

// EstimateComplexity scores how heavy an analysis will be from the number
// of sources, their estimated size and the intent.
func EstimateComplexity(sources []model.RelevanceScore, intent model.Intent) (model.Complexity, []string) {
	tables := 0
	for _, s := range sources {
		tables += estimateTables(s.Source)
	}
	weight, ok := intentWeights[intent]
	if !ok {
		weight = 0.5
	}
	score := 0.2*float64(len(sources)) + min(float64(tables)*0.1, 2.0) + weight

	switch {
	case score < 1.0:
		return model.ComplexityLow, []string{"Simple query expected", "Fast execution likely"}
	case score < 2.0:
		return model.ComplexityMedium, []string{"Moderate complexity", "Consider data volume"}
	default:
		return model.ComplexityHigh, []string{"Complex analysis detected", "May require multiple queries", "Consider breaking into smaller parts"}
	}
}

func estimateTables(s model.SourceDescriptor) int {
	name := strings.ToLower(s.Name)
	switch {
	case strings.Contains(name, "warehouse") || strings.Contains(name, "dwh"):
		return 15
	case strings.Contains(name, "cube") || strings.Contains(name, "olap"):
		return 8
	case strings.Contains(name, "report"):
		return 5
	default:
		return 10
	}
}

type historyEntry struct {
	text   string
	intent model.Intent
}

// History is a bounded, concurrency-safe record of recent queries.
type History struct {
	mu      sync.Mutex
	entries []historyEntry
	size    int
}

// NewHistory keeps the last size queries. Non-positive size keeps 10.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 10
	}
	return &History{size: size}
}

// Add records a query.
func (h *History) Add(text string, intent model.Intent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, historyEntry{text: text, intent: intent})
	if over := len(h.entries) - h.size; over > 0 {
		h.entries = append([]historyEntry(nil), h.entries[over:]...)
	}
}

// Recent returns up to n query texts, oldest first.
func (h *History) Recent(n int) []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := max(len(h.entries)-n, 0)
	out := make([]string, 0, len(h.entries)-start)
	for _, e := range h.entries[start:] {
		out = append(out, e.text)
	}
	return out
}

// IntentCounts returns how often each intent appears in the history.
func (h *History) IntentCounts() map[model.Intent]int {
	counts := make(map[model.Intent]int)
	if h == nil {
		return counts
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		counts[e.intent]++
	}
	return counts
}
