package pipeline

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/insight-cli/internal/model"
)

const (
	previewRows    = 10
	previewCols    = 4
	previewCellMax = 15
)

var numberPrinter = message.NewPrinter(language.English)

var intentTitles = map[model.Intent]string{
	model.IntentSales:     "Sales Performance Analysis",
	model.IntentCustomer:  "Customer Insights Analysis",
	model.IntentProduct:   "Product Performance Analysis",
	model.IntentFinancial: "Financial Performance Analysis",
	model.IntentTrend:     "Trend & Growth Analysis",
	model.IntentGeneral:   "Business Intelligence Analysis",
}

var intentRecommendations = map[model.Intent][]string{
	model.IntentSales: {
		"Focus on top-performing products and regions",
		"Investigate declining trends for improvement opportunities",
	},
	model.IntentCustomer: {
		"Prioritize high-value customer segments",
		"Monitor retention and churn for at-risk accounts",
	},
	model.IntentProduct: {
		"Review inventory and pricing for top and bottom products",
	},
	model.IntentFinancial: {
		"Compare actuals against budget before reallocating spend",
	},
	model.IntentPerformance: {
		"Track the leading indicators behind these KPIs against targets",
	},
	model.IntentGeographic: {
		"Compare regional results against local targets",
	},
}

// Formatter renders an AnalysisResult as text. Output depends only on the
// result content.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// Format renders the result with its intent template, or the generic
// template for intents outside the built-in taxonomy.
func (f *Formatter) Format(r *model.AnalysisResult) string {
	if r == nil {
		return NoDataStatement + "."
	}
	if !slices.Contains(model.KnownIntents, r.Intent) {
		return f.formatGeneric(r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title(r.Intent))
	if r.Query.Text != "" {
		fmt.Fprintf(&b, "Question: %s\n", r.Query.Text)
	}
	if r.Window.Label != "" {
		fmt.Fprintf(&b, "Period: %s (%s to %s)\n", r.Window.Label,
			r.Window.Start.Format(time.DateOnly), r.Window.End.Format(time.DateOnly))
	}
	b.WriteString("\n")

	if !r.Success {
		b.WriteString(insufficientDataLine(r))
		b.WriteString("\n\n")
	}

	b.WriteString("## Key Findings\n")
	for _, in := range r.Insights {
		writeInsight(&b, in)
	}

	if table := previewTable(r.Results); table != "" {
		b.WriteString("\n## Data Preview\n")
		b.WriteString(table)
	}

	if recs := recommendations(r); len(recs) > 0 {
		b.WriteString("\n## Recommendations\n")
		for _, rec := range recs {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	b.WriteString("\n---\n")
	b.WriteString(footer(r))
	return b.String()
}

func (f *Formatter) formatGeneric(r *model.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title(r.Intent))
	if !r.Success {
		b.WriteString(insufficientDataLine(r))
		b.WriteString("\n\n")
	}
	for _, in := range r.Insights {
		fmt.Fprintf(&b, "- %s\n", in.Statement)
	}
	b.WriteString("\n---\n")
	b.WriteString(footer(r))
	return b.String()
}

// Title returns the display headline for an intent.
func Title(intent model.Intent) string {
	if t, ok := intentTitles[intent]; ok {
		return t
	}
	if intent == "" {
		return intentTitles[model.IntentGeneral]
	}
	return titleCase(string(intent))
}

// ConfidenceBand buckets a confidence score.
func ConfidenceBand(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.6:
		return "medium"
	default:
		return "low"
	}
}

func insufficientDataLine(r *model.AnalysisResult) string {
	if r.HasCondition(model.ConditionDeadlineExceeded) {
		return "The analysis ran out of time before all data could be retrieved. Results below are incomplete."
	}
	if r.HasCondition(model.ConditionCanceled) {
		return "The analysis was canceled before all data could be retrieved. Results below are incomplete."
	}
	return "There was insufficient data to answer this question. " + NoDataAdvice + "."
}

func writeInsight(b *strings.Builder, in model.Insight) {
	if in.Kind != model.InsightRanking || len(in.Entries) == 0 {
		fmt.Fprintf(b, "- %s\n", in.Statement)
		return
	}
	fmt.Fprintf(b, "- Top %d by %s:\n", len(in.Entries), in.Metric)
	for i, e := range in.Entries {
		fmt.Fprintf(b, "  %d. %s: %s\n", i+1, e.Label, formatNumber(e.Value))
	}
}

func recommendations(r *model.AnalysisResult) []string {
	var recs []string
	add := func(s string) {
		if !slices.Contains(recs, s) {
			recs = append(recs, s)
		}
	}

	if !r.Success {
		add(NoDataAdvice)
		return recs
	}
	for _, s := range intentRecommendations[r.Intent] {
		add(s)
	}
	for _, in := range r.Insights {
		switch in.Kind {
		case model.InsightRanking:
			add("Review what drives the leading entries and apply it to lower-ranked ones")
		case model.InsightTrend:
			if in.ChangePct != nil && *in.ChangePct < 0 {
				add(fmt.Sprintf("Investigate the decline in %s", in.Metric))
			} else {
				add(fmt.Sprintf("Sustain the drivers behind the movement in %s", in.Metric))
			}
		case model.InsightAnomaly:
			add("Validate the flagged outliers before acting on them")
		}
	}
	if r.Degraded {
		add("Refine the question with specific metrics or sources for a more targeted analysis")
	}
	return recs
}

func footer(r *model.AnalysisResult) string {
	ok := model.CountSucceeded(r.Results)
	return numberPrinter.Sprintf("Confidence: %.0f%% (%s) | Steps: %d/%d succeeded | Latency: %d ms\n",
		math.Round(r.Confidence*100), ConfidenceBand(r.Confidence), ok, len(r.Results), r.LatencyMs)
}

// previewTable renders the first non-empty successful result.
func previewTable(results []model.ExecutionResult) string {
	var rs *model.RowSet
	for _, r := range results {
		if r.Success && r.Rows.Len() > 0 {
			rs = r.Rows
			break
		}
	}
	if rs == nil {
		return ""
	}

	cols := min(len(rs.Columns), previewCols)
	rows := min(rs.Len(), previewRows)

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	header := make([]string, cols)
	for c := range cols {
		header[c] = truncateCell(rs.Columns[c])
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i := range rows {
		cells := make([]string, cols)
		for c := range cols {
			cells[c] = truncateCell(formatValue(rs.Value(i, c)))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	var b strings.Builder
	b.WriteString("```\n")
	b.WriteString(buf.String())
	b.WriteString("```\n")
	b.WriteString(numberPrinter.Sprintf("Showing %d of %d total records\n", rows, rs.Len()))
	return b.String()
}

func truncateCell(s string) string {
	r := []rune(s)
	if len(r) > previewCellMax {
		return string(r[:previewCellMax-3]) + "..."
	}
	return s
}

// formatNumber prints integers without decimals and everything else with
// two, using thousands separators.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return numberPrinter.Sprintf("%d", int64(v))
	}
	return numberPrinter.Sprintf("%.2f", v)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return fmt.Sprint(t)
	case time.Time:
		return t.Format(time.DateOnly)
	}
	if f, ok := toFloat(v); ok {
		return formatNumber(f)
	}
	return fmt.Sprint(v)
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}
