package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/insight-cli/internal/model"
)

const (
	rankingTopN      = 3
	anomalyMinRows   = 4
	anomalyThreshold = 2.0
)

// Statements used when no data could be analyzed.
const (
	NoDataStatement = "No data available for analysis"
	NoDataAdvice    = "Check data availability and query validity"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"2006-01",
	"2006/01/02",
	"01/02/2006",
}

// ExtractInsights derives findings from successful results. It never
// returns an empty slice.
func ExtractInsights(results []model.ExecutionResult) []model.Insight {
	var out []model.Insight
	for _, r := range results {
		if !r.Success {
			continue
		}
		out = append(out, resultInsights(r)...)
	}
	if len(out) == 0 {
		return []model.Insight{noDataInsight(len(results))}
	}
	return out
}

func noDataInsight(attempted int) model.Insight {
	stmt := NoDataStatement + ". " + NoDataAdvice + "."
	if attempted > 0 {
		stmt = fmt.Sprintf("%s: none of %d queries returned data. %s.", NoDataStatement, attempted, NoDataAdvice)
	}
	return model.Insight{Kind: model.InsightSummary, Statement: stmt, Step: -1}
}

func resultInsights(r model.ExecutionResult) []model.Insight {
	rs := r.Rows
	base := model.Insight{SourceID: r.Step.SourceID, Step: r.Step.Index}

	if rs.Len() == 0 {
		in := base
		in.Kind = model.InsightSummary
		in.Statement = "The query returned no rows."
		return []model.Insight{in}
	}

	if rs.Len() == 1 && len(rs.Columns) == 1 {
		in := base
		in.Kind = model.InsightSummary
		in.Metric = rs.Columns[0]
		in.RowRefs = []int{0}
		in.Statement = fmt.Sprintf("%s: %s", rs.Columns[0], formatValue(rs.Value(0, 0)))
		return []model.Insight{in}
	}

	var out []model.Insight
	valueCol := valueColumn(rs)

	if in, ok := trendInsight(base, rs, valueCol); ok {
		out = append(out, in)
	} else if in, ok := rankingInsight(base, rs, valueCol); ok {
		out = append(out, in)
	}
	out = append(out, anomalyInsights(base, rs)...)

	if len(out) == 0 {
		in := base
		in.Kind = model.InsightSummary
		in.Statement = fmt.Sprintf("Retrieved %d rows across %d columns.", rs.Len(), len(rs.Columns))
		out = append(out, in)
	}
	return out
}

// trendInsight needs an ascending time axis in the first column and a
// numeric value column.
func trendInsight(base model.Insight, rs *model.RowSet, valueCol int) (model.Insight, bool) {
	if rs.Len() < 2 || valueCol <= 0 {
		return model.Insight{}, false
	}
	var prev time.Time
	for i := range rs.Rows {
		t, ok := toTime(rs.Value(i, 0))
		if !ok || (i > 0 && !t.After(prev)) {
			return model.Insight{}, false
		}
		prev = t
	}

	last := rs.Len() - 1
	first, _ := toFloat(rs.Value(0, valueCol))
	final, _ := toFloat(rs.Value(last, valueCol))
	metric := rs.Columns[valueCol]

	in := base
	in.Kind = model.InsightTrend
	in.Metric = metric
	in.RowRefs = []int{0, last}
	if first == 0 {
		in.Statement = fmt.Sprintf("%s moved from %s to %s between %s and %s.",
			metric, formatNumber(first), formatNumber(final), labelOf(rs.Value(0, 0)), labelOf(rs.Value(last, 0)))
		return in, true
	}

	pct := (final - first) / math.Abs(first) * 100
	pct = math.Round(pct*10) / 10
	in.ChangePct = &pct
	direction := "increased"
	if pct < 0 {
		direction = "decreased"
	}
	in.Statement = fmt.Sprintf("%s %s %s%% from %s (%s) to %s (%s).",
		metric, direction, formatNumber(math.Abs(pct)),
		labelOf(rs.Value(0, 0)), formatNumber(first),
		labelOf(rs.Value(last, 0)), formatNumber(final))
	return in, true
}

// rankingInsight needs rows already ordered descending by the value column
// and a label column.
func rankingInsight(base model.Insight, rs *model.RowSet, valueCol int) (model.Insight, bool) {
	if rs.Len() < 2 || valueCol < 0 {
		return model.Insight{}, false
	}
	labelCol := -1
	for c := range rs.Columns {
		if c != valueCol && !numericColumn(rs, c) {
			labelCol = c
			break
		}
	}
	if labelCol < 0 {
		return model.Insight{}, false
	}

	prev := math.Inf(1)
	for i := range rs.Rows {
		v, ok := toFloat(rs.Value(i, valueCol))
		if !ok || v > prev {
			return model.Insight{}, false
		}
		prev = v
	}

	n := min(rankingTopN, rs.Len())
	in := base
	in.Kind = model.InsightRanking
	in.Metric = rs.Columns[valueCol]
	parts := make([]string, n)
	for i := range n {
		v, _ := toFloat(rs.Value(i, valueCol))
		label := labelOf(rs.Value(i, labelCol))
		in.Entries = append(in.Entries, model.RankedEntry{Label: label, Value: v})
		in.RowRefs = append(in.RowRefs, i)
		parts[i] = fmt.Sprintf("%d. %s (%s)", i+1, label, formatNumber(v))
	}
	in.Statement = fmt.Sprintf("Top %d by %s: %s", n, in.Metric, strings.Join(parts, ", "))
	return in, true
}

// anomalyInsights flags values more than two standard deviations from the
// mean of the remaining values in their column.
func anomalyInsights(base model.Insight, rs *model.RowSet) []model.Insight {
	if rs.Len() < anomalyMinRows {
		return nil
	}
	var out []model.Insight
	for c := range rs.Columns {
		if !numericColumn(rs, c) {
			continue
		}
		vals := make([]float64, rs.Len())
		for i := range rs.Rows {
			vals[i], _ = toFloat(rs.Value(i, c))
		}

		var refs []int
		for i, v := range vals {
			mean, sd := leaveOneOut(vals, i)
			if (sd == 0 && v != mean) || (sd > 0 && math.Abs(v-mean)/sd > anomalyThreshold) {
				refs = append(refs, i)
			}
		}
		if len(refs) == 0 || len(refs) > len(vals)/2 {
			continue
		}

		in := base
		in.Kind = model.InsightAnomaly
		in.Metric = rs.Columns[c]
		in.RowRefs = refs
		labels := make([]string, len(refs))
		for j, i := range refs {
			labels[j] = fmt.Sprintf("row %d (%s)", i+1, formatNumber(vals[i]))
		}
		in.Statement = fmt.Sprintf("Unusual %s values: %s.", in.Metric, strings.Join(labels, ", "))
		out = append(out, in)
	}
	return out
}

func leaveOneOut(vals []float64, skip int) (mean, sd float64) {
	n := float64(len(vals) - 1)
	for i, v := range vals {
		if i != skip {
			mean += v
		}
	}
	mean /= n
	var ss float64
	for i, v := range vals {
		if i != skip {
			ss += (v - mean) * (v - mean)
		}
	}
	return mean, math.Sqrt(ss / n)
}

// toFloat converts numeric cell values. Strings are not numeric.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func labelOf(v any) string {
	switch t := v.(type) {
	case nil:
		return "(blank)"
	case time.Time:
		return t.Format(time.DateOnly)
	case string:
		if parsed, ok := toTime(t); ok && strings.HasSuffix(t, "T00:00:00") {
			return parsed.Format(time.DateOnly)
		}
		return t
	default:
		return formatValue(v)
	}
}
