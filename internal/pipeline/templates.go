package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/insight-cli/internal/model"
)

type templateKind int

const (
	templateRanking templateKind = iota
	templateTrend
	templateCount
)

const fallbackTopN = 10

// metricColumns lists likely column names for each canonical metric, most
// specific first.
var metricColumns = map[string][]string{
	"revenue":   {"Sales Amount", "Revenue", "Sales", "Amount"},
	"profit":    {"Profit", "Gross Profit"},
	"margin":    {"Margin"},
	"cost":      {"Cost", "Expense", "Amount"},
	"budget":    {"Budget"},
	"quantity":  {"Quantity", "Units", "Qty"},
	"inventory": {"Inventory", "Stock", "Quantity"},
	"roi":       {"ROI"},
}

// countMetrics are measured by counting rows rather than summing a column.
var countMetrics = map[string]bool{
	"customers": true,
	"orders":    true,
	"churn":     true,
	"retention": true,
}

var metricLabels = map[string]string{
	"revenue":   "Sales",
	"profit":    "Profit",
	"margin":    "Margin",
	"cost":      "Cost",
	"budget":    "Budget",
	"quantity":  "Quantity",
	"inventory": "Inventory",
	"roi":       "ROI",
	"customers": "Customers",
	"orders":    "Orders",
	"churn":     "Churned",
	"retention": "Retained",
}

// dimensionColumns lists grouping columns per intent.
var dimensionColumns = map[model.Intent][]string{
	model.IntentSales:       {"Product", "Item", "Category", "Name"},
	model.IntentRanking:     {"Product", "Item", "Name", "Category"},
	model.IntentProduct:     {"Product", "Item", "Category", "Name"},
	model.IntentComparison:  {"Category", "Product", "Region", "Name"},
	model.IntentPerformance: {"Product", "Region", "Category", "Name"},
	model.IntentCustomer:    {"Customer", "Client", "Account", "Segment"},
	model.IntentGeographic:  {"Region", "Country", "State", "City"},
	model.IntentFinancial:   {"Category", "Account", "Department", "Cost Center"},
}

func templateFor(intent model.Intent) templateKind {
	switch intent {
	case model.IntentTrend:
		return templateTrend
	case model.IntentGeneral:
		return templateCount
	default:
		if _, ok := dimensionColumns[intent]; ok {
			return templateRanking
		}
		return templateCount
	}
}

// BuildFallbackPlan returns one canned step per ranked source, keyed by the
// intent, the top metric hint and the source's query dialect.
func BuildFallbackPlan(actx *model.AnalysisContext) []model.PlanStep {
	metric := actx.TopMetric()
	kind := templateFor(actx.Intent)

	steps := make([]model.PlanStep, 0, len(actx.Sources))
	for i, rs := range actx.Sources {
		src := rs.Source
		q := fallbackQuery(kind, actx, metric, src)
		steps = append(steps, model.PlanStep{
			Index:     i,
			SourceID:  src.ID,
			Query:     q,
			Rationale: fallbackRationale(kind, metric, src),
			Aggregate: kind == templateRanking,
		})
	}
	return steps
}

func fallbackRationale(kind templateKind, metric string, src model.SourceDescriptor) string {
	switch kind {
	case templateRanking:
		return fmt.Sprintf("Top %d by %s from %s", fallbackTopN, metricLabel(metric), src.Name)
	case templateTrend:
		return fmt.Sprintf("%s over time from %s", metricLabel(metric), src.Name)
	default:
		return fmt.Sprintf("Row count of %s", src.Name)
	}
}

type measure struct {
	column string
	alias  string
	count  bool
}

func resolveMeasure(metric string, src model.SourceDescriptor) measure {
	alias := "Total " + metricLabel(metric)
	if countMetrics[metric] {
		return measure{alias: alias, count: true}
	}
	candidates, ok := metricColumns[metric]
	if !ok {
		candidates = []string{"Amount"}
	}
	return measure{column: resolveField(src, metric, candidates), alias: alias}
}

// resolveField picks the first known field matching the metric or one of
// the candidates. Without schema metadata the first candidate is assumed.
func resolveField(src model.SourceDescriptor, word string, candidates []string) string {
	needles := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		needles = append(needles, strings.ToLower(c))
	}
	if word != "" {
		needles = append(needles, strings.ToLower(word))
	}
	for _, n := range needles {
		for _, f := range src.Fields {
			if strings.Contains(strings.ToLower(f), n) {
				return f
			}
		}
	}
	return candidates[0]
}

func dateField(src model.SourceDescriptor) (string, bool) {
	for _, f := range src.Fields {
		if strings.Contains(strings.ToLower(f), "date") {
			return f, true
		}
	}
	return "", false
}

func fallbackQuery(kind templateKind, actx *model.AnalysisContext, metric string, src model.SourceDescriptor) string {
	if src.Dialect == model.DialectSQL {
		return fallbackSQL(kind, actx, metric, src)
	}
	return fallbackDAX(kind, actx, metric, src)
}

func fallbackDAX(kind templateKind, actx *model.AnalysisContext, metric string, src model.SourceDescriptor) string {
	table := daxTable(src.Name)
	col := func(name string) string { return table + "[" + name + "]" }

	m := resolveMeasure(metric, src)
	agg := fmt.Sprintf("SUM(%s)", col(m.column))
	if m.count {
		agg = fmt.Sprintf("COUNTROWS(%s)", table)
	}

	filter := func(expr string) string {
		df, ok := dateField(src)
		if !ok {
			return expr
		}
		w := actx.Window
		return fmt.Sprintf("CALCULATETABLE(%s, %s >= DATE(%d, %d, %d), %s < DATE(%d, %d, %d))",
			expr,
			col(df), w.Start.Year(), int(w.Start.Month()), w.Start.Day(),
			col(df), w.End.Year(), int(w.End.Month()), w.End.Day(),
		)
	}

	switch kind {
	case templateRanking:
		dim := resolveField(src, "", dimensionColumns[actx.Intent])
		summary := fmt.Sprintf("SUMMARIZE(%s, %s, %q, %s)", table, col(dim), m.alias, agg)
		return fmt.Sprintf("EVALUATE TOPN(%d, %s, [%s], DESC) ORDER BY [%s] DESC",
			fallbackTopN, filter(summary), m.alias, m.alias)
	case templateTrend:
		df, ok := dateField(src)
		if !ok {
			df = "Date"
		}
		summary := fmt.Sprintf("SUMMARIZE(%s, %s, %q, %s)", table, col(df), m.alias, agg)
		return fmt.Sprintf("EVALUATE %s ORDER BY %s ASC", filter(summary), col(df))
	default:
		return fmt.Sprintf("EVALUATE ROW(\"Row Count\", COUNTROWS(%s))", table)
	}
}

func fallbackSQL(kind templateKind, actx *model.AnalysisContext, metric string, src model.SourceDescriptor) string {
	_, native, _ := strings.Cut(src.ID, ":")
	table := sqlTable(native)

	m := resolveMeasure(metric, src)
	agg := fmt.Sprintf("SUM(%s)", sqlIdent(m.column))
	if m.count {
		agg = "COUNT(*)"
	}

	where := ""
	if df, ok := dateField(src); ok {
		w := actx.Window
		where = fmt.Sprintf(" WHERE %s >= '%s' AND %s < '%s'",
			sqlIdent(df), w.Start.Format("2006-01-02"), sqlIdent(df), w.End.Format("2006-01-02"))
	}

	switch kind {
	case templateRanking:
		dim := resolveField(src, "", dimensionColumns[actx.Intent])
		return fmt.Sprintf("SELECT %s, %s AS %s FROM %s%s GROUP BY 1 ORDER BY 2 DESC LIMIT %d",
			sqlIdent(dim), agg, sqlIdent(m.alias), table, where, fallbackTopN)
	case templateTrend:
		df, ok := dateField(src)
		if !ok {
			df = "date"
		}
		grain := actx.Window.Granularity
		if grain == "" {
			grain = model.GranularityDay
		}
		return fmt.Sprintf("SELECT date_trunc('%s', %s) AS period, %s AS %s FROM %s%s GROUP BY 1 ORDER BY 1",
			grain, sqlIdent(df), agg, sqlIdent(m.alias), table, where)
	default:
		return fmt.Sprintf("SELECT COUNT(*) AS %s FROM %s", sqlIdent("Row Count"), table)
	}
}

func metricLabel(metric string) string {
	if l, ok := metricLabels[metric]; ok {
		return l
	}
	if metric == "" {
		return "Value"
	}
	return titleCase(metric)
}

func daxTable(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlTable quotes a schema-qualified table name part by part.
func sqlTable(native string) string {
	parts := strings.Split(native, ".")
	for i, p := range parts {
		parts[i] = sqlIdent(p)
	}
	return strings.Join(parts, ".")
}
