package model

// Intent is the business purpose of a query, drawn from a closed but
// configurable taxonomy.
type Intent string

const (
	IntentSales       Intent = "sales_analysis"
	IntentPerformance Intent = "performance_analysis"
	IntentTrend       Intent = "trend_analysis"
	IntentComparison  Intent = "comparison_analysis"
	IntentRanking     Intent = "ranking_analysis"
	IntentCustomer    Intent = "customer_analysis"
	IntentProduct     Intent = "product_analysis"
	IntentGeographic  Intent = "geographic_analysis"
	IntentFinancial   Intent = "financial_analysis"
	IntentGeneral     Intent = "general_analysis"
)

// KnownIntents lists the built-in taxonomy in classification order, with the
// default last.
var KnownIntents = []Intent{
	IntentSales,
	IntentPerformance,
	IntentTrend,
	IntentComparison,
	IntentRanking,
	IntentCustomer,
	IntentProduct,
	IntentGeographic,
	IntentFinancial,
	IntentGeneral,
}

func (i Intent) String() string { return string(i) }
