package pipeline

import (
	"strings"
	"unicode"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
)

// IntentRule maps a keyword set to an intent. A rule matches when any
// keyword appears in the query.
type IntentRule struct {
	Intent   model.Intent
	Keywords []string
}

// DefaultIntentRules is the built-in classification table, in evaluation
// order.
var DefaultIntentRules = []IntentRule{
	{Intent: model.IntentSales, Keywords: []string{"sales", "revenue", "profit", "income"}},
	{Intent: model.IntentPerformance, Keywords: []string{"performance", "kpi", "metric", "target"}},
	{Intent: model.IntentTrend, Keywords: []string{"trend", "growth", "change", "over time", "quarterly", "monthly"}},
	{Intent: model.IntentComparison, Keywords: []string{"compare", "vs", "versus", "difference", "better", "worse"}},
	{Intent: model.IntentRanking, Keywords: []string{"top", "bottom", "best", "worst", "highest", "lowest"}},
	{Intent: model.IntentCustomer, Keywords: []string{"customer", "client", "account", "segment"}},
	{Intent: model.IntentProduct, Keywords: []string{"product", "item", "category", "inventory"}},
	{Intent: model.IntentGeographic, Keywords: []string{"region", "country", "state", "city", "location", "geographic"}},
	{Intent: model.IntentFinancial, Keywords: []string{"budget", "cost", "expense", "margin", "roi", "financial"}},
}

// RulesFromConfig converts configured rules. An empty list yields the
// built-in table.
func RulesFromConfig(cfgs []config.IntentRuleConfig) []IntentRule {
	if len(cfgs) == 0 {
		return DefaultIntentRules
	}
	rules := make([]IntentRule, 0, len(cfgs))
	for _, c := range cfgs {
		kws := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			if kw = model.NormalizeText(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		rules = append(rules, IntentRule{Intent: model.Intent(c.Intent), Keywords: kws})
	}
	return rules
}

// Classifier assigns an intent to query text. It is stateless and safe for
// concurrent use.
type Classifier struct {
	rules    []IntentRule
	fallback model.Intent
}

// NewClassifier creates a classifier over rules. Nil rules use the
// built-in table.
func NewClassifier(rules []IntentRule) *Classifier {
	if rules == nil {
		rules = DefaultIntentRules
	}
	return &Classifier{rules: rules, fallback: model.IntentGeneral}
}

// Classify returns the intent of the first matching rule, or
// general_analysis when nothing matches.
func (c *Classifier) Classify(text string) model.Intent {
	intent, _ := c.ClassifyWithMatch(text)
	return intent
}

// ClassifyWithMatch is Classify that also reports whether a rule matched.
func (c *Classifier) ClassifyWithMatch(text string) (model.Intent, bool) {
	tokens := tokenize(model.NormalizeText(text))
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if keywordMatches(kw, tokens) {
				return r.Intent, true
			}
		}
	}
	return c.fallback, false
}

// tokenize splits lower-cased text on anything that is not a letter or
// digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordMatches matches single words against whole tokens (allowing a
// plural suffix) and multi-word phrases by containment.
func keywordMatches(kw string, tokens []string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(" "+strings.Join(tokens, " ")+" ", " "+kw+" ")
	}
	for _, t := range tokens {
		if t == kw || t == kw+"s" || t == kw+"es" {
			return true
		}
	}
	return false
}
