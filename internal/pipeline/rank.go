package pipeline

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/insight-cli/internal/cache"
	"github.com/sells-group/insight-cli/internal/model"
)

const (
	defaultTopK = 3

	intentKeywordWeight = 1.0
	queryTokenWeight    = 0.25
)

// sourceKeywords are the per-intent terms looked for in source metadata.
var sourceKeywords = map[model.Intent][]string{
	model.IntentSales:       {"sales", "revenue", "order", "transaction"},
	model.IntentCustomer:    {"customer", "client", "account", "crm"},
	model.IntentProduct:     {"product", "inventory", "item", "catalog"},
	model.IntentFinancial:   {"finance", "budget", "accounting", "expense"},
	model.IntentPerformance: {"performance", "kpi", "metric", "dashboard"},
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "our": true, "what": true, "were": true,
	"was": true, "are": true, "how": true, "did": true, "does": true, "with": true,
	"from": true, "this": true, "that": true, "last": true, "past": true, "show": true,
	"give": true, "which": true, "who": true, "all": true, "by": true, "of": true,
	"in": true, "on": true, "to": true, "me": true, "is": true, "a": true, "an": true,
}

// Ranker scores catalog sources against an intent and query text and keeps
// the top K.
type Ranker struct {
	k     int
	cache *cache.TTL[[]model.RelevanceScore]
}

// NewRanker creates a ranker keeping k sources. Non-positive k uses the
// default of 3. A nil cache disables memoization.
func NewRanker(k int, c *cache.TTL[[]model.RelevanceScore]) *Ranker {
	if k <= 0 {
		k = defaultTopK
	}
	return &Ranker{k: k, cache: c}
}

// K returns the maximum number of ranked sources.
func (r *Ranker) K() int { return r.k }

// Rank returns at most K scored sources sorted by descending score with
// ties broken by ascending id. When nothing scores above zero the sources
// with the most raw token overlap are returned instead.
func (r *Ranker) Rank(intent model.Intent, text string, sources []model.SourceDescriptor) []model.RelevanceScore {
	if len(sources) == 0 {
		return nil
	}

	key := r.cacheKey(intent, text, sources)
	if hit, ok := r.cache.Get(key); ok {
		return slices.Clone(hit)
	}

	queryTokens := uniqueTokens(tokenize(model.NormalizeText(text)))
	keywords := sourceKeywords[intent]

	scored := make([]model.RelevanceScore, 0, len(sources))
	anyPositive := false
	for _, s := range sources {
		rs := scoreSource(s, keywords, queryTokens)
		if rs.Score > 0 {
			anyPositive = true
		}
		scored = append(scored, rs)
	}

	if !anyPositive {
		scored = overlapFallback(sources, queryTokens)
	}

	slices.SortStableFunc(scored, func(a, b model.RelevanceScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Source.ID, b.Source.ID)
	})
	if len(scored) > r.k {
		scored = scored[:r.k]
	}

	if !anyPositive {
		for i := range scored {
			scored[i].Score = 0
		}
	}

	r.cache.Set(key, scored)
	return slices.Clone(scored)
}

func scoreSource(s model.SourceDescriptor, keywords, queryTokens []string) model.RelevanceScore {
	hay := sourceTokens(s)
	rs := model.RelevanceScore{Source: s}
	for _, kw := range keywords {
		if keywordMatches(kw, hay) {
			rs.Score += intentKeywordWeight
			rs.Matched = append(rs.Matched, kw)
		}
	}
	for _, t := range queryTokens {
		if stopWords[t] || len(t) < 3 || slices.Contains(rs.Matched, t) {
			continue
		}
		if keywordMatches(t, hay) || keywordMatches(strings.TrimSuffix(t, "s"), hay) {
			rs.Score += queryTokenWeight
			rs.Matched = append(rs.Matched, t)
		}
	}
	return rs
}

// overlapFallback scores every source by how many query tokens appear
// anywhere in its metadata text. Score carries the overlap count only for
// sorting; callers zero it afterwards.
func overlapFallback(sources []model.SourceDescriptor, queryTokens []string) []model.RelevanceScore {
	out := make([]model.RelevanceScore, 0, len(sources))
	for _, s := range sources {
		hay := strings.Join(sourceTokens(s), " ")
		rs := model.RelevanceScore{Source: s}
		for _, t := range queryTokens {
			if len(t) >= 2 && strings.Contains(hay, t) {
				rs.Score++
				rs.Matched = append(rs.Matched, t)
			}
		}
		out = append(out, rs)
	}
	return out
}

func sourceTokens(s model.SourceDescriptor) []string {
	parts := []string{s.Name, s.WorkspaceName, s.WorkspaceID}
	parts = append(parts, s.Fields...)
	var out []string
	for _, p := range parts {
		out = append(out, tokenize(splitCamel(p))...)
	}
	return out
}

// splitCamel lower-cases s, inserting a space at lower-to-upper boundaries
// so "SalesAmount" tokenizes as "sales amount".
func splitCamel(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		isUpper := r >= 'A' && r <= 'Z'
		if isUpper && prevLower {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prevLower = r >= 'a' && r <= 'z'
	}
	return strings.ToLower(b.String())
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func (r *Ranker) cacheKey(intent model.Intent, text string, sources []model.SourceDescriptor) string {
	if r.cache == nil {
		return ""
	}
	parts := make([]string, 0, len(sources)+2)
	parts = append(parts, string(intent), model.NormalizeText(text))
	for _, s := range sources {
		parts = append(parts, strings.Join([]string{
			s.ID, s.Name, s.WorkspaceID, s.WorkspaceName, strings.Join(s.Fields, ","),
		}, "|"))
	}
	return cache.Key(parts...)
}
