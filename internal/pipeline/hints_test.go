package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/insight-cli/internal/model"
)

func TestDeriveMetricHints(t *testing.T) {
	q := model.NewQuery("profit and revenue by region", model.DepthStandard, nil)
	assert.Equal(t, []string{"revenue", "profit"}, DeriveMetricHints(q, model.IntentSales))

	q = model.NewQuery("units sold", model.DepthStandard, map[string]string{model.HintMetric: "Margin"})
	assert.Equal(t, []string{"margin", "quantity", "revenue"}, DeriveMetricHints(q, model.IntentSales))

	q = model.NewQuery("hello", model.DepthStandard, nil)
	assert.Empty(t, DeriveMetricHints(q, model.IntentGeneral))
}

func TestBusinessContextFor(t *testing.T) {
	sales := BusinessContextFor(model.IntentSales)
	assert.Equal(t, "Sales & Marketing", sales.Domain)
	assert.Len(t, sales.Rules, 3)

	other := BusinessContextFor(model.IntentTrend)
	assert.Equal(t, "General Business", other.Domain)
	assert.Empty(t, other.Rules)
}

func TestEstimateComplexity(t *testing.T) {
	c, hints := EstimateComplexity(nil, model.IntentGeneral)
	assert.Equal(t, model.ComplexityLow, c)
	assert.Contains(t, hints, "Simple query expected")

	// 0.2 + 1.0 + 0.5 = 1.7
	one := []model.RelevanceScore{{Source: model.SourceDescriptor{Name: "Sales Model"}}}
	c, _ = EstimateComplexity(one, model.IntentSales)
	assert.Equal(t, model.ComplexityMedium, c)

	// 0.6 + 2.0 + 0.8 = 3.4
	three := []model.RelevanceScore{
		{Source: model.SourceDescriptor{Name: "Enterprise Warehouse"}},
		{Source: model.SourceDescriptor{Name: "DWH"}},
		{Source: model.SourceDescriptor{Name: "Cube"}},
	}
	c, hints = EstimateComplexity(three, model.IntentComparison)
	assert.Equal(t, model.ComplexityHigh, c)
	assert.Len(t, hints, 3)
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := range 5 {
		h.Add(fmt.Sprintf("q%d", i), model.IntentSales)
	}
	assert.Equal(t, []string{"q2", "q3", "q4"}, h.Recent(10))
	assert.Equal(t, []string{"q3", "q4"}, h.Recent(2))
	assert.Equal(t, map[model.Intent]int{model.IntentSales: 3}, h.IntentCounts())
}

func TestHistory_Concurrent(t *testing.T) {
	h := NewHistory(10)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Add(fmt.Sprintf("q%d", i), model.IntentTrend)
			_ = h.Recent(5)
		}()
	}
	wg.Wait()
	assert.Len(t, h.Recent(100), 10)
}

func TestHistory_Nil(t *testing.T) {
	var h *History
	h.Add("x", model.IntentSales)
	assert.Nil(t, h.Recent(5))
	assert.Empty(t, h.IntentCounts())
}
