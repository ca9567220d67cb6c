package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/metrics"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

const testCatalog = `sources:
  - id: powerbi:sales
    name: Sales
    workspace_id: ws-1
    workspace_name: Finance
    fields: [Product, Region, Revenue]
  - id: warehouse:public.orders
    name: orders
    workspace_id: public
    fields: [order_date, customer_id, amount]
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	return path
}

func TestNewReasoner(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantNil  bool
		wantErr  bool
	}{
		{"none", "none", true, false},
		{"empty", "", true, false},
		{"anthropic", "anthropic", false, false},
		{"openai", "openai", false, false},
		{"azure", "azure", false, false},
		{"unknown", "bard", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &config.Config{
				Reasoning: config.ReasoningConfig{Provider: tt.provider},
				Anthropic: config.AnthropicConfig{Key: "sk-test", Model: "claude-sonnet-4-5-20250929"},
				OpenAI: config.OpenAIConfig{
					Key:           "sk-test",
					Model:         "gpt-4o",
					AzureEndpoint: "https://example.openai.azure.com",
					APIVersion:    "2024-06-01",
				},
			}

			r, err := newReasoner(c, metrics.New(nil))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, r)
			} else {
				assert.NotNil(t, r)
			}
		})
	}
}

func TestInitCatalog_StaticFile(t *testing.T) {
	c := &config.Config{Catalog: config.CatalogConfig{File: writeCatalog(t)}}

	router, closeFn, err := initCatalog(context.Background(), c)
	require.NoError(t, err)
	defer closeFn()

	assert.Empty(t, router.Providers())

	sources, err := router.ListSources(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "powerbi:sales", sources[0].ID)
	assert.Equal(t, model.DialectDAX, sources[0].Dialect)
	assert.Equal(t, model.DialectSQL, sources[1].Dialect)

	scoped, err := router.ListSources(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "Finance", scoped[0].WorkspaceName)
}

func TestInitCatalog_PowerBIConnector(t *testing.T) {
	c := &config.Config{PowerBI: config.PowerBIConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      "http://127.0.0.1:1",
	}}

	router, closeFn, err := initCatalog(context.Background(), c)
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, []string{"powerbi"}, router.Providers())
}

func TestInitCatalog_MissingFile(t *testing.T) {
	c := &config.Config{Catalog: config.CatalogConfig{File: filepath.Join(t.TempDir(), "nope.yaml")}}

	_, _, err := initCatalog(context.Background(), c)

	assert.Error(t, err)
}

func TestInitPipeline_StaticCatalogSQLite(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "runs.db")},
		Reasoning: config.ReasoningConfig{Provider: "none", MaxTokens: 1500},
		Catalog:   config.CatalogConfig{File: writeCatalog(t)},
		Pipeline: config.PipelineConfig{
			TopK:        3,
			FanOut:      4,
			HistorySize: 10,
			Retry:       config.RetryConfig{MaxAttempts: 1},
		},
	}

	env, err := initPipeline(context.Background(), "ask")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Pipeline)
	require.NotNil(t, env.Metrics)

	res := env.Pipeline.Analyze(context.Background(), model.NewQuery("top products by revenue", model.DepthStandard, nil))
	require.NotNil(t, res)
	assert.Equal(t, model.IntentSales, res.Intent)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Response)

	runs, err := env.Store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"}}

	_, err := initPipeline(context.Background(), "ask")

	assert.Error(t, err)
}
