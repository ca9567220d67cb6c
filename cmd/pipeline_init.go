package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/catalog"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/metrics"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/reasoning"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/store"
	anthropicpkg "github.com/sells-group/insight-cli/pkg/anthropic"
	openaipkg "github.com/sells-group/insight-cli/pkg/openai"
	"github.com/sells-group/insight-cli/pkg/powerbi"
	"github.com/sells-group/insight-cli/pkg/warehouse"
)

// pipelineEnv holds the initialized store, catalog and pipeline needed by
// the ask and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Catalog  *catalog.Router
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics

	closeCatalog func()
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.closeCatalog != nil {
		pe.closeCatalog()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store, builds the
// catalog and reasoning clients, and assembles the Pipeline. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	router, closeCatalog, err := initCatalog(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New(nil)
	reasoner, err := newReasoner(cfg, m)
	if err != nil {
		closeCatalog()
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Catalog:  router,
		Reasoner: reasoner,
		Runner:   router,
		Recorder: store.NewRecorder(st),
		Observer: m,
		Caches:   pipeline.NewCaches(cfg.Pipeline.Cache),
	},
		pipeline.WithIntentRules(pipeline.RulesFromConfig(cfg.Intents)),
		pipeline.WithPlannerOptions(
			pipeline.WithPlanBudget(cfg.Reasoning.MaxTokens, cfg.Reasoning.Temperature),
			pipeline.WithPlanTimeout(cfg.Reasoning.Timeout()),
		),
	)

	zap.L().Info("pipeline initialized",
		zap.Strings("providers", router.Providers()),
		zap.String("reasoning", cfg.Reasoning.Provider),
		zap.String("store", cfg.Store.Driver),
	)

	return &pipelineEnv{
		Store:        st,
		Catalog:      router,
		Pipeline:     p,
		Metrics:      m,
		closeCatalog: closeCatalog,
	}, nil
}

// initCatalog registers a connector for every configured provider plus the
// static catalog file. The returned func closes connector resources.
func initCatalog(ctx context.Context, c *config.Config) (*catalog.Router, func(), error) {
	var connectors []catalog.Connector
	closeFn := func() {}

	if c.PowerBI.Enabled() {
		client := powerbi.NewClient(powerbi.Credentials{
			TenantID:     c.PowerBI.TenantID,
			ClientID:     c.PowerBI.ClientID,
			ClientSecret: c.PowerBI.ClientSecret,
			TokenURL:     powerbi.TokenURL(c.PowerBI.AuthorityURL, c.PowerBI.TenantID),
			Scope:        c.PowerBI.Scope,
		},
			powerbi.WithBaseURL(c.PowerBI.BaseURL),
			powerbi.WithRateLimit(c.PowerBI.RateLimit, c.PowerBI.Burst),
		)
		connectors = append(connectors, catalog.NewPowerBI(client, c.PowerBI.Workspaces))
	} else {
		zap.L().Debug("powerbi credentials not set, power bi connector disabled")
	}

	if c.Warehouse.DatabaseURL != "" {
		wh, err := warehouse.New(ctx, warehouse.Config{
			URL:     c.Warehouse.DatabaseURL,
			Schema:  c.Warehouse.Schema,
			MaxRows: c.Warehouse.MaxRows,
		})
		if err != nil {
			return nil, nil, eris.Wrap(err, "init warehouse")
		}
		connectors = append(connectors, catalog.NewWarehouse(c.Warehouse.Name, wh))
		closeFn = wh.Close
	}

	opts := []catalog.RouterOption{
		catalog.WithRefresh(time.Duration(c.Catalog.RefreshSecs) * time.Second),
		catalog.WithBreakers(resilience.NewServiceBreakers(
			resilience.FromCircuitConfig(c.Reasoning.Circuit.FailureThreshold, c.Reasoning.Circuit.ResetTimeoutSecs),
		)),
	}
	if c.Catalog.File != "" {
		static, err := catalog.LoadFile(c.Catalog.File)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		opts = append(opts, catalog.WithStaticSources(static))
		zap.L().Info("static catalog loaded", zap.String("file", c.Catalog.File), zap.Int("sources", len(static)))
	}

	return catalog.NewRouter(connectors, opts...), closeFn, nil
}

// newReasoner returns the configured planning capability guarded by a
// circuit breaker, or nil when planning should always use templates. Token
// usage is priced and reported to m when m is non-nil.
func newReasoner(c *config.Config, m *metrics.Metrics) (pipeline.Reasoner, error) {
	var r reasoning.Reasoner
	model := c.OpenAI.Model
	switch c.Reasoning.Provider {
	case "anthropic":
		var opts []anthropicpkg.Option
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		r = reasoning.NewAnthropic(anthropicpkg.NewClient(c.Anthropic.Key, opts...), c.Anthropic.Model)
		model = c.Anthropic.Model
	case "openai":
		var opts []openaipkg.Option
		if c.OpenAI.BaseURL != "" {
			opts = append(opts, openaipkg.WithBaseURL(c.OpenAI.BaseURL))
		}
		r = reasoning.NewOpenAI(openaipkg.NewClient(c.OpenAI.Key, opts...), c.OpenAI.Model)
	case "azure":
		client := openaipkg.NewClient(c.OpenAI.Key, openaipkg.WithAzure(c.OpenAI.AzureEndpoint, c.OpenAI.APIVersion))
		r = reasoning.NewOpenAI(client, c.OpenAI.Model)
	case "none", "":
		zap.L().Info("reasoning disabled, plans will use templates")
		return nil, nil
	default:
		return nil, eris.Errorf("unknown reasoning provider %q", c.Reasoning.Provider)
	}

	if m != nil {
		calc := cost.NewCalculator(cost.RatesFromConfig(c.Pricing))
		r = reasoning.WithUsage(r, model, func(model string, in, out int64) {
			usd := calc.Tokens(model, in, out)
			m.ObserveReasoning(model, in, out, usd)
			zap.L().Debug("reasoning usage",
				zap.String("model", model),
				zap.Int64("input_tokens", in),
				zap.Int64("output_tokens", out),
				zap.Float64("cost_usd", usd),
			)
		})
	}

	cb := resilience.NewCircuitBreaker("reasoning:"+c.Reasoning.Provider,
		resilience.FromCircuitConfig(c.Reasoning.Circuit.FailureThreshold, c.Reasoning.Circuit.ResetTimeoutSecs))
	return reasoning.WithBreaker(r, cb), nil
}
