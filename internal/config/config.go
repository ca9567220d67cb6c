package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig        `yaml:"store" mapstructure:"store"`
	Reasoning  ReasoningConfig    `yaml:"reasoning" mapstructure:"reasoning"`
	Anthropic  AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig       `yaml:"openai" mapstructure:"openai"`
	PowerBI    PowerBIConfig      `yaml:"powerbi" mapstructure:"powerbi"`
	Warehouse  WarehouseConfig    `yaml:"warehouse" mapstructure:"warehouse"`
	Catalog    CatalogConfig      `yaml:"catalog" mapstructure:"catalog"`
	Pipeline   PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Intents    []IntentRuleConfig `yaml:"intents" mapstructure:"intents"`
	Server     ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ReasoningConfig selects and bounds the remote planning capability.
type ReasoningConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // anthropic, openai, azure, none
	MaxTokens   int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// Timeout returns the per-call reasoning timeout.
func (r ReasoningConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// CircuitConfig configures a circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI or Azure OpenAI settings. For Azure, Model is
// the deployment name.
type OpenAIConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	Model         string `yaml:"model" mapstructure:"model"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	AzureEndpoint string `yaml:"azure_endpoint" mapstructure:"azure_endpoint"`
	APIVersion    string `yaml:"api_version" mapstructure:"api_version"`
}

// PowerBIConfig holds service principal credentials for the Power BI REST API.
type PowerBIConfig struct {
	TenantID     string   `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	AuthorityURL string   `yaml:"authority_url" mapstructure:"authority_url"`
	Scope        string   `yaml:"scope" mapstructure:"scope"`
	RateLimit    float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst        int      `yaml:"burst" mapstructure:"burst"`
	Workspaces   []string `yaml:"workspaces" mapstructure:"workspaces"`
}

// Enabled reports whether service principal credentials are present.
func (p PowerBIConfig) Enabled() bool {
	return p.TenantID != "" && p.ClientID != "" && p.ClientSecret != ""
}

// WarehouseConfig configures the SQL warehouse connector.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Name        string `yaml:"name" mapstructure:"name"`
	MaxRows     int    `yaml:"max_rows" mapstructure:"max_rows"`
}

// CatalogConfig configures source discovery.
type CatalogConfig struct {
	File        string `yaml:"file" mapstructure:"file"`
	RefreshSecs int    `yaml:"refresh_secs" mapstructure:"refresh_secs"`
}

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	TopK            int            `yaml:"top_k" mapstructure:"top_k"`
	FanOut          int            `yaml:"fan_out" mapstructure:"fan_out"`
	StepTimeoutSecs int            `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	Deadlines       DeadlineConfig `yaml:"deadlines" mapstructure:"deadlines"`
	Cache           CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Retry           RetryConfig    `yaml:"retry" mapstructure:"retry"`
	HistorySize     int            `yaml:"history_size" mapstructure:"history_size"`
}

// StepTimeout returns the per-attempt query timeout.
func (p PipelineConfig) StepTimeout() time.Duration {
	return time.Duration(p.StepTimeoutSecs) * time.Second
}

// DeadlineConfig holds the end-to-end budget per analysis depth, in seconds.
type DeadlineConfig struct {
	Standard  int `yaml:"standard" mapstructure:"standard"`
	Deep      int `yaml:"deep" mapstructure:"deep"`
	Extensive int `yaml:"extensive" mapstructure:"extensive"`
}

// For returns the deadline for depth. Unknown depths get the standard budget.
func (d DeadlineConfig) For(depth string) time.Duration {
	secs := d.Standard
	switch depth {
	case "deep":
		secs = d.Deep
	case "extensive":
		secs = d.Extensive
	}
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// CacheConfig holds cache TTLs in seconds.
type CacheConfig struct {
	AnalysisTTLSecs  int `yaml:"analysis_ttl_secs" mapstructure:"analysis_ttl_secs"`
	RelevanceTTLSecs int `yaml:"relevance_ttl_secs" mapstructure:"relevance_ttl_secs"`
	ExecutionTTLSecs int `yaml:"execution_ttl_secs" mapstructure:"execution_ttl_secs"`
}

// RetryConfig configures retry for remote query calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// IntentRuleConfig overrides the built-in classification table. Rules are
// evaluated in order.
type IntentRuleConfig struct {
	Intent   string   `yaml:"intent" mapstructure:"intent"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinAvgConfidence      float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// CooldownMins suppresses a repeat of the same alert type.
	CooldownMins int `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
}

// Enabled reports whether alerts have somewhere to go.
func (m MonitoringConfig) Enabled() bool {
	return m.WebhookURL != ""
}

// PricingConfig overrides reasoning token prices, keyed by model or Azure
// deployment name.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "insight.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("reasoning.provider", "anthropic")
	v.SetDefault("reasoning.max_tokens", 1500)
	v.SetDefault("reasoning.temperature", 0.0)
	v.SetDefault("reasoning.timeout_secs", 15)
	v.SetDefault("reasoning.circuit.failure_threshold", 5)
	v.SetDefault("reasoning.circuit.reset_timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.api_version", "2024-06-01")
	v.SetDefault("powerbi.base_url", "https://api.powerbi.com/v1.0/myorg")
	v.SetDefault("powerbi.authority_url", "https://login.microsoftonline.com")
	v.SetDefault("powerbi.scope", "https://analysis.windows.net/powerbi/api/.default")
	v.SetDefault("powerbi.rate_limit", 2.0)
	v.SetDefault("powerbi.burst", 4)
	v.SetDefault("warehouse.schema", "public")
	v.SetDefault("warehouse.name", "warehouse")
	v.SetDefault("warehouse.max_rows", 1000)
	v.SetDefault("catalog.refresh_secs", 300)
	v.SetDefault("pipeline.top_k", 3)
	v.SetDefault("pipeline.fan_out", 4)
	v.SetDefault("pipeline.step_timeout_secs", 20)
	v.SetDefault("pipeline.history_size", 10)
	v.SetDefault("pipeline.deadlines.standard", 30)
	v.SetDefault("pipeline.deadlines.deep", 60)
	v.SetDefault("pipeline.deadlines.extensive", 120)
	v.SetDefault("pipeline.cache.analysis_ttl_secs", 600)
	v.SetDefault("pipeline.cache.relevance_ttl_secs", 300)
	v.SetDefault("pipeline.cache.execution_ttl_secs", 900)
	v.SetDefault("pipeline.retry.max_attempts", 3)
	v.SetDefault("pipeline.retry.initial_backoff_ms", 200)
	v.SetDefault("pipeline.retry.max_backoff_ms", 5000)
	v.SetDefault("pipeline.retry.multiplier", 2.0)
	v.SetDefault("pipeline.retry.jitter_fraction", 0.25)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_avg_confidence", 0.4)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.8)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.cooldown_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of ask, serve,
// sources or runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ask", "serve", "sources":
		if !c.PowerBI.Enabled() && c.Warehouse.DatabaseURL == "" && c.Catalog.File == "" {
			errs = append(errs, "at least one of powerbi credentials, warehouse.database_url or catalog.file is required")
		}
		if mode != "sources" {
			errs = append(errs, c.validateReasoning()...)
			errs = append(errs, c.validatePipeline()...)
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
	case "runs":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateReasoning() []string {
	var errs []string
	switch c.Reasoning.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			errs = append(errs, "openai.key is required")
		}
	case "azure":
		if c.OpenAI.Key == "" {
			errs = append(errs, "openai.key is required")
		}
		if c.OpenAI.AzureEndpoint == "" {
			errs = append(errs, "openai.azure_endpoint is required")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("reasoning.provider must be anthropic, openai, azure or none, got %q", c.Reasoning.Provider))
	}
	if c.Reasoning.Temperature < 0 || c.Reasoning.Temperature > 1 {
		errs = append(errs, "reasoning.temperature must be between 0 and 1")
	}
	if c.Reasoning.MaxTokens <= 0 {
		errs = append(errs, "reasoning.max_tokens must be > 0")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	p := c.Pipeline
	if p.TopK < 1 || p.TopK > 20 {
		errs = append(errs, fmt.Sprintf("pipeline.top_k must be 1-20, got %d", p.TopK))
	}
	if p.FanOut < 1 || p.FanOut > 32 {
		errs = append(errs, fmt.Sprintf("pipeline.fan_out must be 1-32, got %d", p.FanOut))
	}
	if p.Retry.MaxAttempts < 1 || p.Retry.MaxAttempts > 10 {
		errs = append(errs, fmt.Sprintf("pipeline.retry.max_attempts must be 1-10, got %d", p.Retry.MaxAttempts))
	}
	if p.Retry.JitterFraction < 0 || p.Retry.JitterFraction > 1 {
		errs = append(errs, "pipeline.retry.jitter_fraction must be between 0 and 1")
	}
	for i, r := range c.Intents {
		if r.Intent == "" || len(r.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("intents[%d] needs an intent and at least one keyword", i))
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
