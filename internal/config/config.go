package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Search   SearchConfig   `mapstructure:"search"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"min=1"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	MaxConns int    `mapstructure:"max_conns" validate:"min=1"`
	MinConns int    `mapstructure:"min_conns" validate:"gte=0"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type QueueConfig struct {
	Name        string        `mapstructure:"name" validate:"required"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	MaxRetry    int           `mapstructure:"max_retry" validate:"gte=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	Retention   time.Duration `mapstructure:"retention"`
}

type StorageConfig struct {
	Backend           string        `mapstructure:"backend" validate:"oneof=local s3"`
	Dir               string        `mapstructure:"dir" validate:"required_if=Backend local"`
	S3Bucket          string        `mapstructure:"s3_bucket" validate:"required_if=Backend s3"`
	S3Endpoint        string        `mapstructure:"s3_endpoint"`
	S3Region          string        `mapstructure:"s3_region"`
	S3AccessKeyID     string        `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string        `mapstructure:"s3_secret_access_key"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

type LLMConfig struct {
	GeminiKey         string `mapstructure:"gemini_api_key"`
	OpenAIKey         string `mapstructure:"openai_api_key"`
	AnthropicKey      string `mapstructure:"anthropic_api_key"`
	OllamaURL         string `mapstructure:"ollama_url"`
	DefaultProvider   string `mapstructure:"default_provider" validate:"oneof=gemini openai anthropic ollama"`
	DefaultModel      string `mapstructure:"default_model" validate:"required"`
	FallbackProvider  string `mapstructure:"fallback_provider" validate:"omitempty,oneof=gemini openai anthropic ollama"`
	FallbackModel     string `mapstructure:"fallback_model" validate:"required_with=FallbackProvider"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
}

type EngineConfig struct {
	Backend           string        `mapstructure:"backend" validate:"oneof=crew agents"`
	MaxSteps          int           `mapstructure:"max_steps" validate:"min=1"`
	MaxTurns          int           `mapstructure:"max_turns" validate:"min=1"`
	AgentsModel       string        `mapstructure:"agents_model"`
	AgentsBaseURL     string        `mapstructure:"agents_base_url"`
	DefaultDocument   string        `mapstructure:"default_document"`
	MaxDocumentTokens int           `mapstructure:"max_document_tokens" validate:"min=1"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	SerperKey string        `mapstructure:"serper_api_key"`
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Results   int           `mapstructure:"results" validate:"min=1,max=20"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type LedgerConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	PurgeCron string        `mapstructure:"purge_cron"`
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.log_level":        "info",
	"server.read_timeout":     "30s",
	"server.write_timeout":    "30m",
	"server.max_upload_bytes": int64(32 << 20),
	"server.rate_limit_rps":   20.0,
	"server.rate_limit_burst": 40,

	"database.url":       "sqlite://./financial_analyzer.db",
	"database.max_conns": 10,
	"database.min_conns": 2,

	"redis.url": "redis://localhost:6379/0",

	"queue.name":         "analysis",
	"queue.concurrency":  1,
	"queue.max_retry":    3,
	"queue.task_timeout": "30m",
	"queue.retention":    "24h",

	"storage.backend":              "local",
	"storage.dir":                  "data",
	"storage.s3_bucket":            "",
	"storage.s3_endpoint":          "",
	"storage.s3_region":            "us-east-1",
	"storage.s3_access_key_id":     "",
	"storage.s3_secret_access_key": "",
	"storage.stale_after":          "6h",

	"llm.gemini_api_key":      "",
	"llm.openai_api_key":      "",
	"llm.anthropic_api_key":   "",
	"llm.ollama_url":          "",
	"llm.default_provider":    "gemini",
	"llm.default_model":       "gemini-2.5-flash",
	"llm.fallback_provider":   "",
	"llm.fallback_model":      "",
	"llm.max_retries":         3,
	"llm.requests_per_minute": 10,

	"engine.backend":             "crew",
	"engine.max_steps":           5,
	"engine.max_turns":           10,
	"engine.agents_model":        "gpt-4o-mini",
	"engine.agents_base_url":     "",
	"engine.default_document":    "data/TSLA-Q2-2025-Update.pdf",
	"engine.max_document_tokens": 24000,
	"engine.timeout":             "20m",

	"search.serper_api_key": "",
	"search.base_url":       "https://google.serper.dev",
	"search.results":        5,
	"search.cache_ttl":      "1h",

	"ledger.retention":  "0s",
	"ledger.purge_cron": "@daily",
}

// conventional names that don't follow the SECTION_KEY pattern
var envAliases = map[string][]string{
	"llm.gemini_api_key":    {"GEMINI_API_KEY"},
	"llm.openai_api_key":    {"OPENAI_API_KEY"},
	"llm.anthropic_api_key": {"ANTHROPIC_API_KEY"},
	"search.serper_api_key": {"SERPER_API_KEY"},
}

// Load reads defaults, an optional config.yaml in . or ./config, then the
// environment, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks field constraints and the cross-field rules validator tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Queue.TaskTimeout <= c.Engine.Timeout {
		return fmt.Errorf("invalid config: queue.task_timeout (%s) must exceed engine.timeout (%s)",
			c.Queue.TaskTimeout, c.Engine.Timeout)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("invalid config: database.min_conns exceeds database.max_conns")
	}
	if c.Engine.Backend == "agents" && c.AgentsAPIKey() == "" {
		return fmt.Errorf("invalid config: engine backend %q needs OPENAI_API_KEY, or GEMINI_API_KEY with engine.agents_base_url", c.Engine.Backend)
	}
	if c.Ledger.Retention < 0 {
		return fmt.Errorf("invalid config: ledger.retention must not be negative")
	}
	return nil
}

// AgentsAPIKey picks the credential for the OpenAI-compatible agents backend.
// A Gemini key is only usable when a compatible base URL is configured.
func (c *Config) AgentsAPIKey() string {
	if c.LLM.OpenAIKey != "" {
		return c.LLM.OpenAIKey
	}
	if c.Engine.AgentsBaseURL != "" {
		return c.LLM.GeminiKey
	}
	return ""
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
