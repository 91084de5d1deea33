package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/fincopilot/fincopilot"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Harness    HarnessConfig    `mapstructure:"harness"`
	Context    ContextConfig    `mapstructure:"context"`
	Validation ValidationConfig `mapstructure:"validation"`
	Learning   LearningConfig   `mapstructure:"learning"`
}

// AppConfig stores process-wide settings.
type AppConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"` // "openai" | "anthropic"
	Model        string  `mapstructure:"model"`
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	MaxNewTokens int     `mapstructure:"max_new_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxRetries   int     `mapstructure:"max_retries"`
}

// HarnessConfig stores orchestration limits and telemetry switches.
type HarnessConfig struct {
	// Policy filter
	MaxToolCalls               int        `mapstructure:"max_tool_calls"`
	ForbiddenPairs             [][]string `mapstructure:"forbidden_pairs"`
	EnforceToolAppropriateness bool       `mapstructure:"enforce_tool_appropriateness"`

	// Deadlines
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`

	// Performance
	ToolConcurrency int `mapstructure:"tool_concurrency"`

	// Rate limiting (per user)
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// ContextConfig stores user context cache settings.
type ContextConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// ValidationConfig stores pre-write validation thresholds.
type ValidationConfig struct {
	MaxAmount          float64       `mapstructure:"max_amount"`
	SuspiciousAmount   float64       `mapstructure:"suspicious_amount"`
	MaxFutureDays      int           `mapstructure:"max_future_days"`
	PastWarningDays    int           `mapstructure:"past_warning_days"`
	MinConceptLength   int           `mapstructure:"min_concept_length"`
	DuplicateWindow    time.Duration `mapstructure:"duplicate_window"`
	NearDuplicateRatio float64       `mapstructure:"near_duplicate_ratio"`
}

// LearningConfig stores correction-learning thresholds.
type LearningConfig struct {
	MinGlobalVotes  int     `mapstructure:"min_global_votes"`
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
}

// Loaded is the most recently loaded configuration.
var Loaded Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("app.database_path", internal.DefaultDatabaseDSN)
	v.SetDefault("app.log_level", internal.DefaultLogLevel)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_new_tokens", 1024)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("harness.max_tool_calls", 3)
	v.SetDefault("harness.forbidden_pairs", [][]string{{"predictMonthlySpending", "getSpendingTrends"}})
	v.SetDefault("harness.enforce_tool_appropriateness", true)
	v.SetDefault("harness.tool_timeout", "15s")
	v.SetDefault("harness.turn_timeout", "60s")
	v.SetDefault("harness.tool_concurrency", 3)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 20)
	v.SetDefault("harness.rate_limit_refill_rate", "3s")
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("context.ttl", "5m")
	v.SetDefault("context.capacity", 10000)

	v.SetDefault("validation.max_amount", 10000.0)
	v.SetDefault("validation.suspicious_amount", 1000.0)
	v.SetDefault("validation.max_future_days", 7)
	v.SetDefault("validation.past_warning_days", 365)
	v.SetDefault("validation.min_concept_length", 2)
	v.SetDefault("validation.duplicate_window", "24h")
	v.SetDefault("validation.near_duplicate_ratio", 0.10)

	v.SetDefault("learning.min_global_votes", 3)
	v.SetDefault("learning.accept_threshold", 0.7)

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.api_key becomes FINCOPILOT_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}

	Loaded = cfg
	return &cfg, nil
}

// providerKeyFromEnv falls back to the SDK-conventional variables.
func providerKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}
