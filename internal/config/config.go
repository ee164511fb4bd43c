// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree, unmarshaled from viper.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Reasoning ReasoningConfig `mapstructure:"reasoning" yaml:"reasoning"`
	Safety    SafetyConfig    `mapstructure:"safety" yaml:"safety"`
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// RedisConfig configures the optional live-view mirror.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"-"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool              `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool              `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string          `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int    `mapstructure:"viewport" yaml:"viewport"`
	UserAgent         string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	ElementWait       time.Duration     `mapstructure:"element_wait" yaml:"element_wait"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ViewportSize returns the configured viewport, defaulting to 1440x900.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1440
	}
	if h <= 0 {
		h = 900
	}
	return w, h
}

// ExecutorConfig tunes the action execution engine.
type ExecutorConfig struct {
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ScreenshotOnError  bool          `mapstructure:"screenshot_on_error" yaml:"screenshot_on_error"`
	ScreenshotOnAction bool          `mapstructure:"screenshot_on_action" yaml:"screenshot_on_action"`
	TypeDelay          time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	ScrollAmount       int           `mapstructure:"scroll_amount" yaml:"scroll_amount"`
}

// AgentConfig holds session orchestration limits.
type AgentConfig struct {
	Mode               string        `mapstructure:"mode" yaml:"mode"`
	MaxTurns           int           `mapstructure:"max_turns" yaml:"max_turns"`
	MaxSessionDuration time.Duration `mapstructure:"max_session_duration" yaml:"max_session_duration"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// ReasoningConfig configures the reasoning adapters.
type ReasoningConfig struct {
	ScreenWidth            int    `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight           int    `mapstructure:"screen_height" yaml:"screen_height"`
	ComputerUseModel       string `mapstructure:"computer_use_model" yaml:"computer_use_model"`
	MaxScreenshots         int    `mapstructure:"max_screenshots" yaml:"max_screenshots"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// SafetyConfig configures URL validation policy.
type SafetyConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
	ResolveHosts   bool     `mapstructure:"resolve_hosts" yaml:"resolve_hosts"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    int                       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Live view mirror --
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pilot:")
	v.SetDefault("redis.ttl", "1h")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.namespace", "pilot")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1440, "height": 900})
	v.SetDefault("browser.element_wait", "5s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Executor --
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_backoff", "1s")
	v.SetDefault("executor.action_timeout", "30s")
	v.SetDefault("executor.screenshot_on_error", true)
	v.SetDefault("executor.screenshot_on_action", false)
	v.SetDefault("executor.type_delay", "50ms")
	v.SetDefault("executor.scroll_amount", 500)

	// -- Agent --
	v.SetDefault("agent.mode", "vision")
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.max_session_duration", "30m")
	v.SetDefault("agent.command_timeout", "2m")

	// -- Reasoning --
	v.SetDefault("reasoning.screen_width", 1440)
	v.SetDefault("reasoning.screen_height", 900)
	v.SetDefault("reasoning.computer_use_model", "gemini-2.5-computer-use-preview-10-2025")
	v.SetDefault("reasoning.max_screenshots", 3)
	v.SetDefault("reasoning.max_consecutive_failures", 3)

	// -- Safety --
	v.SetDefault("safety.allowed_domains", []string{})
	v.SetDefault("safety.blocked_domains", []string{})
	v.SetDefault("safety.resolve_hosts", false)

	// -- LLM --
	// Model keys are aliases; viper splits keys on dots, so they must not contain any.
	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")
	v.SetDefault("llm.requests_per_minute", 60)
	v.SetDefault("llm.models", map[string]any{
		"gemini-flash": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-flash",
			"api_timeout": "60s",
			"temperature": 0.3,
			"max_tokens":  4000,
		},
		"gemini-pro": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-pro",
			"api_timeout": "120s",
			"temperature": 0.3,
			"max_tokens":  4000,
		},
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment, never the config file.
	_ = v.BindEnv("gemini_api_key", "PILOT_GEMINI_API_KEY")
	_ = v.BindEnv("openai_api_key", "PILOT_OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "PILOT_DATABASE_URL")
	_ = v.BindEnv("redis.password", "PILOT_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyAPIKeys(v.GetString("gemini_api_key"), v.GetString("openai_api_key"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyAPIKeys fills in provider keys for models that did not specify one.
func (c *Config) applyAPIKeys(geminiKey, openaiKey string) {
	for name, m := range c.LLM.Models {
		if m.APIKey != "" {
			continue
		}
		switch m.Provider {
		case ProviderGemini:
			m.APIKey = geminiKey
		case ProviderOpenAI:
			m.APIKey = openaiKey
		}
		c.LLM.Models[name] = m
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor configuration invalid: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.Reasoning.Validate(); err != nil {
		return fmt.Errorf("reasoning configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled is true")
	}
	return nil
}

// Validate checks the ExecutorConfig settings.
func (e *ExecutorConfig) Validate() error {
	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if e.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must not be negative")
	}
	if e.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	switch a.Mode {
	case "planning", "vision":
	default:
		return fmt.Errorf("mode must be one of [planning vision], got %q", a.Mode)
	}
	if a.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be a positive integer")
	}
	if a.MaxSessionDuration <= 0 {
		return fmt.Errorf("max_session_duration must be a positive duration")
	}
	return nil
}

// Validate checks the ReasoningConfig settings.
func (r *ReasoningConfig) Validate() error {
	if r.ScreenWidth <= 0 || r.ScreenHeight <= 0 {
		return fmt.Errorf("screen_width and screen_height must be positive")
	}
	return nil
}

// Validate checks that the default models are defined.
func (l *LLMRouterConfig) Validate() error {
	for _, name := range []string{l.DefaultFastModel, l.DefaultPowerfulModel} {
		if name == "" {
			return fmt.Errorf("default_fast_model and default_powerful_model are required")
		}
		m, ok := l.Models[name]
		if !ok {
			return fmt.Errorf("model %q is not defined under llm.models", name)
		}
		switch m.Provider {
		case ProviderGemini, ProviderOpenAI:
		default:
			return fmt.Errorf("model %q has unsupported provider %q", name, m.Provider)
		}
	}
	return nil
}
