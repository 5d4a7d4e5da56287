// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Loop     LoopConfig     `mapstructure:"loop" yaml:"loop"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
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

// BrowserConfig controls the Chrome instance hosting the page realm.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NoSandbox         bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	StartURL          string        `mapstructure:"start_url" yaml:"start_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// HelperURL is where the page realm loads jQuery from when the page lacks it.
	HelperURL string `mapstructure:"helper_url" yaml:"helper_url"`
	Overlay   bool   `mapstructure:"overlay" yaml:"overlay"`
}

// BridgeConfig controls the request/response bridge between realms.
type BridgeConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
}

// LoopConfig controls the perception-action loop.
type LoopConfig struct {
	Interval               time.Duration `mapstructure:"interval" yaml:"interval"`
	TickTimeout            time.Duration `mapstructure:"tick_timeout" yaml:"tick_timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	MaxHistory             int           `mapstructure:"max_history" yaml:"max_history"`
	// ReadyTimeout ends a running request whose page realm stays not ready
	// this long. Zero waits forever.
	ReadyTimeout           time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
}

// SnapshotConfig controls how the page snapshot is reduced before prompting.
type SnapshotConfig struct {
	MaxLength int `mapstructure:"max_length" yaml:"max_length"`
}

// StoreConfig selects and configures the durable state store.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	KeyPrefix   string `mapstructure:"key_prefix" yaml:"key_prefix"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// LLMProvider names a text-generation backend.
type LLMProvider string

const (
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
)

// LLMConfig configures the text-generation service.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "domrelay")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.helper_url", "https://code.jquery.com/jquery-3.6.0.min.js")
	v.SetDefault("browser.overlay", true)

	// -- Bridge --
	v.SetDefault("bridge.request_timeout", "10s")
	v.SetDefault("bridge.ready_timeout", "30s")

	// -- Loop --
	v.SetDefault("loop.interval", "1500ms")
	v.SetDefault("loop.tick_timeout", "90s")
	v.SetDefault("loop.max_consecutive_failures", 5)
	v.SetDefault("loop.max_history", 50)
	v.SetDefault("loop.ready_timeout", "60s")

	// -- Snapshot --
	v.SetDefault("snapshot.max_length", 60000)

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.key_prefix", "domrelay")
	v.SetDefault("store.postgres_url", "")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderAnthropic))
	v.SetDefault("llm.model", "claude-3-sonnet-20240229")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper
// instance, binding secrets from the environment and validating the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "DOMRELAY_API_KEY")
	_ = v.BindEnv("store.postgres_url", "DOMRELAY_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the provider's conventional variable.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(providerKeyEnv(cfg.LLM.Provider))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func providerKeyEnv(p LLMProvider) string {
	switch p {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("bridge.request_timeout must be positive")
	}
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be positive")
	}
	if c.Loop.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("loop.max_consecutive_failures must not be negative")
	}
	if c.Loop.MaxHistory < 0 {
		return fmt.Errorf("loop.max_history must not be negative")
	}
	if c.Loop.ReadyTimeout < 0 {
		return fmt.Errorf("loop.ready_timeout must not be negative")
	}
	if c.Snapshot.MaxLength <= 0 {
		return fmt.Errorf("snapshot.max_length must be a positive integer")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be a positive integer")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory", "file":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	return nil
}
