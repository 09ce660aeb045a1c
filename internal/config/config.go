package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// LLMProvider names a reasoning provider implementation.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderGroq   LLMProvider = "groq"
)

// SupportedProviders lists every provider the factory can build.
var SupportedProviders = []LLMProvider{ProviderGemini, ProviderGroq}

// MemoryBackend names a memory store implementation.
type MemoryBackend string

const (
	BackendFile     MemoryBackend = "file"
	BackendMemory   MemoryBackend = "memory"
	BackendPostgres MemoryBackend = "postgres"
	BackendRedis    MemoryBackend = "redis"
	BackendSQLite   MemoryBackend = "sqlite"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
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

// ColorConfig defines the ANSI color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	MaxIterations                int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	WaitBetweenActions           time.Duration `mapstructure:"wait_between_actions" yaml:"wait_between_actions"`
	ReplayWaitBetweenActions     time.Duration `mapstructure:"replay_wait_between_actions" yaml:"replay_wait_between_actions"`
	Memorize                     bool          `mapstructure:"memorize" yaml:"memorize"`
	ScreenshotEachStep           bool          `mapstructure:"screenshot_each_step" yaml:"screenshot_each_step"`
	ScreenshotDir                string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	Verbose                      bool          `mapstructure:"verbose" yaml:"verbose"`
	MaxConsecutiveProviderFaults int           `mapstructure:"max_consecutive_provider_faults" yaml:"max_consecutive_provider_faults"`
	HistoryWindow                int           `mapstructure:"history_window" yaml:"history_window"`
	ObservationMaxChars          int           `mapstructure:"observation_max_chars" yaml:"observation_max_chars"`
	MaxElements                  int           `mapstructure:"max_elements" yaml:"max_elements"`
	OutputSchemaFile             string        `mapstructure:"output_schema_file" yaml:"output_schema_file"`
}

// BrowserConfig holds settings for the browser session.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	BrowserType       string         `mapstructure:"browser_type" yaml:"browser_type"`
	ExecutablePath    string         `mapstructure:"executable_path" yaml:"executable_path"`
	WSEndpoint        string         `mapstructure:"ws_endpoint" yaml:"ws_endpoint"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	RandomUserAgent   bool           `mapstructure:"random_user_agent" yaml:"random_user_agent"`
	ConnectTimeout    time.Duration  `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// LLMConfig configures the reasoning provider.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// MemoryConfig selects and configures the memory store backend.
type MemoryConfig struct {
	Backend     MemoryBackend `mapstructure:"backend" yaml:"backend"`
	FilePath    string        `mapstructure:"file_path" yaml:"file_path"`
	PostgresURL string        `mapstructure:"postgres_url" yaml:"postgres_url"`
	SQLitePath  string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Redis       RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds the connection details for the redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// DefaultModel returns the model used when llm.model is empty.
func DefaultModel(p LLMProvider) string {
	switch p {
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	default:
		return "gemini-2.0-flash"
	}
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "\x1b[36m")
	v.SetDefault("logger.colors.info", "\x1b[32m")
	v.SetDefault("logger.colors.warn", "\x1b[33m")
	v.SetDefault("logger.colors.error", "\x1b[31m")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 100)
	v.SetDefault("agent.wait_between_actions", "0s")
	v.SetDefault("agent.replay_wait_between_actions", "1s")
	v.SetDefault("agent.memorize", false)
	v.SetDefault("agent.screenshot_each_step", false)
	v.SetDefault("agent.screenshot_dir", "screenshots")
	v.SetDefault("agent.verbose", false)
	v.SetDefault("agent.max_consecutive_provider_faults", 3)
	v.SetDefault("agent.history_window", 12)
	v.SetDefault("agent.observation_max_chars", 8000)
	v.SetDefault("agent.max_elements", 60)
	v.SetDefault("agent.output_schema_file", "")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.browser_type", "chrome")
	v.SetDefault("browser.random_user_agent", false)
	v.SetDefault("browser.connect_timeout", "30s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 768)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.top_p", 1.0)
	v.SetDefault("llm.max_tokens", 19334)
	v.SetDefault("llm.requests_per_minute", 0)

	// -- Memory --
	v.SetDefault("memory.backend", string(BackendFile))
	v.SetDefault("memory.file_path", "memory/memory.json")
	v.SetDefault("memory.sqlite_path", "memory/memory.db")
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.db", 0)
	v.SetDefault("memory.redis.key_prefix", "webpilot:")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY")
	_ = v.BindEnv("memory.postgres_url", "WEBPILOT_MEMORY_POSTGRES_URL")
	_ = v.BindEnv("memory.redis.password", "WEBPILOT_MEMORY_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyFallbacks fills values that depend on other settings: the vendor API key
// variables and the per-provider default model.
func (c *Config) applyFallbacks() {
	c.LLM.Provider = LLMProvider(strings.ToLower(string(c.LLM.Provider)))
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderGemini:
			c.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
		case ProviderGroq:
			c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel(c.LLM.Provider)
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.WaitBetweenActions < 0 || c.Agent.ReplayWaitBetweenActions < 0 {
		return fmt.Errorf("agent wait durations must not be negative")
	}
	if c.Agent.MaxConsecutiveProviderFaults <= 0 {
		return fmt.Errorf("agent.max_consecutive_provider_faults must be a positive integer")
	}
	if c.Agent.HistoryWindow <= 0 {
		return fmt.Errorf("agent.history_window must be a positive integer")
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.BrowserType) {
	case "chrome", "chromium", "edge":
	case "firefox":
		return fmt.Errorf("browser_type firefox is not supported; the driver speaks the Chrome DevTools Protocol only")
	default:
		return fmt.Errorf("unknown browser_type %q", b.BrowserType)
	}
	if b.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be a positive duration")
	}
	if b.ActionTimeout <= 0 || b.NavigationTimeout <= 0 {
		return fmt.Errorf("action_timeout and navigation_timeout must be positive durations")
	}
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport width and height must be positive")
	}
	return nil
}

// Validate checks the LLM settings.
func (l *LLMConfig) Validate() error {
	known := false
	for _, p := range SupportedProviders {
		if l.Provider == p {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown provider %q, supported: %v", l.Provider, SupportedProviders)
	}
	if l.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be a positive duration")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if l.TopP < 0 || l.TopP > 1 {
		return fmt.Errorf("top_p must be between 0.0 and 1.0")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}

// Validate checks the memory store settings.
func (m *MemoryConfig) Validate() error {
	switch m.Backend {
	case BackendFile:
		if m.FilePath == "" {
			return fmt.Errorf("file_path is required for the file backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if m.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres backend")
		}
	case BackendRedis:
		if m.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendSQLite:
		if m.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	return nil
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}
