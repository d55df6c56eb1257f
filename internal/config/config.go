// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Runner() RunnerConfig
	Engine() EngineConfig
	Scenario() ScenarioConfig
	Report() ReportConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RunnerCfg   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ScenarioCfg ScenarioConfig `mapstructure:"scenario" yaml:"scenario"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// Ensure Config implements Interface.
var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Runner() RunnerConfig     { return c.RunnerCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Scenario() ScenarioConfig { return c.ScenarioCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }

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

// DatabaseConfig holds the database connection details. An empty URL disables
// result persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	// RemoteURL points at an already running browser's DevTools websocket.
	// When set, no local browser process is started.
	RemoteURL         string         `mapstructure:"remote_url" yaml:"remote_url"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// RunnerConfig tunes how a single scenario is executed.
type RunnerConfig struct {
	// DefaultTimeout is the polling window for steps without their own timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// ActionTimeout bounds a single driver primitive, such as a page load.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// EngineConfig configures batch execution.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// LaunchRate caps scenario starts per second. Zero means unlimited.
	LaunchRate      float64       `mapstructure:"launch_rate" yaml:"launch_rate"`
	FailFast        bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
	ScenarioTimeout time.Duration `mapstructure:"scenario_timeout" yaml:"scenario_timeout"`
}

// ScenarioConfig controls how scenario files are loaded.
type ScenarioConfig struct {
	RequireLogin bool              `mapstructure:"require_login" yaml:"require_login"`
	Variables    map[string]string `mapstructure:"variables" yaml:"variables"`
	Login        LoginConfig       `mapstructure:"login" yaml:"login"`
}

// LoginConfig names the form fields the login action fills in.
type LoginConfig struct {
	UsernameSelector string `mapstructure:"username_selector" yaml:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector" yaml:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector" yaml:"submit_selector"`
}

// ReportConfig selects the default report format and destination.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "walkthrough")
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

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.post_load_wait", "250ms")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Runner --
	v.SetDefault("runner.default_timeout", "4s")
	v.SetDefault("runner.poll_interval", "100ms")
	v.SetDefault("runner.action_timeout", "30s")

	// -- Engine --
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.launch_rate", 0.0)
	v.SetDefault("engine.fail_fast", false)
	v.SetDefault("engine.scenario_timeout", "5m")

	// -- Scenario --
	v.SetDefault("scenario.require_login", false)
	v.SetDefault("scenario.login.username_selector", "#username")
	v.SetDefault("scenario.login.password_selector", "#password")
	v.SetDefault("scenario.login.submit_selector", "button[type=submit]")

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "WALKTHROUGH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RunnerCfg.Validate(); err != nil {
		return fmt.Errorf("runner configuration invalid: %w", err)
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	switch strings.ToLower(c.ReportCfg.Format) {
	case "", "text", "json", "junit", "sarif":
	default:
		return fmt.Errorf("report.format %q is not supported (text, json, junit, sarif)", c.ReportCfg.Format)
	}
	return nil
}

// Validate checks the RunnerConfig settings.
func (r *RunnerConfig) Validate() error {
	if r.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if r.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if r.PollInterval > r.DefaultTimeout {
		return fmt.Errorf("poll_interval must not exceed default_timeout")
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	if e.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if e.LaunchRate < 0 {
		return fmt.Errorf("launch_rate must not be negative")
	}
	if e.ScenarioTimeout < 0 {
		return fmt.Errorf("scenario_timeout must not be negative")
	}
	return nil
}
