// File: internal/config/config.go
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/clearance/internal/captcha/cloudflare"
	"github.com/xkilldash9x/clearance/internal/humanoid"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "CLEARANCE"

// Supported browser backends.
const (
	BackendChromedp   = "chromedp"
	BackendRod        = "rod"
	BackendPlaywright = "playwright"
)

// Backends lists the accepted values of browser.backend.
func Backends() []string {
	return []string{BackendChromedp, BackendRod, BackendPlaywright}
}

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Solver  SolverConfig  `mapstructure:"solver" yaml:"solver"`
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

// BrowserConfig holds settings for the browser the CLI drives.
type BrowserConfig struct {
	Backend         string   `mapstructure:"backend" yaml:"backend"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency     int      `mapstructure:"concurrency" yaml:"concurrency"`
	Args            []string `mapstructure:"args" yaml:"args"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	// NavigationTimeout bounds loading one URL, not solving it.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// RateLimit is the number of tabs opened per second. Zero disables pacing.
	RateLimit float64        `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int            `mapstructure:"rate_burst" yaml:"rate_burst"`
	Humanoid  HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// HumanoidConfig tunes how human the synthesized mouse input looks.
type HumanoidConfig struct {
	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	// FittsA and FittsB set the movement time model, in milliseconds.
	FittsA        float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB        float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	CurveStrength float64 `mapstructure:"curve_strength" yaml:"curve_strength"`
}

// Mouse returns the cursor movement model.
func (h HumanoidConfig) Mouse() humanoid.Config {
	cfg := humanoid.DefaultConfig()
	cfg.FittsA = h.FittsA
	cfg.FittsB = h.FittsB
	cfg.CurveStrength = h.CurveStrength
	return cfg
}

// ClickHold returns the press-to-release range as durations.
func (h HumanoidConfig) ClickHold() (time.Duration, time.Duration) {
	return time.Duration(h.ClickHoldMinMs) * time.Millisecond, time.Duration(h.ClickHoldMaxMs) * time.Millisecond
}

// SolverConfig carries the tuning of the challenge solver.
type SolverConfig struct {
	ChallengeType         string        `mapstructure:"challenge_type" yaml:"challenge_type"`
	ExpectedContent       string        `mapstructure:"expected_content" yaml:"expected_content"`
	SolveAttempts         int           `mapstructure:"solve_attempts" yaml:"solve_attempts"`
	SolveClickDelay       time.Duration `mapstructure:"solve_click_delay" yaml:"solve_click_delay"`
	WaitCheckboxAttempts  int           `mapstructure:"wait_checkbox_attempts" yaml:"wait_checkbox_attempts"`
	WaitCheckboxDelay     time.Duration `mapstructure:"wait_checkbox_delay" yaml:"wait_checkbox_delay"`
	CheckboxClickAttempts int           `mapstructure:"checkbox_click_attempts" yaml:"checkbox_click_attempts"`
	AttemptDelay          time.Duration `mapstructure:"attempt_delay" yaml:"attempt_delay"`
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

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "clearance")
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
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.rate_limit", 1.0)
	v.SetDefault("browser.rate_burst", 1)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)
	mouse := humanoid.DefaultConfig()
	v.SetDefault("browser.humanoid.fitts_a", mouse.FittsA)
	v.SetDefault("browser.humanoid.fitts_b", mouse.FittsB)
	v.SetDefault("browser.humanoid.curve_strength", mouse.CurveStrength)

	// -- Solver --
	def := cloudflare.DefaultConfig()
	v.SetDefault("solver.challenge_type", def.ChallengeType.String())
	v.SetDefault("solver.expected_content", "")
	v.SetDefault("solver.solve_attempts", def.SolveAttempts)
	v.SetDefault("solver.solve_click_delay", def.SolveClickDelay)
	v.SetDefault("solver.wait_checkbox_attempts", def.WaitCheckboxAttempts)
	v.SetDefault("solver.wait_checkbox_delay", def.WaitCheckboxDelay)
	v.SetDefault("solver.checkbox_click_attempts", def.CheckboxClickAttempts)
	v.SetDefault("solver.attempt_delay", def.AttemptDelay)
}

// BindEnv makes every known key overridable through CLEARANCE_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Browser.UserDataDir != "" {
		dir, err := homedir.Expand(cfg.Browser.UserDataDir)
		if err != nil {
			return nil, fmt.Errorf("invalid browser.user_data_dir: %w", err)
		}
		cfg.Browser.UserDataDir = dir
	}
	if cfg.Logger.LogFile != "" {
		file, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("invalid logger.log_file: %w", err)
		}
		cfg.Logger.LogFile = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if !slices.Contains(Backends(), b.Backend) {
		return fmt.Errorf("backend must be one of %s, got '%s'", strings.Join(Backends(), ", "), b.Backend)
	}
	if b.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if b.RateLimit < 0 {
		return fmt.Errorf("browser.rate_limit must not be negative")
	}
	if b.RateLimit > 0 && b.RateBurst <= 0 {
		return fmt.Errorf("browser.rate_burst must be positive when rate_limit is set")
	}
	if b.Humanoid.ClickHoldMinMs < 0 || b.Humanoid.ClickHoldMaxMs < b.Humanoid.ClickHoldMinMs {
		return fmt.Errorf("humanoid click hold range is invalid: [%d, %d] ms",
			b.Humanoid.ClickHoldMinMs, b.Humanoid.ClickHoldMaxMs)
	}
	if b.Humanoid.FittsA < 0 || b.Humanoid.FittsB < 0 || b.Humanoid.CurveStrength < 0 {
		return fmt.Errorf("humanoid movement parameters must not be negative")
	}
	return nil
}

// Validate checks the solver settings.
func (s *SolverConfig) Validate() error {
	if _, ok := cloudflare.ParseChallengeType(s.ChallengeType); !ok {
		return fmt.Errorf("unsupported challenge_type '%s'; supported types are: %s",
			s.ChallengeType, strings.Join(cloudflare.ChallengeTypeNames(), ", "))
	}
	if s.SolveAttempts <= 0 {
		return fmt.Errorf("solver.solve_attempts must be a positive integer")
	}
	if s.WaitCheckboxAttempts <= 0 {
		return fmt.Errorf("solver.wait_checkbox_attempts must be a positive integer")
	}
	if s.CheckboxClickAttempts <= 0 {
		return fmt.Errorf("solver.checkbox_click_attempts must be a positive integer")
	}
	if s.SolveClickDelay < 0 || s.WaitCheckboxDelay < 0 || s.AttemptDelay < 0 {
		return fmt.Errorf("solver delays must not be negative")
	}
	return nil
}
