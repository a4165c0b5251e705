// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Profile    ProfileConfig    `yaml:"profile"`
	Venue      VenueConfig      `yaml:"venue"`
	Feed       FeedConfig       `yaml:"feed"`
	Storage    StorageConfig    `yaml:"storage"`
	HedgeCycle HedgeCycleConfig `yaml:"hedge_cycle"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	System     SystemConfig     `yaml:"system"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ProfileConfig selects the persisted input state loaded at startup.
type ProfileConfig struct {
	DefaultID string `yaml:"default_id"`
}

// VenueConfig captures the exchange conventions the solvers assume.
type VenueConfig struct {
	FeeRate float64 `yaml:"fee_rate"`
	// LossOnlyFreeMargin selects the Bybit-style clipping of unrealized
	// profit out of free margin. Default true.
	LossOnlyFreeMargin *bool              `yaml:"loss_only_free_margin"`
	LotSteps           map[string]float64 `yaml:"lot_steps"`
}

// FeedConfig configures the price feed.
type FeedConfig struct {
	Type string `yaml:"type"` // static, rest, websocket

	// Static feed prices, by coin.
	Prices map[string]float64 `yaml:"prices"`

	// REST poller.
	RestURL          string  `yaml:"rest_url"`
	PollIntervalMs   int     `yaml:"poll_interval_ms"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec"`
	PollerPoolSize   int     `yaml:"poller_pool_size"`
	PollerPoolBuffer int     `yaml:"poller_pool_buffer"`

	// Websocket stream.
	WsURL string `yaml:"ws_url"`

	Coins []string `yaml:"coins"`
}

// StorageConfig configures profile persistence.
type StorageConfig struct {
	Type string `yaml:"type"` // sqlite, memory
	Path string `yaml:"path"`
}

// HedgeCycleConfig configures the hedge cycle controller defaults applied to
// profiles that carry no parameters of their own.
type HedgeCycleConfig struct {
	TakeProfitROE    float64 `yaml:"take_profit_roe"`
	RecoveryROE      float64 `yaml:"recovery_roe"`
	CutRatio         float64 `yaml:"cut_ratio"`
	BaseMargin       float64 `yaml:"base_margin"`
	KillPct          float64 `yaml:"kill_pct"`
	BalanceTolerance float64 `yaml:"balance_tolerance"`
}

// AlertsConfig configures alert channels for kill-switch breaches.
type AlertsConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	WebhookURL Secret `yaml:"webhook_url"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel        string `yaml:"log_level"`
	WatchIntervalMs int    `yaml:"watch_interval_ms"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LossOnlyFreeMargin resolves the venue clipping policy, defaulting to true.
func (c *Config) LossOnlyFreeMargin() bool {
	if c.Venue.LossOnlyFreeMargin == nil {
		return true
	}
	return *c.Venue.LossOnlyFreeMargin
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateFeedConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStorageConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateHedgeCycleConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	if c.Venue.FeeRate < 0 || c.Venue.FeeRate >= 1 {
		return ValidationError{
			Field:   "venue.fee_rate",
			Value:   c.Venue.FeeRate,
			Message: "must be in [0, 1)",
		}
	}
	for coin, step := range c.Venue.LotSteps {
		if step < 0 {
			return ValidationError{
				Field:   fmt.Sprintf("venue.lot_steps.%s", coin),
				Value:   step,
				Message: "lot step must not be negative",
			}
		}
	}
	return nil
}

func (c *Config) validateFeedConfig() error {
	validTypes := []string{"", "static", "rest", "websocket"}
	if !contains(validTypes, c.Feed.Type) {
		return ValidationError{
			Field:   "feed.type",
			Value:   c.Feed.Type,
			Message: "must be one of: static, rest, websocket",
		}
	}

	switch c.Feed.Type {
	case "rest":
		if c.Feed.RestURL == "" {
			return ValidationError{
				Field:   "feed.rest_url",
				Message: "required for the rest feed",
			}
		}
		if len(c.Feed.Coins) == 0 {
			return ValidationError{
				Field:   "feed.coins",
				Message: "at least one coin required for the rest feed",
			}
		}
	case "websocket":
		if c.Feed.WsURL == "" {
			return ValidationError{
				Field:   "feed.ws_url",
				Message: "required for the websocket feed",
			}
		}
	}

	for coin, price := range c.Feed.Prices {
		if price <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("feed.prices.%s", coin),
				Value:   price,
				Message: "static price must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateStorageConfig() error {
	validTypes := []string{"", "sqlite", "memory"}
	if !contains(validTypes, c.Storage.Type) {
		return ValidationError{
			Field:   "storage.type",
			Value:   c.Storage.Type,
			Message: "must be one of: sqlite, memory",
		}
	}
	if c.Storage.Type == "sqlite" && c.Storage.Path == "" {
		return ValidationError{
			Field:   "storage.path",
			Message: "required for sqlite storage",
		}
	}
	return nil
}

func (c *Config) validateHedgeCycleConfig() error {
	h := c.HedgeCycle
	if h.CutRatio < 0 || h.CutRatio >= 1 {
		return ValidationError{
			Field:   "hedge_cycle.cut_ratio",
			Value:   h.CutRatio,
			Message: "must be in [0, 1)",
		}
	}
	if h.KillPct < 0 || h.KillPct >= 1 {
		return ValidationError{
			Field:   "hedge_cycle.kill_pct",
			Value:   h.KillPct,
			Message: "must be in [0, 1)",
		}
	}
	if h.BalanceTolerance < 0 || h.BalanceTolerance > 1 {
		return ValidationError{
			Field:   "hedge_cycle.balance_tolerance",
			Value:   h.BalanceTolerance,
			Message: "must be in [0, 1]",
		}
	}
	if h.BaseMargin < 0 {
		return ValidationError{
			Field:   "hedge_cycle.base_margin",
			Value:   h.BaseMargin,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels[1:], ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	lossOnly := true
	return &Config{
		Profile: ProfileConfig{
			DefaultID: "default",
		},
		Venue: VenueConfig{
			FeeRate:            0.0004,
			LossOnlyFreeMargin: &lossOnly,
			LotSteps: map[string]float64{
				"BTC": 0.001,
				"ETH": 0.01,
			},
		},
		Feed: FeedConfig{
			Type: "static",
			Prices: map[string]float64{
				"ETH": 2647.35,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		HedgeCycle: HedgeCycleConfig{
			TakeProfitROE:    50,
			RecoveryROE:      -10,
			CutRatio:         0.3,
			BaseMargin:       100,
			KillPct:          0.3,
			BalanceTolerance: 0.10,
		},
		System: SystemConfig{
			LogLevel:        "INFO",
			WatchIntervalMs: 1000,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
