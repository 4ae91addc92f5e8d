// Package config provides configuration management for the options desk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "wheel-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig  `mapstructure:"trading"`
	Scan        ScanConfig     `mapstructure:"scan"`
	Ladder      LadderConfig   `mapstructure:"ladder"`
	Premium     PremiumConfig  `mapstructure:"premium"`
	Broker      BrokerConfig   `mapstructure:"broker"`
	Security    SecurityConfig `mapstructure:"security"`
	Research    ResearchConfig `mapstructure:"research"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	UI          UIConfig       `mapstructure:"ui"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode         string  `mapstructure:"mode"` // "live", "paper"
	Account      string  `mapstructure:"account"`
	PaperBalance float64 `mapstructure:"paper_balance"`
}

// ScanConfig holds the default opportunity filters.
type ScanConfig struct {
	DeltaMin        float64  `mapstructure:"delta_min"`
	DeltaMax        float64  `mapstructure:"delta_max"`
	DTEMin          int      `mapstructure:"dte_min"`
	DTEMax          int      `mapstructure:"dte_max"`
	OpenInterestMin int64    `mapstructure:"open_interest_min"`
	WeeklyReturnMin float64  `mapstructure:"weekly_return_min"`
	SizingMode      string   `mapstructure:"sizing_mode"`
	MaxContracts    int      `mapstructure:"max_contracts"`
	Workers         int      `mapstructure:"workers"`
	Symbols         []string `mapstructure:"symbols"`
}

// LadderConfig holds capital ladder configuration.
type LadderConfig struct {
	Tranches     int    `mapstructure:"tranches"`
	TrimStrategy string `mapstructure:"trim_strategy"`
}

// PremiumConfig holds premium report configuration.
type PremiumConfig struct {
	Months       int `mapstructure:"months"`
	LookbackDays int `mapstructure:"lookback_days"`
}

// BrokerConfig holds REST client tuning.
type BrokerConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ReadOnlyMode bool `mapstructure:"read_only_mode"`
	ConfirmOrder bool `mapstructure:"confirm_orders"`
}

// ResearchConfig holds LLM analysis configuration.
type ResearchConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// StorageConfig holds the local database location.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age_days"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// Credentials holds API credentials.
type Credentials struct {
	Tastytrade TastytradeCredentials `mapstructure:"tastytrade"`
	Tradier    TradierCredentials    `mapstructure:"tradier"`
	OpenAI     OpenAICredentials     `mapstructure:"openai"`
}

// TastytradeCredentials holds brokerage login credentials.
type TastytradeCredentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Account  string `mapstructure:"account"`
}

// TradierCredentials holds the market data token.
type TradierCredentials struct {
	APIKey  string `mapstructure:"api_key"`
	Sandbox bool   `mapstructure:"sandbox"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/wheel-trader"
	}
	return filepath.Join(home, ".config", "wheel-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and then read.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(configDir, "wheel.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.paper_balance", 100000.0)

	v.SetDefault("scan.delta_min", 0.10)
	v.SetDefault("scan.delta_max", 0.30)
	v.SetDefault("scan.dte_min", 7)
	v.SetDefault("scan.dte_max", 45)
	v.SetDefault("scan.open_interest_min", 100)
	v.SetDefault("scan.weekly_return_min", 0.5)
	v.SetDefault("scan.sizing_mode", "conservative")
	v.SetDefault("scan.max_contracts", 5)
	v.SetDefault("scan.workers", 4)

	v.SetDefault("ladder.tranches", 4)
	v.SetDefault("ladder.trim_strategy", "lowest_delta")

	v.SetDefault("premium.months", 6)
	v.SetDefault("premium.lookback_days", 365)

	v.SetDefault("broker.timeout", "15s")
	v.SetDefault("broker.requests_per_second", 5.0)
	v.SetDefault("broker.burst", 5)
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.breaker_failures", 5)
	v.SetDefault("broker.breaker_cooldown", "30s")

	v.SetDefault("security.confirm_orders", true)

	v.SetDefault("research.model", "gpt-4o-mini")
	v.SetDefault("research.temperature", 0.2)
	v.SetDefault("research.max_tokens", 1500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "Jan 02, 2006")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Use restricted permissions for credentials file
		if err := createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600); err != nil {
			return err
		}
		return nil
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Tastytrade credentials
	if v := os.Getenv("TASTYTRADE_USERNAME"); v != "" {
		cfg.Credentials.Tastytrade.Username = v
	}
	if v := os.Getenv("TASTYTRADE_PASSWORD"); v != "" {
		cfg.Credentials.Tastytrade.Password = v
	}
	if v := os.Getenv("TASTYTRADE_ACCOUNT"); v != "" {
		cfg.Credentials.Tastytrade.Account = v
	}

	// Tradier market data
	if v := os.Getenv("TRADIER_API_KEY"); v != "" {
		cfg.Credentials.Tradier.APIKey = v
	}
	if v := os.Getenv("TRADIER_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Credentials.Tradier.Sandbox = b
		}
	}

	// OpenAI credentials
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return invalid("trading mode %q must be 'live' or 'paper'", c.Trading.Mode)
	}
	if c.Trading.PaperBalance < 0 {
		return invalid("paper_balance must be non-negative")
	}

	s := c.Scan
	if s.DeltaMin < 0 || s.DeltaMax > 1 || s.DeltaMin > s.DeltaMax {
		return invalid("scan delta range [%.2f, %.2f] must lie within [0, 1]", s.DeltaMin, s.DeltaMax)
	}
	if s.DTEMin < 0 || s.DTEMin > s.DTEMax {
		return invalid("scan dte range [%d, %d] is invalid", s.DTEMin, s.DTEMax)
	}
	if s.OpenInterestMin < 0 {
		return invalid("open_interest_min must be non-negative")
	}
	switch strings.ToLower(s.SizingMode) {
	case "", "conservative", "medium", "aggressive":
	default:
		return invalid("sizing_mode %q must be conservative, medium or aggressive", s.SizingMode)
	}

	if c.Ladder.Tranches < 0 {
		return invalid("ladder tranches must be non-negative")
	}
	switch c.Ladder.TrimStrategy {
	case "", "lowest_delta", "highest_premium", "highest_efficiency", "highest_volatility":
	default:
		return invalid("unknown trim_strategy %q", c.Ladder.TrimStrategy)
	}

	if c.Broker.RequestsPerSecond < 0 {
		return invalid("requests_per_second must be non-negative")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// AccountNumber returns the configured brokerage account.
func (c *Config) AccountNumber() string {
	if c.Trading.Account != "" {
		return c.Trading.Account
	}
	return c.Credentials.Tastytrade.Account
}
