package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Wheel Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Brokerage account number (overrides credentials.toml)
account = ""
# Starting cash for the paper broker
paper_balance = 100000.0

[scan]
# Absolute delta range
delta_min = 0.10
delta_max = 0.30
# Days to expiration range
dte_min = 7
dte_max = 45
# Liquidity and return floors (relaxed when nothing qualifies)
open_interest_min = 100
weekly_return_min = 0.5
# Sizing: conservative (1), medium (half of capacity), aggressive (all)
sizing_mode = "conservative"
# Contract cap per symbol for cash-secured puts
max_contracts = 5
# Concurrent chain fetches
workers = 4
# Default symbols when none are given and no watchlist is named
symbols = ["SOFI", "PLTR", "AMD", "AAPL"]

[ladder]
# Number of weekly expirations capital is spread across
tranches = 4
# lowest_delta, highest_premium, highest_efficiency, highest_volatility
trim_strategy = "lowest_delta"

[premium]
# Months shown in the premium trend
months = 6
# Transaction history fetched from the broker
lookback_days = 365

[broker]
timeout = "15s"
requests_per_second = 5.0
burst = 5
max_retries = 3
breaker_failures = 5
breaker_cooldown = "30s"

[security]
# Enable read-only mode (blocks all order submission)
read_only_mode = false
# Ask before submitting orders
confirm_orders = true

[research]
model = "gpt-4o-mini"
temperature = 0.2
max_tokens = 1500

[storage]
# Defaults to wheel.db in the config directory
db_path = ""

[logging]
level = "info"
file = true
max_size_mb = 100
max_backups = 7
max_age_days = 30

[ui]
# Enable colored output
color_enabled = true
date_format = "Jan 02, 2006"
`

const credentialsTemplate = `# Wheel Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[tastytrade]
username = ""
password = ""
account = ""

[tradier]
api_key = ""
# Use the sandbox endpoint (delayed data)
sandbox = false

[openai]
api_key = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}

// ConfigPath returns the path of config.toml in configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// CredentialsPath returns the path of credentials.toml in configDir.
func CredentialsPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "credentials.toml")
}
