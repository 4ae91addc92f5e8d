package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "wheel-trader/internal/errors"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, ConfigPath(dir))
	info, err := os.Stat(CredentialsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.True(t, cfg.IsPaperMode())
	assert.Equal(t, 0.10, cfg.Scan.DeltaMin)
	assert.Equal(t, 4, cfg.Ladder.Tranches)
	assert.Equal(t, 15*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, filepath.Join(dir, "wheel.db"), cfg.Storage.DBPath)
	assert.Equal(t, []string{"SOFI", "PLTR", "AMD", "AAPL"}, cfg.Scan.Symbols)
}

func TestLoadReadsFilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[trading]
mode = "live"

[scan]
delta_min = 0.15
delta_max = 0.25
sizing_mode = "medium"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[tastytrade]
username = "file-user"
account = "5WT00001"

[tradier]
api_key = "file-key"
`), 0600))

	t.Setenv("TRADIER_API_KEY", "env-key")
	t.Setenv("TRADIER_SANDBOX", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.False(t, cfg.IsPaperMode())
	assert.Equal(t, 0.25, cfg.Scan.DeltaMax)
	assert.Equal(t, "medium", cfg.Scan.SizingMode)
	// Unset keys keep their defaults.
	assert.Equal(t, 45, cfg.Scan.DTEMax)
	assert.Equal(t, "file-user", cfg.Credentials.Tastytrade.Username)
	assert.Equal(t, "env-key", cfg.Credentials.Tradier.APIKey)
	assert.True(t, cfg.Credentials.Tradier.Sandbox)
	assert.Equal(t, "5WT00001", cfg.AccountNumber())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Trading: TradingConfig{Mode: "paper"},
			Scan:    ScanConfig{DeltaMin: 0.1, DeltaMax: 0.3, DTEMin: 7, DTEMax: 45},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad mode", func(c *Config) { c.Trading.Mode = "yolo" }},
		{"inverted delta", func(c *Config) { c.Scan.DeltaMin = 0.5 }},
		{"delta above one", func(c *Config) { c.Scan.DeltaMax = 1.5 }},
		{"inverted dte", func(c *Config) { c.Scan.DTEMin = 60 }},
		{"sizing", func(c *Config) { c.Scan.SizingMode = "huge" }},
		{"trim", func(c *Config) { c.Ladder.TrimStrategy = "random" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADING_MODE", "margin")
	_, err := Load(dir)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}
