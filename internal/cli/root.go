package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"wheel-trader/internal/broker"
	"wheel-trader/internal/config"
	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/logging"
	"wheel-trader/internal/research"
	"wheel-trader/internal/security"
	"wheel-trader/internal/store"
	"wheel-trader/internal/telemetry"
	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

// Version information
const (
	Version   = "0.4.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	// Broker is the order-guarded account broker; nil without credentials
	// in live mode.
	Broker *security.GuardedBroker
	Market broker.MarketData
	// IVRanks backs Market when the chain provider has no IV rank.
	IVRanks broker.IVRankSource
	Store   store.DataStore
	LLM    research.LLMClient

	Metrics *telemetry.Metrics
	Audit   *security.AuditLogger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{
		Logger:  logger,
		Metrics: telemetry.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "wheel",
		Short: "Wheel strategy options desk",
		Long: `wheel scans option chains for cash-secured puts and covered calls,
plans weekly capital ladders and reports collected premium.

Account data comes from tastytrade, option chains from Tradier. Orders
go to the paper broker unless trading.mode is "live".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.teardown(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/wheel-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("metrics-file", "", "write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newMarketCmd())
	addScanCommands(rootCmd, app)
	addLadderCommands(rootCmd, app)
	addPremiumCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addWatchlistCommands(rootCmd, app)
	addAnalyzeCommands(rootCmd, app)
	addHelpCommands(rootCmd)

	return rootCmd
}

// setup loads configuration and builds the collaborators.
func (app *App) setup(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	app.ConfigDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		NewOutput(cmd).Error("Failed to load config from %s: %v", dir, err)
		return err
	}
	app.Config = cfg

	app.Logger = logging.NewLoggerWithConfig(logConfig(dir, cfg.Logging))
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}

	dataStore, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to initialize store, history features unavailable")
	} else {
		app.Store = dataStore
		app.Logger.Debug().Str("path", cfg.Storage.DBPath).Msg("SQLite store initialized")
	}

	audit, err := security.NewAuditLogger(security.DefaultAuditConfig(dir))
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to open audit log")
	} else {
		app.Audit = audit
	}

	httpCfg := httpConfig(cfg.Broker)
	creds := cfg.Credentials

	var live broker.Broker
	if creds.Tastytrade.Username != "" {
		tt := broker.NewTastytradeClient(broker.TastytradeConfig{
			Username: creds.Tastytrade.Username,
			Password: creds.Tastytrade.Password,
			HTTP:     httpCfg,
		}, app.Logger)
		live = tt
		app.IVRanks = tt
		app.Logger.Debug().Msg("tastytrade broker initialized")
	}

	var b broker.Broker = live
	if cfg.IsPaperMode() {
		b = broker.NewPaperBroker(broker.PaperBrokerConfig{
			Live:           live,
			InitialBalance: decimal.NewFromFloat(cfg.Trading.PaperBalance),
		})
	}
	if b != nil {
		guard := security.GuardConfig{
			Access: security.NewAccessController(cfg.Security.ReadOnlyMode, app.Audit),
			Audit:  app.Audit,
			Paper:  cfg.IsPaperMode(),
		}
		if app.Store != nil {
			guard.Journal = app.Store
		}
		app.Broker = security.NewGuardedBroker(b, guard, app.Logger)
	}

	if creds.Tradier.APIKey != "" {
		app.Market = broker.NewTradierClient(broker.TradierConfig{
			APIKey:  creds.Tradier.APIKey,
			Sandbox: creds.Tradier.Sandbox,
			HTTP:    httpCfg,
		}, app.Logger)
		app.Logger.Debug().Bool("sandbox", creds.Tradier.Sandbox).Msg("Tradier market data initialized")
	}

	if creds.OpenAI.APIKey != "" {
		app.LLM = research.NewOpenAIClient(creds.OpenAI.APIKey, research.OpenAIOptions{
			Model:       cfg.Research.Model,
			Temperature: cfg.Research.Temperature,
			MaxTokens:   cfg.Research.MaxTokens,
		})
		app.Logger.Debug().Str("model", cfg.Research.Model).Msg("OpenAI client initialized")
	}

	return nil
}

func (app *App) teardown(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := app.Metrics.WriteTextfile(path); err != nil {
			app.Logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}
	if app.Audit != nil {
		_ = app.Audit.Close()
	}
	if app.Store != nil {
		return app.Store.Close()
	}
	return nil
}

func logConfig(configDir string, c config.LoggingConfig) logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.FilePath = filepath.Join(configDir, "logs", "wheel.log")
	lc.File = c.File
	if c.Level != "" {
		lc.Level = c.Level
	}
	if c.MaxSize > 0 {
		lc.MaxSize = c.MaxSize
	}
	if c.MaxBackups > 0 {
		lc.MaxBackups = c.MaxBackups
	}
	if c.MaxAge > 0 {
		lc.MaxAge = c.MaxAge
	}
	return lc
}

func httpConfig(c config.BrokerConfig) broker.HTTPConfig {
	h := broker.DefaultHTTPConfig()
	if c.Timeout > 0 {
		h.Timeout = c.Timeout
	}
	if c.RequestsPerSecond > 0 {
		h.RequestsPerSecond = c.RequestsPerSecond
	}
	if c.Burst > 0 {
		h.Burst = c.Burst
	}
	if c.MaxRetries > 0 {
		h.Retry.MaxAttempts = c.MaxRetries
	}
	if c.BreakerFailures > 0 {
		h.BreakerFailures = c.BreakerFailures
	}
	if c.BreakerCooldown > 0 {
		h.BreakerCooldown = c.BreakerCooldown
	}
	return h
}

// commandContext returns a context bounded by timeout and tagged with a run id.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return logging.WithRunID(ctx, uuid.NewString()), cancel
}

func (app *App) requireBroker(output *Output) error {
	if app.Broker == nil {
		output.Error("Broker not configured. Add tastytrade credentials to %s or set trading.mode = \"paper\".", config.CredentialsPath(app.ConfigDir))
		return apperrors.ErrNotAuthenticated
	}
	return nil
}

// newScanner returns a scanner over the market data provider, falling back
// to tastytrade market metrics for IV rank.
func (app *App) newScanner() *trading.Scanner {
	s := trading.NewScanner(app.Market, app.Logger)
	if app.IVRanks != nil {
		s.WithIVRankSource(app.IVRanks)
	}
	return s
}

func (app *App) requireMarket(output *Output) error {
	if app.Market == nil {
		output.Error("Market data not configured. Add a Tradier token to %s.", config.CredentialsPath(app.ConfigDir))
		return apperrors.ErrNotAuthenticated
	}
	return nil
}

func (app *App) requireStore(output *Output) error {
	if app.Store == nil {
		output.Error("Local database unavailable; see the log for details.")
		return apperrors.ErrDatabaseError
	}
	return nil
}

// account logs in if needed and resolves the account number to use.
func (app *App) account(ctx context.Context) (string, error) {
	if !app.Broker.IsAuthenticated() {
		err := app.Broker.Login(ctx)
		if app.Audit != nil {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			_ = app.Audit.LogLogin(ctx, app.Broker.Name(), err == nil, msg)
		}
		if err != nil {
			return "", err
		}
	}

	if acct := app.Config.AccountNumber(); acct != "" {
		return acct, nil
	}
	accounts, err := app.Broker.GetAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", apperrors.ErrNoAccount
	}
	return accounts[0].Number, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("wheel v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			masked := maskedConfig(app.Config)
			if output.IsJSON() {
				return output.JSON(masked)
			}
			showConfig(output, masked)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			paths := map[string]string{
				"dir":         app.ConfigDir,
				"config":      config.ConfigPath(app.ConfigDir),
				"credentials": config.CredentialsPath(app.ConfigDir),
				"database":    app.Config.Storage.DBPath,
			}
			if output.IsJSON() {
				output.JSON(paths)
				return
			}
			output.Println(app.ConfigDir)
			output.Dim("config:      %s", paths["config"])
			output.Dim("credentials: %s", paths["credentials"])
			output.Dim("database:    %s", paths["database"])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// maskedConfig returns a copy of cfg with credentials masked.
func maskedConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.Credentials.Tastytrade.Password = security.MaskCredential(c.Credentials.Tastytrade.Password)
	c.Credentials.Tradier.APIKey = security.MaskCredential(c.Credentials.Tradier.APIKey)
	c.Credentials.OpenAI.APIKey = security.MaskCredential(c.Credentials.OpenAI.APIKey)
	return c
}

func showConfig(output *Output, cfg config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Account:          %s\n", orDash(cfg.AccountNumber()))
	if cfg.IsPaperMode() {
		output.Printf("  Paper balance:    %s\n", utils.FormatUSD(cfg.Trading.PaperBalance))
	}
	output.Printf("  Read-only:        %v\n", cfg.Security.ReadOnlyMode)
	output.Println()

	output.Bold("Scan Defaults")
	output.Printf("  Delta:            %.2f - %.2f\n", cfg.Scan.DeltaMin, cfg.Scan.DeltaMax)
	output.Printf("  DTE:              %d - %d\n", cfg.Scan.DTEMin, cfg.Scan.DTEMax)
	output.Printf("  Min OI:           %d\n", cfg.Scan.OpenInterestMin)
	output.Printf("  Min weekly:       %.2f%%\n", cfg.Scan.WeeklyReturnMin)
	output.Printf("  Sizing:           %s\n", cfg.Scan.SizingMode)
	output.Printf("  Symbols:          %s\n", orDash(strings.Join(cfg.Scan.Symbols, ", ")))
	output.Println()

	output.Bold("Ladder")
	output.Printf("  Tranches:         %d\n", cfg.Ladder.Tranches)
	output.Printf("  Trim strategy:    %s\n", cfg.Ladder.TrimStrategy)
	output.Println()

	output.Bold("Credentials")
	output.Printf("  tastytrade:       %s / %s\n", orDash(cfg.Credentials.Tastytrade.Username), orDash(cfg.Credentials.Tastytrade.Password))
	output.Printf("  Tradier:          %s (sandbox %v)\n", orDash(cfg.Credentials.Tradier.APIKey), cfg.Credentials.Tradier.Sandbox)
	output.Printf("  OpenAI:           %s\n", orDash(cfg.Credentials.OpenAI.APIKey))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
