// Package logging builds the desk's zerolog loggers and the structured events
// shared by the scanner, broker clients and order guard.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where log lines go and how the file rotates.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig logs warnings to stderr and info to a rotated file under
// the default config directory.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "wheel-trader", "logs", "wheel.log"),
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// NewLogger returns a logger with DefaultLogConfig.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig returns a logger for cfg. The console sink only shows
// warnings and above so command output stays readable; the file sink gets
// everything at cfg.Level.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  zerolog.WarnLevel,
		})
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel lowers the global level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

type ctxKey struct{}

// WithRunID tags ctx with the id of the command or scan in progress.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// RunIDFromContext returns the run id stored in ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ForContext adds the run id from ctx, if any, to logger.
func ForContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := RunIDFromContext(ctx); id != "" {
		return logger.With().Str("run_id", id).Logger()
	}
	return logger
}

// WithOperation names the component emitting log lines.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogOrder records a submitted order.
func LogOrder(logger zerolog.Logger, orderID, symbol, action string, qty int, limit string, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("action", action).
		Int("quantity", qty).
		Str("limit", limit).
		Str("status", status).
		Msg("order submitted")
}

// LogScan records the outcome of an opportunity scan.
func LogScan(logger zerolog.Logger, runID string, symbols, selected, rejected, failed int, duration time.Duration) {
	logger.Info().
		Str("event", "scan").
		Str("run_id", runID).
		Int("symbols", symbols).
		Int("selected", selected).
		Int("rejected", rejected).
		Int("failed", failed).
		Dur("duration", duration).
		Msg("scan completed")
}

// LogAPICall records one REST round trip at debug level.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	e := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)
	if err != nil {
		e.Err(err).Msg("api call failed")
		return
	}
	e.Msg("api call")
}
