package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"wheel-trader/internal/logging"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Authentication events
	AuditLogin      AuditEventType = "LOGIN"
	AuditAuthFailed AuditEventType = "AUTH_FAILED"

	// Trading events
	AuditOrderPlaced    AuditEventType = "ORDER_PLACED"
	AuditOrderCancelled AuditEventType = "ORDER_CANCELLED"
	AuditOrderRejected  AuditEventType = "ORDER_REJECTED"

	// Security events
	AuditReadOnlyViolation AuditEventType = "READ_ONLY_VIOLATION"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	Account   string                 `json:"account,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
}

// AuditLogger appends JSON lines for trading actions.
type AuditLogger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig(configDir string) AuditConfig {
	return AuditConfig{
		LogDir:     filepath.Join(configDir, "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger creates a rotating audit logger.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewAuditLoggerWithWriter(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// NewAuditLoggerWithWriter creates an audit logger over any writer.
func NewAuditLoggerWithWriter(w io.WriteCloser) *AuditLogger {
	return &AuditLogger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Log logs an audit event.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now().UTC()
	event.SessionID = al.sessionID
	if event.RunID == "" {
		event.RunID = logging.RunIDFromContext(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogLogin logs a login attempt.
func (al *AuditLogger) LogLogin(ctx context.Context, provider string, success bool, errorMsg string) error {
	eventType := AuditLogin
	if !success {
		eventType = AuditAuthFailed
	}
	return al.Log(ctx, AuditEvent{
		EventType: eventType,
		Action:    provider,
		Success:   success,
		ErrorMsg:  MaskSensitive(errorMsg),
	})
}

// LogOrderPlaced logs an order submission and its outcome.
func (al *AuditLogger) LogOrderPlaced(ctx context.Context, account, orderID, symbol, action string, qty int, limit string, paper, success bool, errorMsg string) error {
	eventType := AuditOrderPlaced
	if !success {
		eventType = AuditOrderRejected
	}
	return al.Log(ctx, AuditEvent{
		EventType: eventType,
		Account:   account,
		OrderID:   orderID,
		Symbol:    symbol,
		Action:    action,
		Success:   success,
		ErrorMsg:  errorMsg,
		Details: map[string]interface{}{
			"quantity":    qty,
			"limit_price": limit,
			"paper":       paper,
		},
	})
}

// LogOrderCancelled logs an order cancellation event.
func (al *AuditLogger) LogOrderCancelled(ctx context.Context, account, orderID string, success bool, errorMsg string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditOrderCancelled,
		Account:   account,
		OrderID:   orderID,
		Success:   success,
		ErrorMsg:  errorMsg,
	})
}

// LogReadOnlyViolation logs an attempt to perform a write operation in read-only mode.
func (al *AuditLogger) LogReadOnlyViolation(ctx context.Context, operation string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditReadOnlyViolation,
		Action:    operation,
		Success:   false,
		ErrorMsg:  "operation blocked: read-only mode enabled",
	})
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	return al.writer.Close()
}
