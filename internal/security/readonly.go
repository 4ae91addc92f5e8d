// Package security guards order entry: read-only enforcement, an append-only
// audit trail and validation of user-supplied identifiers.
package security

import (
	"context"
	"fmt"
	"sync/atomic"

	apperrors "wheel-trader/internal/errors"
)

// OperationType names a broker operation for permission checks and audit.
type OperationType string

const (
	OpRead        OperationType = "READ"
	OpPlaceOrder  OperationType = "PLACE_ORDER"
	OpCancelOrder OperationType = "CANCEL_ORDER"
)

// mutates reports whether op changes broker state.
func (op OperationType) mutates() bool {
	return op == OpPlaceOrder || op == OpCancelOrder
}

// ReadOnlyError is returned when read-only mode blocks an operation.
type ReadOnlyError struct {
	Operation OperationType
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s blocked: security.read_only_mode is on", e.Operation)
}

func (e *ReadOnlyError) Unwrap() error {
	return apperrors.ErrReadOnlyMode
}

// AccessController blocks mutating operations while read-only mode is on.
// Blocked attempts are written to the audit log when one is set.
type AccessController struct {
	readOnly atomic.Bool
	audit    *AuditLogger
}

// NewAccessController returns a controller; audit may be nil.
func NewAccessController(readOnly bool, audit *AuditLogger) *AccessController {
	ac := &AccessController{audit: audit}
	ac.readOnly.Store(readOnly)
	return ac
}

func (ac *AccessController) IsReadOnly() bool { return ac.readOnly.Load() }

func (ac *AccessController) SetReadOnly(readOnly bool) { ac.readOnly.Store(readOnly) }

// CheckPermission returns a *ReadOnlyError for mutating operations in
// read-only mode.
func (ac *AccessController) CheckPermission(ctx context.Context, op OperationType) error {
	if !op.mutates() || !ac.IsReadOnly() {
		return nil
	}
	if ac.audit != nil {
		_ = ac.audit.LogReadOnlyViolation(ctx, string(op))
	}
	return &ReadOnlyError{Operation: op}
}
