// Package errors defines the sentinel errors and typed errors shared across
// the desk. Typed errors unwrap to a sentinel so callers can match with Is.
package errors

import (
	"errors"
	"fmt"
)

// Session and account.
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoAccount          = errors.New("no account available")
)

// Orders.
var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderRejected = errors.New("order rejected")
	ErrOrderNotFound = errors.New("order not found")
	ErrReadOnlyMode  = errors.New("read-only mode")
)

// Transport.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrConnectionFailed = errors.New("connection failed")
)

// Data.
var (
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrDataNotFound    = errors.New("data not found")
	ErrMalformedRecord = errors.New("malformed record")
	ErrDatabaseError   = errors.New("database error")
	ErrConfigInvalid   = errors.New("invalid configuration")
)

// BrokerError is a failed call to a broker or market-data API. Status is
// the HTTP status, 0 when no response arrived.
type BrokerError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *BrokerError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BrokerError) Unwrap() error { return e.Err }

func NewBrokerError(provider string, status int, message string, err error) *BrokerError {
	return &BrokerError{Provider: provider, Status: status, Message: message, Err: err}
}

// OrderError is an order the broker or the order guard refused.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	id := e.OrderID
	if id == "" {
		id = "-"
	}
	msg := fmt.Sprintf("order %s %s %s: %s", id, e.Action, e.Symbol, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Action: action, Reason: reason, Err: err}
}

// ValidationError is a rejected user or config input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// MalformedRecordError reports a raw contract, position or transaction
// that failed parsing at the boundary. It always matches ErrMalformedRecord.
type MalformedRecordError struct {
	Kind   string // contract, position, transaction, symbol
	Key    string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Kind, e.Key, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

func NewMalformedRecordError(kind, key, reason string) *MalformedRecordError {
	return &MalformedRecordError{Kind: kind, Key: key, Reason: reason}
}

// DataError is a missing or unusable dataset, e.g. a scan run or candle
// history for one symbol.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.DataType, e.Symbol, e.Message)
	if e.Symbol == "" {
		msg = fmt.Sprintf("%s: %s", e.DataType, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataError) Unwrap() error { return e.Err }

func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{DataType: dataType, Symbol: symbol, Message: message, Err: err}
}

// Wrap prefixes err with message, keeping it matchable. Nil stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is is errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }
