// Package errors defines the error kinds shared across execution, scheduling
// and the broker gateways. Callers match kinds with errors.Is.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds
var (
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrNoMatchingStrike      = errors.New("no matching strike")
	ErrOrderRejected         = errors.New("order rejected")
	ErrFillTimeout           = errors.New("fill confirmation timed out")
	ErrBrokerUnavailable     = errors.New("broker unavailable")
	ErrJobNotFound           = errors.New("job not found")
	ErrScheduleNotFound      = errors.New("square-off schedule not found")
	ErrUnknownOwner          = errors.New("unknown owner")
	ErrInvalidTransition     = errors.New("invalid leg status transition")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrRateLimited           = errors.New("rate limited")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrDatabaseError         = errors.New("database error")
)

// BrokerError is a failure reported by a broker API, tagged with the
// broker's own error code.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker %s: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewBrokerError creates a BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Err: err}
}

// OrderError is a failed order operation. Op is place, status or cancel.
type OrderError struct {
	OrderID string
	Symbol  string
	Op      string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	subject := e.Symbol
	if e.OrderID != "" {
		subject = e.OrderID
		if e.Symbol != "" {
			subject += " " + e.Symbol
		}
	}
	msg := fmt.Sprintf("%s %s: %s", e.Op, subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError creates an OrderError.
func NewOrderError(orderID, symbol, op, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Op: op, Reason: reason, Err: err}
}

// NewRejection is a broker-side rejection of a new order. Its Reason is the
// broker's message and it matches ErrOrderRejected.
func NewRejection(symbol, reason string) *OrderError {
	return NewOrderError("", symbol, "place", reason, ErrOrderRejected)
}

// ValidationError is a request contract violation. It matches
// ErrInvalidRequest.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// NewValidationError creates a ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// DataError is a failure to obtain a spot quote or option chain. It always
// matches ErrMarketDataUnavailable, plus whatever Err matches.
type DataError struct {
	Feed    string // spot, chain, snapshot
	Subject string // index or instrument
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil && e.Err != ErrMarketDataUnavailable {
		return fmt.Sprintf("%s %s: %s: %v", e.Feed, e.Subject, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Feed, e.Subject, e.Message)
}

func (e *DataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMarketDataUnavailable}
	}
	return []error{ErrMarketDataUnavailable, e.Err}
}

// NewDataError creates a DataError.
func NewDataError(feed, subject, message string, err error) *DataError {
	return &DataError{Feed: feed, Subject: subject, Message: message, Err: err}
}

// IsTransient reports whether a read-only call that failed with err is
// worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Wrap prefixes err with message, keeping it matchable. Nil stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
