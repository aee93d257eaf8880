package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ConnectivityError is a venue or bridge failure for one account.
// The operation may succeed on a later cycle.
type ConnectivityError struct {
	Op        string // Operation that failed (e.g., "connect", "positions", "place")
	AccountID string
	Err       error
}

func (e *ConnectivityError) Error() string {
	if e.AccountID == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " [" + e.AccountID + "]: " + e.Err.Error()
}

func (e *ConnectivityError) IsRetriable() bool {
	return true
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// NewConnectivityError wraps err as a retriable connectivity failure.
func NewConnectivityError(op, accountID string, err error) *ConnectivityError {
	return &ConnectivityError{Op: op, AccountID: accountID, Err: err}
}

// IsConnectivity reports whether err is or wraps a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// Rejection codes produced by the risk transform.
const (
	RejectPairingInactive  = "pairing_inactive"
	RejectSymbolNotAllowed = "symbol_not_allowed"
	RejectInvalidInput     = "invalid_input"
	RejectBelowMinVolume   = "below_min_volume"
	RejectRiskUnknown      = "risk_unknown"
)

// ValidationRejection means a copy was refused by policy. Never retriable.
type ValidationRejection struct {
	Code   string
	Reason string
}

func (e *ValidationRejection) Error() string {
	return "rejected [" + e.Code + "]: " + e.Reason
}

func (e *ValidationRejection) IsRetriable() bool {
	return false
}

// Reject builds a ValidationRejection with a formatted reason.
func Reject(code, format string, args ...any) *ValidationRejection {
	return &ValidationRejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// OrderSubmissionError is a follower order refused by the venue.
type OrderSubmissionError struct {
	AccountID string
	Symbol    string
	Code      string
	Err       error
}

func (e *OrderSubmissionError) Error() string {
	msg := fmt.Sprintf("order rejected [%s %s]", e.AccountID, e.Symbol)
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderSubmissionError) IsRetriable() bool {
	return false
}

func (e *OrderSubmissionError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrPositionNotFound is returned by a gateway when the follower ticket no longer exists.
	// The ledger treats the leg as closed.
	ErrPositionNotFound = errors.New("position not found")

	// ErrConflict is returned when an active pairing already links the same accounts.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned for unknown pairings or accounts.
	ErrNotFound = errors.New("not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
