package provider

import (
	"errors"
	"fmt"
)

// ErrKind classifies a provider failure. Provider-native error codes never
// cross this boundary; adapters translate them into one of these kinds.
type ErrKind string

const (
	// ErrKindConnection is a transient transport failure. The session may
	// recover by reconnecting.
	ErrKindConnection ErrKind = "connection"

	// ErrKindProtocol is a malformed or unexpected provider event. The turn
	// is aborted; the session survives.
	ErrKindProtocol ErrKind = "protocol"

	// ErrKindSessionExpired means the provider ended the model session and
	// a reconnect must start a fresh one.
	ErrKindSessionExpired ErrKind = "session_expired"

	// ErrKindOverflow means the session fell too far behind consuming
	// provider events and the bounded buffer filled. Fatal for the
	// connection.
	ErrKindOverflow ErrKind = "overflow"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a classified provider error.
func NewError(kind ErrKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the error kind, defaulting to ErrKindConnection for
// unclassified transport-level failures.
func KindOf(err error) ErrKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrKindConnection
}

// Retryable reports whether a reconnect attempt may recover from err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindConnection, ErrKindOverflow:
		return true
	default:
		return false
	}
}
