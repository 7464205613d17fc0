// Package errs defines the closed set of error kinds used across the agent
// runtime host. Errors carry a Kind so callers (the JSON-RPC classifier in
// particular) can map failures to the right wire representation without
// string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a taxonomic error classification, not an implementation type.
type Kind string

const (
	// InvalidArgument covers bad input shape, missing required metadata, FSM
	// violations, allowlist rejections, and correlation-id parse errors.
	InvalidArgument Kind = "invalid_argument"
	// FunctionNotFound covers unregistered JS functions or agent names.
	FunctionNotFound Kind = "function_not_found"
	// ExecutionFailed covers tool/LLM failures and JS bridge runtime errors.
	ExecutionFailed Kind = "execution_failed"
	// ProvenanceInvalid covers normalizer rejections (scope mismatch, missing
	// agent_id, unregistered agent).
	ProvenanceInvalid Kind = "provenance_invalid"
	// StorageError covers graph writer persistence failures.
	StorageError Kind = "storage_error"
	// Transient is reserved for future retry-policy hints.
	Transient Kind = "transient"
)

// Error is a structured failure that preserves a causal chain while still
// implementing the standard error interface: a Kind classification plus an
// optional nested cause so errors.Is/As keep working across layers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats a message and constructs an *Error with the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error with the given kind that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf returns the Kind of err if it is, or wraps, an *Error; otherwise it
// returns ExecutionFailed as the default classification for opaque errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ExecutionFailed
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
