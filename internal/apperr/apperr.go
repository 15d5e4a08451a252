// Package apperr defines the closed set of symbolic error kinds shared by
// every core component. Callers use errors.Is/errors.As against Kind or
// Error rather than matching on message strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the symbolic error kinds shared across the core's error
// handling.
type Kind string

const (
	InvalidInput      Kind = "InvalidInput"
	Unauthenticated   Kind = "Unauthenticated"
	Unauthorized      Kind = "Unauthorized"
	Unverified        Kind = "Unverified"
	Disabled          Kind = "Disabled"
	NotFound          Kind = "NotFound"
	AlreadyExists     Kind = "AlreadyExists"
	AlreadyConnected  Kind = "AlreadyConnected"
	NotConnected      Kind = "NotConnected"
	NoCapacity        Kind = "NoCapacity"
	AddressExhausted  Kind = "AddressExhausted"
	PremiumRequired   Kind = "PremiumRequired"
	PaymentFailed     Kind = "PaymentFailed"
	RateLimited       Kind = "RateLimited"
	Banned            Kind = "Banned"
	Timeout           Kind = "Timeout"
	DependencyDown    Kind = "DependencyDown"
	Internal          Kind = "Internal"
)

// Error is the structured error returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, apperr.New(Kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause while preserving it for
// errors.Unwrap / logging.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying the given structured details
// (e.g. the upgrade plan reference on PremiumRequired, the existing
// session id on AlreadyConnected).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf extracts the Kind of err, or Internal if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
