// Package fserr tags engine errors with one of a small set of kinds so the
// facade can turn them into the wire-level ErrMsg strings without every
// caller having to know the final user-facing text.
package fserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the facade's error-to-text mapping.
type Kind int

const (
	Other Kind = iota
	NotFound
	AlreadyExists
	InvalidInput
	PermissionDenied
	OutOfMemory
	ConnectionAborted
	NotConnected
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidInput:
		return "InvalidInput"
	case PermissionDenied:
		return "PermissionDenied"
	case OutOfMemory:
		return "OutOfMemory"
	case ConnectionAborted:
		return "ConnectionAborted"
	case NotConnected:
		return "NotConnected"
	default:
		return "Other"
	}
}

// Error wraps an underlying cause with a Kind and a short user-facing
// message. Error() renders the kind, the message and, when set, the cause
// as one string, and that whole string is what follows the ErrMsg: prefix
// on the wire.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no further cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it as Unwrap() cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the Kind and message of err if it (or something it wraps) is
// an *Error; ok is false for plain errors, which callers should treat as
// Other.
func As(err error) (k Kind, message string, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Message, true
	}
	return Other, "", false
}

// Is reports whether err is tagged with the given Kind.
func Is(err error, kind Kind) bool {
	k, _, ok := As(err)
	return ok && k == kind
}
