// Package domainerrors defines the coded errors the registry surfaces to
// callers. Every failure is synchronous and permanent for that call's inputs;
// the Message is a fixed human-readable reason safe to return verbatim.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the failure class. Transport layers map codes to status
// codes; services compare codes instead of error strings.
type Code string

const (
	// CodeUnauthorized: the caller is not the current registry owner.
	CodeUnauthorized Code = "unauthorized"
	// CodeAlreadyExists: create on a name with a live record.
	CodeAlreadyExists Code = "already_exists"
	// CodeNotFound: update/remove/get on a name without a live record.
	CodeNotFound Code = "not_found"
	// CodeEmptyValue: empty value where a non-empty one is required.
	CodeEmptyValue Code = "empty_value"
	// CodeEmptyKey: empty name where a non-empty one is required.
	CodeEmptyKey Code = "empty_key"
	// CodeInvalidOwner: zero/absent identity passed to an ownership transfer.
	CodeInvalidOwner Code = "invalid_owner"
	// CodeBadRequest: malformed transport-level input.
	CodeBadRequest Code = "bad_request"
	// CodeInternal: infrastructure failure not expressible to the caller.
	CodeInternal Code = "internal"
)

// Error carries a code plus a fixed reason string, optionally wrapping an
// underlying infrastructure error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with a fixed reason string.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and reason to an underlying error so infrastructure
// detail is preserved for logs without leaking into the caller-facing reason.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in this package.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
