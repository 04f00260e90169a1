// Package errs defines the error taxonomy shared by the patch, version, store
// and adapter layers.
//
// Every failure that crosses a package boundary is an *Error carrying a Code,
// so callers classify with CodeOf or IsCode (both see through wrapping)
// instead of matching message text.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes an error.
type Code string

const (
	// CodeFieldProtected indicates a patch touched a protected key. Terminal.
	CodeFieldProtected Code = "FIELD_PROTECTED"

	// CodeMalformedPatch indicates the patch document is structurally invalid.
	CodeMalformedPatch Code = "MALFORMED_PATCH"

	// CodeUnknownField indicates a patch key outside a kind's closed field set.
	CodeUnknownField Code = "UNKNOWN_FIELD"

	// CodeStaleUpdate indicates an explicit timestamp not newer than the stored one.
	CodeStaleUpdate Code = "STALE_UPDATE"

	// CodeConversionFailed indicates the codec could not map a domain object.
	CodeConversionFailed Code = "CONVERSION_FAILED"

	// CodeLockTimeout indicates the resource lock was not acquired in time.
	// The only retryable code.
	CodeLockTimeout Code = "LOCK_TIMEOUT"

	// CodeNotFound indicates the target resource does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidResource indicates a resource or child failed validation.
	CodeInvalidResource Code = "INVALID_RESOURCE"

	// CodePersistence indicates the durable backend rejected a mutation.
	CodePersistence Code = "PERSISTENCE"
)

// Error is a coded error with optional structured context.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the offending key, when there is one.
	Field string

	// Target identifies the affected resource ("party/id"), when known.
	Target string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Target != "" {
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// FieldProtected reports that a patch addressed a protected key.
func FieldProtected(field string) *Error {
	return &Error{Code: CodeFieldProtected, Message: "patch touches a protected field", Field: field}
}

// UnknownField reports a key outside the closed field set.
func UnknownField(field string) *Error {
	return &Error{Code: CodeUnknownField, Message: "field is not part of the resource kind", Field: field}
}

// WithTarget returns a copy of e annotated with the affected resource.
func (e *Error) WithTarget(target string) *Error {
	out := *e
	out.Target = target
	return &out
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an *Error with code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether err may succeed when retried unchanged.
// Only lock timeouts are retryable; everything else is surfaced as-is.
func Retryable(err error) bool {
	return IsCode(err, CodeLockTimeout)
}
