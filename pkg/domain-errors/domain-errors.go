// Package domainerrors carries failure categories across service boundaries
// without tying them to HTTP. httputil maps each Code to a status and body.
package domainerrors

import "errors"

// Code names what went wrong in engine terms.
type Code string

// Request and lookup failures.
const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
)

// Infrastructure and integrity failures.
const (
	CodeInternal           Code = "internal_error"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInvariantViolation Code = "invariant_violation"
)

// Handover outcomes. These are recorded results, not faults.
const (
	CodeRejected     Code = "handover_rejected"
	CodeInvalidToken Code = "invalid_token"
	// CodeKeyUnavailable means the signer's key could not be used. The
	// courier must re-authenticate; moving closer will not help.
	CodeKeyUnavailable Code = "key_unavailable"
)

// Error is a coded failure. Message is safe to show to clients; Err is the
// underlying cause and never leaves the process.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match on Code alone, so errors.Is(err, New(CodeX, "")) works
// as a category test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err. When err already carries a Code that code wins
// over the fallback, so a vault failure stays key_unavailable however many
// layers rewrap it.
func Wrap(err error, fallback Code, msg string) error {
	return &Error{Code: CodeOf(err, fallback), Message: msg, Err: err}
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the outermost domain code in err's chain. Without one it
// returns the first fallback, or CodeInternal.
func CodeOf(err error, fallback ...Code) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return CodeInternal
}
