// Package apperr defines the wire error taxonomy (spec §7) and the single
// point that classifies an internal error into one of those codes. Every
// component returns a `trace`-wrapped error constructed through one of the
// New* helpers below; only the dispatcher (internal/dispatch) calls
// Classify, so the mapping from "thing that went wrong" to "code on the
// wire" lives in one place.
//
// Grounded on the teacher's AppError{Code,Message} sentinel-var pattern
// (models.go), re-expressed with github.com/gravitational/trace the way
// the rest of the corpus's infrastructure tooling does error taxonomies.
package apperr

import (
	"errors"

	"github.com/gravitational/trace"
)

// Code is a wire-level error code, one of the enum in spec §7.
type Code string

const (
	CodeChallengeNotFound  Code = "CHALLENGE_NOT_FOUND"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeCredentialNotFound Code = "CREDENTIAL_NOT_FOUND"
	CodeInvalidOrigin      Code = "INVALID_ORIGIN"
	CodeWebAuthnError      Code = "WEBAUTHN_ERROR"
	CodeStorageError       Code = "STORAGE_ERROR"
	CodeJSONError          Code = "JSON_ERROR"
	CodeIOError            Code = "IO_ERROR"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// taggedError pins an error to an exact wire code. trace's own sentinel
// kinds (NotFound, BadParameter, AccessDenied) are reused
// as the underlying error where they fit semantically, but three of our
// ten codes (CHALLENGE_NOT_FOUND, USER_NOT_FOUND, CREDENTIAL_NOT_FOUND)
// all share trace.IsNotFound(), so the exact wire code is carried
// alongside rather than re-derived from the trace kind.
type taggedError struct {
	code Code
	err  error
}

func (t *taggedError) Error() string { return t.err.Error() }
func (t *taggedError) Unwrap() error { return t.err }

func tag(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &taggedError{code: code, err: err}
}

// NewChallengeNotFound reports that a challenge id is absent or expired.
func NewChallengeNotFound(format string, args ...any) error {
	return tag(CodeChallengeNotFound, trace.NotFound(format, args...))
}

// NewUserNotFound reports that no credentials are enrolled for a username.
func NewUserNotFound(format string, args ...any) error {
	return tag(CodeUserNotFound, trace.NotFound(format, args...))
}

// NewCredentialNotFound reports that no credential exists for an id.
func NewCredentialNotFound(format string, args ...any) error {
	return tag(CodeCredentialNotFound, trace.NotFound(format, args...))
}

// NewInvalidOrigin reports an origin/RP-ID binding mismatch.
func NewInvalidOrigin(format string, args ...any) error {
	return tag(CodeInvalidOrigin, trace.AccessDenied(format, args...))
}

// NewWebAuthnError reports attestation/assertion verification failure,
// including counter regression.
func NewWebAuthnError(format string, args ...any) error {
	return tag(CodeWebAuthnError, trace.AccessDenied(format, args...))
}

// NewStorageError reports filesystem I/O, lock acquisition, or persisted
// state parse failure. Wraps cause to preserve the underlying message.
func NewStorageError(cause error, format string, args ...any) error {
	return tag(CodeStorageError, trace.Wrap(cause, format, args...))
}

// NewJSONError reports that stdin or a stored record was not valid JSON.
func NewJSONError(cause error, format string, args ...any) error {
	return tag(CodeJSONError, trace.Wrap(cause, format, args...))
}

// NewIOError reports a non-JSON, non-storage I/O failure (stdin/stdout).
func NewIOError(cause error, format string, args ...any) error {
	return tag(CodeIOError, trace.Wrap(cause, format, args...))
}

// NewInvalidInput reports malformed arguments, a duplicate credential id,
// oversize stdin, or bad base64.
func NewInvalidInput(format string, args ...any) error {
	return tag(CodeInvalidInput, trace.BadParameter(format, args...))
}

// Classify maps err to its wire code. Errors that never passed through one
// of the New* constructors above (for example a bare stdlib error)
// classify as INTERNAL_ERROR.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.code
	}
	return CodeInternalError
}

// Message extracts the human-readable message to place on the wire.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
