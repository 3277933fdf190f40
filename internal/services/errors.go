package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure so callers can decide whether to
// retry, re-prompt for a credential, or abort the run.
type ErrorKind string

const (
	// KindInvalidCredential means the backend rejected the API key. The stored
	// credential is cleared and the user must supply a new one. Never retried.
	KindInvalidCredential ErrorKind = "invalid_credential"

	// KindRateLimited means the backend signalled quota or resource
	// exhaustion. Retried with a fixed backoff window inside the client.
	KindRateLimited ErrorKind = "rate_limited"

	// KindContentBlocked means the backend declined to produce an asset,
	// typically a safety-filter rejection. Never retried.
	KindContentBlocked ErrorKind = "content_blocked"

	// KindInvalidResponseShape means the backend returned a payload missing
	// required fields, an empty prompt list, or a story shorter than the
	// configured floor. Never retried.
	KindInvalidResponseShape ErrorKind = "invalid_response_shape"

	// KindTransport covers everything else: network failures, unexpected
	// status codes, malformed JSON at the HTTP layer. Never retried.
	KindTransport ErrorKind = "transport"

	// KindUserCancelled is a run outcome, not a backend failure. Swallowed by
	// the API layer (the run reports "cancelled", not an error).
	KindUserCancelled ErrorKind = "user_cancelled"

	// KindAssemblyFailure covers video assembly errors: unsupported codecs,
	// decode failures mid-slide. Partial output is discarded.
	KindAssemblyFailure ErrorKind = "assembly_failure"
)

// GenError is the typed error returned by all generation capabilities and the
// video assembler. Match with errors.As and inspect Kind.
type GenError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *GenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *GenError) Unwrap() error {
	return e.Err
}

// NewGenError builds a GenError with a formatted message.
func NewGenError(kind ErrorKind, format string, args ...interface{}) *GenError {
	return &GenError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapGenError builds a GenError wrapping an underlying cause.
func WrapGenError(kind ErrorKind, err error, format string, args ...interface{}) *GenError {
	return &GenError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, or KindTransport if err is not a
// GenError. Returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ge *GenError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindTransport
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
