// Package scryerr defines the typed error taxonomy used across the archive
// engine, adapted from the bridge's per-provider error-code pattern
// (pkg/aierrors) and generalized away from any transport framework.
package scryerr

import "fmt"

// Kind classifies an Error for callers deciding whether to retry, surface,
// or silently count it. See spec §7's error taxonomy table.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindFormatDetection  Kind = "format_detection"
	KindDuplicateSkip    Kind = "duplicate_skip"
	KindTransientBackend Kind = "transient_backend"
	KindPermanentBackend Kind = "permanent_backend"
)

// Error is a typed, wrapped error carrying a machine-readable code and a
// retry policy hint.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind+Code equality regardless of message/cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

func newf(kind Kind, code string, retryable bool) func(format string, args ...any) *Error {
	return func(format string, args ...any) *Error {
		return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Retryable: retryable}
	}
}

// Wrap attaches cause to err (which must be an *Error), returning a copy.
func Wrap(err *Error, cause error) *Error {
	clone := *err
	clone.Cause = cause
	return &clone
}

var (
	// Validationf builds a KindValidation error: bad request shape,
	// out-of-range params, unknown format. Never retried.
	Validationf = newf(KindValidation, "VALIDATION", false)

	// FormatDetectionf builds a KindFormatDetection error: archive matches
	// no known extractor.
	FormatDetectionf = newf(KindFormatDetection, "FORMAT_DETECTION", false)

	// DuplicateSkipf is a non-error outcome represented as an Error so
	// callers can uniformly count/log it without a special-case type.
	DuplicateSkipf = newf(KindDuplicateSkip, "DUPLICATE_SKIP", false)

	// TransientBackendf builds a KindTransientBackend error: DB/embedder
	// timeout, network blip. Retried with backoff for jobs.
	TransientBackendf = newf(KindTransientBackend, "TRANSIENT_BACKEND", true)

	// PermanentBackendf builds a KindPermanentBackend error: schema
	// violation, unknown message_id in a job payload. Never retried.
	PermanentBackendf = newf(KindPermanentBackend, "PERMANENT_BACKEND", false)
)

// IsRetryable reports whether err (if an *Error) should be retried by a
// job-queue consumer.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retryable
}
