// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrConfiguration marks errors in the backend configuration (templates,
	// regex, limits). These are fatal at construction time and must never
	// surface during normal operation.
	ErrConfiguration = errors.New("configuration error")

	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// Per-operation failures against the external scheduler.
	ErrSubmission = errors.New("submission failed")
	ErrPoll       = errors.New("poll failed")
	ErrKill       = errors.New("kill failed")

	// ErrTimedOut marks a scheduler command that exceeded its configured
	// duration. Always wrapped by one of the per-operation sentinels.
	ErrTimedOut = errors.New("command timed out")

	// Template expansion failures.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrUnsafeValue           = errors.New("unsafe value")

	// Job-id extraction failures.
	ErrNoMatch        = errors.New("no job id match")
	ErrAmbiguousMatch = errors.New("ambiguous job id match")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation/configuration errors (e.g., "submit", "memory")
	Resource string // For not found/conflict (e.g., "job")
	Op       string // Operation that failed (e.g., "runner.run")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so a submit timeout
// matches errors.Is against ErrSubmission and ErrTimedOut alike.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// Configuration creates a configuration error for a config key.
func Configuration(field, message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  fmt.Sprintf("%s: %s", field, message),
		Field:    field,
	}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Submission wraps a submit-path failure for a job.
func Submission(jobID string, cause error) error {
	return &Error{
		Sentinel: ErrSubmission,
		Message:  fmt.Sprintf("submission of job %s failed: %v", jobID, cause),
		Resource: "job",
		Cause:    cause,
	}
}

// PollFailed wraps a check-alive execution failure. The job state is
// unchanged; the caller may retry.
func PollFailed(jobID string, cause error) error {
	return &Error{
		Sentinel: ErrPoll,
		Message:  fmt.Sprintf("poll of job %s failed: %v", jobID, cause),
		Resource: "job",
		Cause:    cause,
	}
}

// KillFailed wraps a kill command failure. The handle stays killable.
func KillFailed(jobID string, cause error) error {
	return &Error{
		Sentinel: ErrKill,
		Message:  fmt.Sprintf("kill of job %s failed: %v", jobID, cause),
		Resource: "job",
		Cause:    cause,
	}
}

// TimedOut creates a timeout error for a named command.
func TimedOut(op string) error {
	return &Error{
		Sentinel: ErrTimedOut,
		Message:  fmt.Sprintf("%s exceeded its configured timeout", op),
		Op:       op,
	}
}

// UnresolvedPlaceholder creates an error naming the placeholder that has no
// binding in the expansion variables.
func UnresolvedPlaceholder(name string) error {
	return &Error{
		Sentinel: ErrUnresolvedPlaceholder,
		Message:  fmt.Sprintf("placeholder ${%s} has no value", name),
		Field:    name,
	}
}

// UnsafeValue creates an error for a variable value that would break shell
// tokenization if substituted.
func UnsafeValue(name, reason string) error {
	return &Error{
		Sentinel: ErrUnsafeValue,
		Message:  fmt.Sprintf("value for ${%s} is unsafe to substitute: %s", name, reason),
		Field:    name,
	}
}

// NoMatch creates an error for a job-id pattern that matched nothing.
func NoMatch(pattern string) error {
	return &Error{
		Sentinel: ErrNoMatch,
		Message:  fmt.Sprintf("pattern %q matched no job id in submission output", pattern),
	}
}

// AmbiguousMatch creates an error for a job-id pattern that matched more
// than once under strict extraction.
func AmbiguousMatch(pattern string, count int) error {
	return &Error{
		Sentinel: ErrAmbiguousMatch,
		Message:  fmt.Sprintf("pattern %q matched %d job ids, expected exactly one", pattern, count),
	}
}
