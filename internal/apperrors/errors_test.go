package apperrors

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", Configuration("submit", "template is empty"), ErrConfiguration},
		{"validation", Validation("memory", "not declared"), ErrValidation},
		{"not found", NotFound("job", "j1"), ErrNotFound},
		{"conflict", Conflict("job", "j1", "job already exists"), ErrConflict},
		{"internal", Internal("runner.spawn", errors.New("fork failed")), ErrInternal},
		{"submission", Submission("j1", errors.New("exit 1")), ErrSubmission},
		{"poll", PollFailed("j1", errors.New("exit 1")), ErrPoll},
		{"kill", KillFailed("j1", errors.New("exit 1")), ErrKill},
		{"timed out", TimedOut("submit"), ErrTimedOut},
		{"unresolved placeholder", UnresolvedPlaceholder("job_id"), ErrUnresolvedPlaceholder},
		{"unsafe value", UnsafeValue("script", "contains newline"), ErrUnsafeValue},
		{"no match", NoMatch(`(\d+)`), ErrNoMatch},
		{"ambiguous match", AmbiguousMatch(`(\d+)`, 2), ErrAmbiguousMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
			if tt.err.Error() == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestMultiUnwrap(t *testing.T) {
	t.Parallel()

	// A submit timeout must classify as both a submission failure and a
	// timeout, so callers can branch on either.
	err := Submission("j1", TimedOut("submit"))

	if !errors.Is(err, ErrSubmission) {
		t.Error("expected errors.Is(err, ErrSubmission)")
	}
	if !errors.Is(err, ErrTimedOut) {
		t.Error("expected errors.Is(err, ErrTimedOut)")
	}
	if errors.Is(err, ErrPoll) {
		t.Error("unexpected match against ErrPoll")
	}
}

func TestCausePreserved(t *testing.T) {
	t.Parallel()

	cause := errors.New("sbatch: Slurm controller not responding")
	err := Submission("j1", cause)

	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "controller not responding") {
		t.Errorf("message lost the cause: %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("memory", "bad"), http.StatusBadRequest},
		{"unresolved placeholder", UnresolvedPlaceholder("x"), http.StatusBadRequest},
		{"unsafe value", UnsafeValue("x", "newline"), http.StatusBadRequest},
		{"not found", NotFound("job", "j1"), http.StatusNotFound},
		{"conflict", Conflict("job", "j1", "exists"), http.StatusConflict},
		{"submission", Submission("j1", errors.New("exit 1")), http.StatusBadGateway},
		{"poll", PollFailed("j1", errors.New("exit 1")), http.StatusBadGateway},
		{"kill", KillFailed("j1", errors.New("exit 1")), http.StatusBadGateway},
		{"internal", Internal("op", errors.New("x")), http.StatusInternalServerError},
		{"plain error", errors.New("whatever"), http.StatusInternalServerError},
		// Timeout wins over the operation classification: 504, not 502.
		{"submit timeout", Submission("j1", TimedOut("submit")), http.StatusGatewayTimeout},
		{"bare timeout", TimedOut("poll"), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
