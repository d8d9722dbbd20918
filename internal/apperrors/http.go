package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnresolvedPlaceholder),
		errors.Is(err, ErrUnsafeValue):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrSubmission),
		errors.Is(err, ErrPoll),
		errors.Is(err, ErrKill):
		// The scheduler behind the templates misbehaved, not the caller.
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
