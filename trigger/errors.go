package trigger

import (
	"errors"
	"fmt"
	"net/http"
)

type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

type AuthError struct {
	Message string
}

func (e AuthError) Error() string {
	return "unauthorized: " + e.Message
}

type RateLimitError struct {
	WorkflowID string
	Limit      int
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded for workflow %s", e.Limit, e.WorkflowID)
}

type NotFoundError struct {
	Message string
}

func (e NotFoundError) Error() string {
	return e.Message
}

// HTTPStatus maps a trigger error to the status code returned to the caller.
func HTTPStatus(err error) int {
	switch {
	case errors.As(err, &ValidationError{}):
		return http.StatusBadRequest
	case errors.As(err, &AuthError{}):
		return http.StatusUnauthorized
	case errors.As(err, &RateLimitError{}):
		return http.StatusTooManyRequests
	case errors.As(err, &NotFoundError{}):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
