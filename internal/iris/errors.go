package iris

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches an APIError with status 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound matches an APIError with status 404.
var ErrNotFound = errors.New("not found")

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// APIError is a non-2xx response from the Iris API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is maps status codes onto ErrUnauthorized and ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
