package backend

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable is returned while the circuit breaker is open.
var ErrBackendUnavailable = errors.New("backend unavailable")

// APIError is a failed backend call. Message is safe to show to the user:
// either the server-supplied "error" text or a generic message for the
// endpoint. Status is zero when no HTTP response was received.
type APIError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Detail includes the operation, status and underlying cause, for logs.
func (e *APIError) Detail() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Status != 0 {
		s = fmt.Sprintf("%s (HTTP %d)", s, e.Status)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsClientError reports whether the backend rejected the request as invalid
// (4xx). Such failures do not count against the breaker.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}
