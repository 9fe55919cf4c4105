package alwaysorigin

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/always-origin/resource"
)

var ErrServerClosed = errors.New("always-origin: server closed")

// StatusError is a failure that is answered with an error response.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, http.StatusText(e.Code), e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func newStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

// statusErrorFor maps resolve and fetch failures to a response status.
func statusErrorFor(err error) *StatusError {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se
	case errors.Is(err, resource.ErrNotFound):
		return &StatusError{Code: http.StatusNotFound, Message: "File Not Found\n", Err: err}
	case errors.Is(err, resource.ErrForbidden):
		return &StatusError{Code: http.StatusForbidden, Message: "403 Forbidden: Access Denied\n", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newStatusError(http.StatusServiceUnavailable, err)
	default:
		return newStatusError(http.StatusInternalServerError, err)
	}
}

// body returns the plain text sent to the client.
func (e *StatusError) body() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%d %s\n", e.Code, http.StatusText(e.Code))
}
