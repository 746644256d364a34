package http

import (
	"errors"
	"fmt"
	nethttp "net/http"
)

// Error categories. Errors returned by the engine wrap exactly one of these,
// so callers can classify them with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrOutOfRange        = errors.New("out of range")
	ErrUnavailable       = errors.New("unavailable")
	ErrCancelled         = errors.New("cancelled")
	ErrInternal          = errors.New("internal error")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrAborted           = errors.New("aborted")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
	ErrUnimplemented     = errors.New("unimplemented")
	ErrUnknown           = errors.New("unknown error")
)

// StatusClientClosedRequest is the non-standard code some servers use when
// the client went away.
const StatusClientClosedRequest = 499

// StatusError reports a non-success HTTP status code.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ConvertHTTPCodeToError maps an HTTP status code to an error category.
// Every 2xx code maps to nil.
func ConvertHTTPCodeToError(code int) error {
	if code >= 200 && code < 300 {
		return nil
	}

	var category error
	switch code {
	case nethttp.StatusBadRequest:
		category = ErrInvalidArgument
	case nethttp.StatusUnauthorized:
		category = ErrUnauthenticated
	case nethttp.StatusForbidden:
		category = ErrPermissionDenied
	case nethttp.StatusNotFound:
		category = ErrNotFound
	case nethttp.StatusConflict:
		category = ErrAborted
	case nethttp.StatusRequestedRangeNotSatisfiable:
		category = ErrOutOfRange
	case nethttp.StatusTooManyRequests:
		category = ErrResourceExhausted
	case StatusClientClosedRequest:
		category = ErrCancelled
	case nethttp.StatusNotImplemented:
		category = ErrUnimplemented
	case nethttp.StatusServiceUnavailable:
		category = ErrUnavailable
	case nethttp.StatusGatewayTimeout:
		category = ErrDeadlineExceeded
	default:
		if code >= 500 && code < 600 {
			category = ErrInternal
		} else {
			category = ErrUnknown
		}
	}

	return &StatusError{Code: code, Err: category}
}
