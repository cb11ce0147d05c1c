package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(code string, format string, args ...any) *Error {
	return New(http.StatusNotFound, code, fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...)))
}

func Conflict(code string, format string, args ...any) *Error {
	return New(http.StatusConflict, code, fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...)))
}

func Invalid(code string, format string, args ...any) *Error {
	return New(http.StatusBadRequest, code, fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...)))
}

// StatusOf maps err onto an HTTP status, preferring an explicit *Error and falling
// back to the sentinels.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the *Error code in err's chain, or def.
func CodeOf(err error, def string) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return def
}
