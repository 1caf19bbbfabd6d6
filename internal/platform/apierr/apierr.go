package apierr

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/yungbote/questline-backend/internal/pkg/errors"
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

func BadRequest(code string, format string, args ...any) *Error {
	return New(http.StatusBadRequest, code, fmt.Errorf("%w: "+format, append([]any{apperrors.ErrInvalidArgument}, args...)...))
}

func NotFound(code string, format string, args ...any) *Error {
	return New(http.StatusNotFound, code, fmt.Errorf("%w: "+format, append([]any{apperrors.ErrNotFound}, args...)...))
}

func Conflict(code string, format string, args ...any) *Error {
	return New(http.StatusConflict, code, fmt.Errorf("%w: "+format, append([]any{apperrors.ErrConflict}, args...)...))
}

func Forbidden(code string, format string, args ...any) *Error {
	return New(http.StatusForbidden, code, fmt.Errorf("%w: "+format, append([]any{apperrors.ErrForbidden}, args...)...))
}

// From resolves the status and code for any error. Typed errors win, then the
// shared sentinels, then a generic 500.
func From(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status, ae.Code
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
