// Package domain defines the error taxonomy shared by the reservation
// engine's components: validation, conflict and not-found errors are
// rejected synchronously and carry the HTTP status the API layer should
// answer with.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed engine error.
type Error struct {
	Status  int    // HTTP status equivalent
	Code    string // stable machine-readable code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Validationf builds a validation error (bad input, never persisted).
func Validationf(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "VALIDATION", Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error (slot overlap, illegal transition).
func Conflictf(format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds an authorization error for ownership checks.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusConflict
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// HTTPStatus maps any error to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
