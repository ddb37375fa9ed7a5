package executor

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeValidation       ErrorCode = "ERROR_CODE_VALIDATION"
	CodeResourceNotFound ErrorCode = "ERROR_CODE_RESOURCE_NOT_FOUND"
	CodeUnauthenticated  ErrorCode = "ERROR_CODE_UNAUTHENTICATED"
	CodeForbidden        ErrorCode = "ERROR_CODE_FORBIDDEN"
	CodeServerError      ErrorCode = "ERROR_CODE_SERVER_ERROR"
	CodeOther            ErrorCode = "ERROR_CODE_OTHER"
)

// Status is the HTTP status an error code maps to.
func (c ErrorCode) Status() int {
	switch c {
	case CodeValidation, CodeOther:
		return http.StatusBadRequest
	case CodeResourceNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Error is a business error raised deliberately while handling a request.
// Data carries the validation error tree for CodeValidation.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func errNotFound(what string) *Error {
	return NewError(CodeResourceNotFound, what+" not found")
}

// HookError is raised by a hook to answer the request with its own status,
// code and message.
type HookError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook error %d %s: %s", e.Status, e.Code, e.Message)
}

// ErrorResponse maps any error to the response sent to the client. The second
// result reports whether err was unexpected.
func ErrorResponse(err error) (*Response, bool) {
	var herr *HookError
	if errors.As(err, &herr) {
		status := herr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return &Response{Status: status, Body: herr}, false
	}
	var e *Error
	if errors.As(err, &e) {
		return &Response{Status: e.Code.Status(), Body: e}, false
	}
	if msg := constraintMessage(err); msg != "" {
		return &Response{Status: http.StatusBadRequest, Body: NewError(CodeOther, msg)}, false
	}
	return &Response{Status: http.StatusInternalServerError, Body: NewError(CodeServerError, "internal server error")}, true
}

// constraintMessage is the client message for a store constraint violation,
// or "" when err is none. Store messages name tables and columns and are only
// logged.
func constraintMessage(err error) string {
	switch {
	case errors.Is(err, ErrUniqueViolation):
		return "conflicts with an existing record"
	case errors.Is(err, ErrForeignKeyViolation):
		return "violates a record reference"
	case errors.Is(err, ErrNotNullViolation):
		return "missing a required value"
	}
	return ""
}
