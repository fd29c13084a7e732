package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is across layers.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")
	ErrServiceUnavail = errors.New("service unavailable")
)

// Error codes carried in the response envelope.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeForbidden          = "FORBIDDEN"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is an error with a client-facing code, message and HTTP status.
// Fields carries per-field messages for validation failures.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing resource by id.
func NotFound(resource, id string) *AppError {
	return NotFoundMessage(fmt.Sprintf("%s with id %s not found", resource, id))
}

// NotFoundMessage is a 404 with a free-form message.
func NotFoundMessage(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound, Err: ErrNotFound}
}

// Forbidden is a 403, used when the caller does not own the product.
func Forbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message, Status: http.StatusForbidden, Err: ErrForbidden}
}

// ValidationFailed is a 400 carrying one message per offending field.
func ValidationFailed(fields map[string]string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: "request validation failed",
		Fields:  fields,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// ServiceUnavailable is a 503 wrapping the upstream cause, if any.
func ServiceUnavailable(message string, cause error) *AppError {
	err := ErrServiceUnavail
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrServiceUnavail, cause)
	}
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable, Err: err}
}

// From returns err as an *AppError. Bare sentinels get their standard code
// and status; anything else becomes an opaque 500 that keeps err as cause.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return &AppError{Code: CodeNotFound, Message: "resource not found", Status: http.StatusNotFound, Err: err}
	case errors.Is(err, ErrInvalidInput):
		return &AppError{Code: CodeInvalidInput, Message: err.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrForbidden):
		return &AppError{Code: CodeForbidden, Message: "forbidden", Status: http.StatusForbidden, Err: err}
	case errors.Is(err, ErrServiceUnavail):
		return &AppError{
			Code:    CodeServiceUnavailable,
			Message: "service temporarily unavailable",
			Status:  http.StatusServiceUnavailable,
			Err:     err,
		}
	default:
		return &AppError{Code: CodeInternal, Message: "an internal error occurred", Status: http.StatusInternalServerError, Err: err}
	}
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	return From(err).Status
}
