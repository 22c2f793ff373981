package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidState:
		return http.StatusUnprocessableEntity
	case ErrIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrInvalidState
	ErrIntegration
)

// Domain errors. Wrap them with Wrapf to add detail; match with errors.Is.
var (
	ErrDoctorNotFound      = &AppError{Code: ErrNotFound, Message: "doctor not found"}
	ErrBranchNotFound      = &AppError{Code: ErrNotFound, Message: "branch not found"}
	ErrAssociationNotFound = &AppError{Code: ErrNotFound, Message: "association not found"}
	ErrTransferNotFound    = &AppError{Code: ErrNotFound, Message: "transfer not found"}

	ErrAlreadyAssociated = &AppError{Code: ErrConflict, Message: "already associated"}
	ErrPurgeIncomplete   = &AppError{Code: ErrConflict, Message: "branch still has associations"}

	ErrNotAssociated       = &AppError{Code: ErrInvalidState, Message: "not associated"}
	ErrCapacityExceeded    = &AppError{Code: ErrInvalidState, Message: "branch capacity exceeded"}
	ErrRollbackUnavailable = &AppError{Code: ErrInvalidState, Message: "rollback unavailable"}

	ErrBranchAccessDenied = &AppError{Code: ErrForbidden, Message: "branch access denied"}
	ErrUnauthenticated    = &AppError{Code: ErrUnauthorized, Message: "unauthorized"}

	ErrIntegrationFailure = &AppError{Code: ErrIntegration, Message: "integration error"}

	ErrInvalidRequest = &AppError{Code: ErrBadRequest, Message: "invalid request"}
)

// Wrapf attaches detail to a domain error while keeping it matchable with errors.Is.
func Wrapf(base *AppError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a domain error; both stay matchable with errors.Is.
func Wrap(base *AppError, cause error) error {
	return fmt.Errorf("%w: %w", base, cause)
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}
