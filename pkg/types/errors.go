package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure that callers can act on.
type ErrorCode string

const (
	ErrOperatorNotFound     ErrorCode = "OPERATOR_NOT_FOUND"
	ErrOperatorConflict     ErrorCode = "OPERATOR_CONFLICT"
	ErrKBConfigError        ErrorCode = "KB_CONFIG_ERROR"
	ErrKBNotFound           ErrorCode = "KB_NOT_FOUND"
	ErrDocNotFound          ErrorCode = "DOC_NOT_FOUND"
	ErrKBNotInScope         ErrorCode = "KB_NOT_IN_SCOPE"
	ErrNoPermission         ErrorCode = "NO_PERMISSION"
	ErrValidation           ErrorCode = "VALIDATION_ERROR"
	ErrEmbeddingDimMismatch ErrorCode = "EMBEDDING_DIM_MISMATCH"
	ErrIndexingFailed       ErrorCode = "INDEXING_FAILED"
	ErrProviderTransient    ErrorCode = "PROVIDER_TRANSIENT"
	ErrTenantDisabled       ErrorCode = "TENANT_DISABLED"
	ErrInternal             ErrorCode = "INTERNAL_ERROR"
)

// Error is the coded error propagated out of the retrieval core.
// Detail is safe to surface to callers; Err keeps the underlying cause
// for logs and errors.Is/As chains.
type Error struct {
	Code   ErrorCode
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a coded error with a formatted detail message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and detail to an underlying error.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for
// uncoded errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// HTTPStatus maps an error code to the status the collaborator layer
// should return. The core never writes HTTP itself.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrOperatorNotFound, ErrOperatorConflict, ErrKBConfigError, ErrValidation:
		return http.StatusBadRequest
	case ErrKBNotFound, ErrDocNotFound:
		return http.StatusNotFound
	case ErrKBNotInScope, ErrNoPermission, ErrTenantDisabled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
