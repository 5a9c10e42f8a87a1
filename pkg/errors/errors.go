package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones compare equal to the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrUnavailable        = New("UNAVAILABLE", http.StatusServiceUnavailable, "service temporarily unavailable")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrInvalidSourceType  = New("INVALID_SOURCE_TYPE", http.StatusBadRequest, "source type is not allowed for source")
	ErrInvalidSourceRef   = New("INVALID_SOURCE_REF_FORMAT", http.StatusBadRequest, "source reference has an invalid format")
	ErrLimitReached       = New("LIMIT_REACHED", http.StatusTooManyRequests, "points limit reached")
	ErrInsufficientPoints = New("INSUFFICIENT_BALANCE", http.StatusConflict, "insufficient points balance")
	ErrWouldGoNegative    = New("WOULD_GO_NEGATIVE", http.StatusConflict, "reversal would make the balance negative")
	ErrAlreadyReversed    = New("ALREADY_REVERSED", http.StatusConflict, "transaction already reversed")
	ErrAccountNotFound    = New("ACCOUNT_NOT_FOUND", http.StatusNotFound, "points account not found")
)

var businessCodes = map[string]struct{}{
	ErrNotFound.Code:           {},
	ErrForbidden.Code:          {},
	ErrUnauthorized.Code:       {},
	ErrConflict.Code:           {},
	ErrValidation.Code:         {},
	ErrInvalidSourceType.Code:  {},
	ErrInvalidSourceRef.Code:   {},
	ErrLimitReached.Code:       {},
	ErrInsufficientPoints.Code: {},
	ErrWouldGoNegative.Code:    {},
	ErrAlreadyReversed.Code:    {},
	ErrAccountNotFound.Code:    {},
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	clone.Details = nil
	return &clone
}

// WithDetails returns a copy of err carrying the provided details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	clone.Details = details
	return clone
}

// IsBusiness reports whether err is a rejection decided by domain rules.
// Business rejections are final and must not be retried.
func IsBusiness(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return false
	}
	_, ok := businessCodes[e.Code]
	return ok
}
