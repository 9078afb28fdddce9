package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures so callers never branch on
// transport-library error types.
type ErrorKind string

const (
	// KindValidation is a local precondition failure; nothing was sent.
	KindValidation ErrorKind = "validation"
	// KindTransport is a connectivity failure with no server response.
	KindTransport ErrorKind = "transport"
	// KindServer is a non-2xx response with or without a structured body.
	KindServer ErrorKind = "server"
	// KindRateLimited is the server's quota-exhausted response. Callers
	// must surface a distinct "try again later" message and not retry
	// automatically.
	KindRateLimited ErrorKind = "rate_limited"
)

// Error is the one error shape every gateway operation returns.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf returns the error's kind, or "" for non-gateway errors.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

func validationErr(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}
