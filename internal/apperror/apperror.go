package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Validation Kind = "validation"
	Signature  Kind = "signature"
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Gateway    Kind = "gateway"
	Transport  Kind = "transport"
	Forbidden  Kind = "forbidden"
	Internal   Kind = "internal"
)

// Error is the error type crossing the service boundary. ProviderCode is only
// set for Gateway errors, where it carries the provider's result code.
type Error struct {
	Kind         Kind
	Message      string
	ProviderCode string
	Details      any
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below can be used
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Validation, Signature:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Gateway:
		return http.StatusBadGateway
	case Transport:
		return http.StatusServiceUnavailable
	case Forbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Rejected builds a Gateway error for a non-zero provider result code.
func Rejected(code, message string, raw any) *Error {
	return &Error{Kind: Gateway, Message: message, ProviderCode: code, Details: raw}
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: Validation}
	ErrSignature  = &Error{Kind: Signature}
	ErrNotFound   = &Error{Kind: NotFound}
	ErrConflict   = &Error{Kind: Conflict}
	ErrGateway    = &Error{Kind: Gateway}
	ErrTransport  = &Error{Kind: Transport}
	ErrForbidden  = &Error{Kind: Forbidden}
)

// As extracts an *Error, falling back to an Internal one for foreign errors.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal error", err)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
