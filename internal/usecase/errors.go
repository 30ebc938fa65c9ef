package usecase

import (
	"errors"
	"fmt"

	"booking-inbox/internal/integrations/paramstore"
)

type ErrorCode string

const (
	ErrorConversationClosed  ErrorCode = "CONVERSATION_CLOSED"
	ErrorNotFound            ErrorCode = "NOT_FOUND"
	ErrorUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorMisconfigured       ErrorCode = "MISCONFIGURED"
	ErrorInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a usecase error, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// transportError classifies a failed send.
func transportError(reason string, err error) *Error {
	if errors.Is(err, paramstore.ErrNotConfigured) {
		return newError(ErrorMisconfigured, reason, err)
	}
	return newError(ErrorUpstreamUnavailable, reason, err)
}

// storeError classifies a failed record store call.
func storeError(reason string, err error) *Error {
	return newError(ErrorUpstreamUnavailable, reason, err)
}
