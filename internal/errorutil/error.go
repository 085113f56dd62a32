package errorutil

import (
	"errors"
	"net/http"

	"github.com/Brownie44l1/grain-api/internal/classify"
)

// Kind classifies request-scoped failures.
type Kind string

const (
	KindInput         Kind = "input"
	KindNormalization Kind = "normalization"
	KindRateLimited   Kind = "rate_limited"
	KindInternal      Kind = "internal"
)

// Error carries the HTTP status and caller-facing message for a failed
// request. Details holds the underlying cause for diagnosis.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code int, message string, err error) *Error {
	e := &Error{Kind: kind, Code: code, Message: message, Err: err}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// Input reports a malformed request; the core never ran.
func Input(message string, err error) *Error {
	return newError(KindInput, http.StatusBadRequest, message, err)
}

// Normalization reports model output that did not fit the class catalog.
func Normalization(err error) *Error {
	return newError(KindNormalization, http.StatusInternalServerError, "model output could not be normalized", err)
}

func RateLimited() *Error {
	return newError(KindRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
}

func Internal(message string, err error) *Error {
	return newError(KindInternal, http.StatusInternalServerError, message, err)
}

// Wrap converts any error into an *Error, keeping ones that already are.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var nerr *classify.NormalizationError
	if errors.As(err, &nerr) {
		return Normalization(err)
	}

	return Internal("internal server error", err)
}
