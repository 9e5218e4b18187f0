package inference

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/sasya/pkg/domain"
)

// TransientError is a failure that may succeed on retry (network, 429, 5xx).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a failure that retrying cannot fix (bad request, auth, malformed reply).
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError marks err as permanent.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// unavailable wraps the final error of a call so callers can match
// domain.ErrDependencyUnavailable while keeping the transient/fatal class.
func unavailable(service string, err error) error {
	return fmt.Errorf("%s: %w: %w", service, domain.ErrDependencyUnavailable, err)
}

// classifyStatus maps a non-2xx response to a transient or fatal error.
func classifyStatus(status int, body []byte) error {
	text := string(body)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	err := fmt.Errorf("status %d: %s", status, text)
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
