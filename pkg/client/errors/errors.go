package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTemporary = errors.New("temporary error")
	ErrPermanent = errors.New("permanent error")

	ErrUnreachable = errors.New("unreachable code")

	ErrRequestCreation     = errors.New("request creation error")
	ErrBodyMarshalConflict = errors.New("body and marshal body conflict")
	ErrUnsupportedMethod   = errors.New("unsupported http method")

	ErrNetwork   = errors.New("network error")
	ErrTimeout   = errors.New("timeout error")
	ErrBadStatus = errors.New("bad status code")

	ErrSingleFlight      = errors.New("single flight error")
	ErrRetryFailed       = errors.New("retry failed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidTransport  = errors.New("invalid transport")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrCircuitExhausted  = errors.New("circuit breaker is exhausted")
)

// StatusError is returned alongside a response whose status is not 2xx.
// It matches ErrBadStatus with errors.Is.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrBadStatus, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrBadStatus
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary returns true if the error is considered temporary and can be retried.
func IsTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrBadStatus) || errors.Is(err, ErrTemporary)
}

// Is reports whether any error in err's chain is an instance of target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
