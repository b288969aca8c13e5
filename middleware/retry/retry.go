package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientErrors "github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
)

var ErrRetryFailed = errors.New("retry failed")

// RetryMiddleware implements retry logic for HTTP requests with exponential backoff.
type RetryMiddleware struct {
	maxAttempts     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	idempotentOnly  bool
	logger          logger.Logger
}

// New creates a new RetryMiddleware instance.
func New(maxAttempts uint64, initialInterval, maxInterval time.Duration) *RetryMiddleware {
	return &RetryMiddleware{
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		logger:          &logger.NoOpLogger{},
	}
}

// IdempotentOnly restricts retries to methods that are safe to repeat.
// POST and PATCH requests are then sent exactly once.
func (m *RetryMiddleware) IdempotentOnly() *RetryMiddleware {
	m.idempotentOnly = true
	return m
}

// Process applies retry logic before passing the request to the next middleware.
// When every attempt fails the last response, if any, is returned together
// with the error so callers can still report its status.
func (m *RetryMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	if m.idempotentOnly && !isIdempotent(req.Method) {
		return next(ctx, httpClient, req)
	}

	m.logger.Debug("Processing request with retry middleware")

	// Create an exponential backoff strategy with a maximum number of retries
	expBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(m.initialInterval),
		backoff.WithMaxInterval(m.maxInterval),
	), m.maxAttempts)
	backoffStrategy := backoff.WithContext(expBackoff, ctx)

	var resp *http.Response
	var err error
	attempt := 0

	// Retry the request using the backoff strategy
	retryErr := backoff.RetryNotify(
		func() error {
			attempt++
			if attempt > 1 {
				if resp != nil && resp.Body != nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
				if rewindErr := rewindBody(req); rewindErr != nil {
					return backoff.Permanent(rewindErr)
				}
			}

			resp, err = next(ctx, httpClient, req)
			return m.handleRetryError(err)
		},
		backoffStrategy,
		func(err error, duration time.Duration) {
			m.logger.WithFields(
				logger.Err(err),
				logger.Int("attempt", attempt),
				logger.Duration("retry_in", duration),
			).Warn("Retrying request")
		},
	)
	if retryErr != nil {
		return resp, fmt.Errorf("%w: %w", ErrRetryFailed, retryErr)
	}

	return resp, nil
}

// handleRetryError determines whether to retry the request based on the error type.
func (m *RetryMiddleware) handleRetryError(err error) error {
	if err != nil {
		if clientErrors.IsTemporary(err) {
			return err // This will trigger a retry for temporary errors
		}
		return backoff.Permanent(err) // This will stop retries for permanent errors
	}
	return nil // Success, stop retrying
}

// rewindBody restores a consumed request body before the next attempt.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// SetLogger sets the logger for the middleware.
func (m *RetryMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
