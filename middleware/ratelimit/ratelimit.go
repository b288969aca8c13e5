package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	clientErrors "github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when a request cannot get a token before
// its context ends.
var ErrRateLimitExceeded = clientErrors.ErrRateLimitExceeded

// RateLimiterMiddleware limits the request rate towards each target host.
type RateLimiterMiddleware struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map // host -> *rate.Limiter
	logger   logger.Logger
}

// New creates a new RateLimiterMiddleware instance.
func New(requestsPerSecond float64, burst int) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		limit:  rate.Limit(requestsPerSecond),
		burst:  burst,
		logger: &logger.NoOpLogger{},
	}
}

// Process applies rate limiting before passing the request to the next middleware.
func (m *RateLimiterMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	m.logger.Debug("Processing request with rate limiter middleware")

	// Wait for rate limiter permission
	if err := m.limiter(req.URL.Host).Wait(ctx); err != nil {
		m.logger.WithFields(logger.String("host", req.URL.Host), logger.Err(err)).Warn("Rate limit exceeded")
		return nil, fmt.Errorf("%w: %w", ErrRateLimitExceeded, err)
	}

	// Execute the next middleware in the chain
	return next(ctx, httpClient, req)
}

func (m *RateLimiterMiddleware) limiter(host string) *rate.Limiter {
	if l, ok := m.limiters.Load(host); ok {
		return l.(*rate.Limiter)
	}
	l, _ := m.limiters.LoadOrStore(host, rate.NewLimiter(m.limit, m.burst))
	return l.(*rate.Limiter)
}

// SetLogger sets the logger for the middleware.
func (m *RateLimiterMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
