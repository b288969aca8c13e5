package circuitbreaker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
	"github.com/sony/gobreaker"
)

// CircuitBreakerMiddleware implements the circuit breaker pattern to prevent
// cascading failures. Each target host gets its own breaker, so one
// unreachable endpoint does not block tests against the others.
type CircuitBreakerMiddleware struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	breakers    sync.Map // host -> *gobreaker.CircuitBreaker
	logger      logger.Logger
}

// New creates a new CircuitBreakerMiddleware instance.
func New(maxRequests uint32, interval, timeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		maxRequests: maxRequests,
		interval:    interval,
		timeout:     timeout,
		logger:      &logger.NoOpLogger{},
	}
}

// Process applies the circuit breaker before passing the request to the next middleware.
func (m *CircuitBreakerMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	m.logger.Debug("Processing request with circuit breaker middleware")

	breaker := m.breaker(req.URL.Host)

	// Execute the request with the circuit breaker
	result, err := breaker.Execute(func() (interface{}, error) {
		return next(ctx, httpClient, req)
	})

	resp, _ := result.(*http.Response)
	if err != nil {
		switch err {
		case gobreaker.ErrOpenState:
			return nil, fmt.Errorf("%w: %w", errors.ErrCircuitOpen, err)
		case gobreaker.ErrTooManyRequests:
			return nil, fmt.Errorf("%w: %w", errors.ErrCircuitExhausted, err)
		default:
			return resp, err
		}
	}

	if resp == nil {
		return nil, errors.ErrUnreachable
	}

	return resp, nil
}

// State reports the breaker state for host. Hosts never seen are closed.
func (m *CircuitBreakerMiddleware) State(host string) gobreaker.State {
	if b, ok := m.breakers.Load(host); ok {
		return b.(*gobreaker.CircuitBreaker).State()
	}
	return gobreaker.StateClosed
}

func (m *CircuitBreakerMiddleware) breaker(host string) *gobreaker.CircuitBreaker {
	if b, ok := m.breakers.Load(host); ok {
		return b.(*gobreaker.CircuitBreaker)
	}

	b, _ := m.breakers.LoadOrStore(host, gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: m.maxRequests,
		Interval:    m.interval,
		Timeout:     m.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.WithFields(
				logger.String("host", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			).Warn("Circuit breaker state changed")
		},
		IsSuccessful: isSuccessful,
	}))
	return b.(*gobreaker.CircuitBreaker)
}

// isSuccessful counts a reachable host answering with a client error as healthy.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *errors.StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Temporary()
	}
	return false
}

// SetLogger sets the logger for the middleware.
func (m *CircuitBreakerMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
