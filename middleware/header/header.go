package header

import (
	"context"
	"net/http"

	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
)

// HeaderMiddleware adds headers to HTTP requests.
type HeaderMiddleware struct {
	headers  http.Header
	defaults bool
	logger   logger.Logger
}

// NewHeaderMiddleware creates a HeaderMiddleware that appends headers to
// every request.
func NewHeaderMiddleware(headers http.Header) *HeaderMiddleware {
	return &HeaderMiddleware{
		headers: headers,
		logger:  &logger.NoOpLogger{},
	}
}

// NewDefaultsMiddleware creates a HeaderMiddleware that only sets headers the
// request does not carry already. A connection's own headers always win.
func NewDefaultsMiddleware(headers http.Header) *HeaderMiddleware {
	m := NewHeaderMiddleware(headers)
	m.defaults = true
	return m
}

// Process applies headers to the request before passing it to the next middleware.
func (m *HeaderMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	for key, values := range m.headers {
		if m.defaults && req.Header.Get(key) != "" {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return next(ctx, httpClient, req)
}

// SetLogger sets the logger for the middleware.
func (m *HeaderMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
