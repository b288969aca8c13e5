// Package client sends HTTP requests through a chain of middleware.
package client

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
)

// Client manages HTTP requests with various middleware options.
type Client struct {
	middlewareChain *middleware.Chain
	httpClient      *http.Client
	marshalFunc     MarshalFunc
	unmarshalFunc   UnmarshalFunc
}

// NewClient creates a new Client instance with default settings.
func NewClient(opts ...Option) *Client {
	client := &Client{
		middlewareChain: middleware.NewChain(&logger.NoOpLogger{}),
		httpClient: &http.Client{
			Transport:     http.DefaultTransport,
			CheckRedirect: nil,
			Jar:           nil,
			Timeout:       0,
		},
		marshalFunc:   sonic.Marshal,
		unmarshalFunc: sonic.Unmarshal,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do performs an HTTP request with the specified options.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.middlewareChain.Process(ctx, c.httpClient, req)
}

// Middlewares returns the configured middleware in execution order.
func (c *Client) Middlewares() []middleware.Middleware {
	return c.middlewareChain.Middlewares()
}
