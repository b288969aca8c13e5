package proxy

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	clientErrors "github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
)

var ErrInvalidTransport = clientErrors.ErrInvalidTransport

// ProxyMiddleware rotates outgoing requests across a list of proxies.
// Requests to hosts in the skip list go out directly.
type ProxyMiddleware struct {
	proxies   atomic.Value
	current   atomic.Uint64
	skipHosts map[string]struct{}
	logger    logger.Logger
}

type proxyState struct {
	proxies []*url.URL
}

// New creates a new ProxyMiddleware instance.
func New(proxies []*url.URL, skipHosts ...string) *ProxyMiddleware {
	m := &ProxyMiddleware{
		proxies:   atomic.Value{},
		current:   atomic.Uint64{},
		skipHosts: make(map[string]struct{}, len(skipHosts)),
		logger:    &logger.NoOpLogger{},
	}
	for _, h := range skipHosts {
		m.skipHosts[strings.ToLower(h)] = struct{}{}
	}
	m.proxies.Store(&proxyState{proxies: proxies})
	return m
}

// Process applies proxy logic before passing the request to the next middleware.
func (m *ProxyMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	if _, ok := m.skipHosts[strings.ToLower(req.URL.Hostname())]; ok {
		m.logger.Debug("Skipping proxy for this request")
		return next(ctx, httpClient, req)
	}

	m.logger.Debug("Processing request with proxy middleware")

	state := m.proxies.Load().(*proxyState)
	proxyLen := len(state.proxies)

	if proxyLen > 0 {
		current := m.current.Add(1) - 1
		index := int(current % uint64(proxyLen)) // #nosec G115
		proxy := state.proxies[index]

		m.logger.WithFields(logger.String("proxy", proxy.Host)).Debug("Using Proxy")

		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		transport, ok := base.(*http.Transport)
		if !ok {
			return nil, ErrInvalidTransport
		}
		transport = transport.Clone()
		transport.Proxy = http.ProxyURL(proxy)
		transport.OnProxyConnectResponse = func(ctx context.Context, proxyURL *url.URL, connectReq *http.Request, connectRes *http.Response) error {
			m.logger.WithFields(logger.String("proxy", proxyURL.Host)).Debug("Proxy connection established")
			return nil
		}

		// Shallow copy the client to avoid modifying the original because
		// it's shared across requests and is unsafe for concurrent use
		httpClient = &http.Client{
			Transport:     transport,
			CheckRedirect: httpClient.CheckRedirect,
			Jar:           httpClient.Jar,
			Timeout:       httpClient.Timeout,
		}
	}

	return next(ctx, httpClient, req)
}

// UpdateProxies updates the list of proxies at runtime.
func (m *ProxyMiddleware) UpdateProxies(newProxies []*url.URL) {
	newState := &proxyState{proxies: newProxies}
	m.proxies.Store(newState)
	m.current.Store(0)

	m.logger.WithFields(logger.Int("proxy_count", len(newProxies))).Debug("Proxies updated")
}

// GetProxyCount returns the current number of proxies in the list.
func (m *ProxyMiddleware) GetProxyCount() int {
	state := m.proxies.Load().(*proxyState)
	return len(state.proxies)
}

// SetLogger sets the logger for the middleware.
func (m *ProxyMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
