// Package tester sends the request a connection definition describes and
// reports what came back.
package tester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jaxron/conndef/middleware/circuitbreaker"
	"github.com/jaxron/conndef/middleware/header"
	"github.com/jaxron/conndef/middleware/proxy"
	"github.com/jaxron/conndef/middleware/ratelimit"
	"github.com/jaxron/conndef/middleware/retry"
	"github.com/jaxron/conndef/middleware/singleflight"
	"github.com/jaxron/conndef/pkg/client"
	"github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
	"github.com/jaxron/conndef/pkg/connection"
	"github.com/jaxron/conndef/pkg/params"
)

// FailureCode is reported as the status of a request that got no response.
const FailureCode = "500"

// Config tunes the outgoing client. Zero values disable the matching
// middleware.
type Config struct {
	DefaultTimeout time.Duration   `mapstructure:"defaultTimeout"`
	MaxBodyBytes   int64           `mapstructure:"maxBodyBytes"`
	UserAgent      string          `mapstructure:"userAgent"`
	Dedupe         bool            `mapstructure:"dedupe"`
	Retry          RetryConfig     `mapstructure:"retry"`
	Breaker        BreakerConfig   `mapstructure:"breaker"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
	Proxies        []string        `mapstructure:"proxies"`
	NoProxy        []string        `mapstructure:"noProxy"`
}

type RetryConfig struct {
	MaxAttempts     uint64        `mapstructure:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
}

type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"maxRequests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 60 * time.Second,
		MaxBodyBytes:   1 << 20,
		UserAgent:      "conndef/1.0",
	}
}

// Middlewares builds the middleware chain described by cfg, outermost first.
func (cfg Config) Middlewares() ([]middleware.Middleware, error) {
	var mws []middleware.Middleware

	if cfg.UserAgent != "" {
		mws = append(mws, header.NewDefaultsMiddleware(http.Header{"User-Agent": []string{cfg.UserAgent}}))
	}
	if cfg.Dedupe {
		mws = append(mws, singleflight.New())
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, ratelimit.New(cfg.RateLimit.RequestsPerSecond, burst))
	}
	if cfg.Breaker.MaxRequests > 0 {
		mws = append(mws, circuitbreaker.New(cfg.Breaker.MaxRequests, cfg.Breaker.Interval, cfg.Breaker.Timeout))
	}
	if cfg.Retry.MaxAttempts > 0 {
		mws = append(mws, retry.New(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval, cfg.Retry.MaxInterval).IdempotentOnly())
	}
	if len(cfg.Proxies) > 0 {
		proxies := make([]*url.URL, 0, len(cfg.Proxies))
		for _, raw := range cfg.Proxies {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
			}
			proxies = append(proxies, u)
		}
		mws = append(mws, proxy.New(proxies, cfg.NoProxy...))
	}
	return mws, nil
}

// Cookie is a cookie set by the tested endpoint.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires"`
	MaxAge   int       `json:"maxAge,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
}

// Result is the outcome of one test request.
type Result struct {
	// HTTPCode is the response status, or FailureCode when no response arrived.
	HTTPCode string `json:"httpCode"`
	// Response is the decoded JSON body when the body is a JSON object or
	// array, the body text otherwise, or the failure message.
	Response        any         `json:"response"`
	ResponseHeaders http.Header `json:"responseHeaders,omitempty"`
	ResponseCookies []Cookie    `json:"responseCookies,omitempty"`
	CostTime        int64       `json:"costTime"`

	failed bool
}

// Failed reports whether the request got no response at all.
func (r *Result) Failed() bool {
	return r.failed
}

// Tester executes connection definitions.
type Tester struct {
	client *client.Client
	cfg    Config
	logger logger.Logger
}

// New creates a Tester. Extra options are applied after the ones derived
// from cfg.
func New(cfg Config, l logger.Logger, opts ...client.Option) (*Tester, error) {
	if l == nil {
		l = &logger.NoOpLogger{}
	}
	mws, err := cfg.Middlewares()
	if err != nil {
		return nil, err
	}

	all := []client.Option{client.WithLogger(l), client.WithMaxBodyBytes(cfg.MaxBodyBytes), client.WithMiddleware(mws...)}
	return &Tester{
		client: client.NewClient(append(all, opts...)...),
		cfg:    cfg,
		logger: l,
	}, nil
}

// Test sends the request described by def. A request that fails on the way
// still produces a Result, with HTTPCode FailureCode; an error is returned
// only when def cannot be turned into a request.
func (t *Tester) Test(ctx context.Context, def *connection.Definition) (*Result, error) {
	rb, err := t.request(def)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := rb.Do(ctx)
	cost := time.Since(start)

	log := t.logger.WithFields(
		logger.String("url", def.URL),
		logger.String("method", string(def.HTTPMethod)),
		logger.Int64("cost_ms", cost.Milliseconds()),
	)

	if resp == nil {
		if err == nil {
			err = errors.ErrUnreachable
		}
		log.WithFields(logger.Err(err)).Error("Connection test failed")
		return &Result{HTTPCode: FailureCode, Response: err.Error(), CostTime: cost.Milliseconds(), failed: true}, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		log.WithFields(logger.Err(readErr)).Warn("Reading test response failed")
	}

	result := &Result{
		HTTPCode:        strconv.Itoa(resp.StatusCode),
		Response:        DecodeBody(body),
		ResponseHeaders: resp.Header,
		ResponseCookies: cookies(resp),
		CostTime:        cost.Milliseconds(),
	}
	log.WithFields(logger.Int("status", resp.StatusCode), logger.Int("body_bytes", len(body))).Info("Connection tested")
	return result, nil
}

// request turns def into a request builder.
func (t *Tester) request(def *connection.Definition) (*client.Request, error) {
	method := def.HTTPMethod
	if method == "" {
		method = connection.MethodGet
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedMethod, method)
	}

	// The saved URL holds the composed query unencoded, so it is split
	// and the pairs are encoded again.
	u := params.ParseURL(def.URL)
	rb := t.client.NewRequest().Method(string(method)).URL(u.Base)

	if len(u.Params) > 0 {
		rb.QueryPairs(u.Params...)
	} else {
		for _, p := range def.HTTPParams {
			rb.Query(p.Prop, p.Value)
		}
	}

	for _, h := range def.HTTPHeader {
		if h.Key != "" {
			rb.Header(h.Key, h.Value)
		}
	}

	switch def.HTTPContentType {
	case connection.ContentTypeRaw:
		if def.HTTPBody != nil {
			rb.MarshalBody(def.HTTPBody)
		}
	case connection.ContentTypeFormURLEncoded:
		rb.FormBody(formFields(def.FormParams))
	case connection.ContentTypeFormData:
		rb.MultipartBody(formFields(def.FormParams))
	}

	timeout := t.cfg.DefaultTimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Second
	}
	return rb.Timeout(timeout).MaxBodyBytes(t.cfg.MaxBodyBytes), nil
}

func formFields(pairs []params.Pair) client.Query {
	q := client.Query{}
	for _, p := range pairs {
		q.Add(p.Key, p.Value)
	}
	return q
}

func cookies(resp *http.Response) []Cookie {
	raw := resp.Cookies()
	if len(raw) == 0 {
		return nil
	}
	out := make([]Cookie, len(raw))
	for i, c := range raw {
		out[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			MaxAge:   c.MaxAge,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
	return out
}

// DecodeBody returns the JSON value of body when it holds an object or an
// array, and the body text otherwise.
func DecodeBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return string(body)
	}
	var v any
	if err := sonic.Unmarshal(trimmed, &v); err != nil {
		return string(body)
	}
	return v
}
