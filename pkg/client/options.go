package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
	"github.com/jaxron/conndef/pkg/params"
)

// MarshalFunc is a function type that matches standard marshal functions.
type MarshalFunc func(interface{}) ([]byte, error)

// UnmarshalFunc is a function type that matches standard unmarshal functions.
type UnmarshalFunc func([]byte, interface{}) error

// Option is a function type that modifies the Client configuration.
type Option func(*Client)

// WithMiddleware appends middleware to the Client. Middleware runs in the
// order it was added; adding a second middleware of the same type replaces
// the first one in place.
func WithMiddleware(middlewares ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewareChain.Then(middlewares...)
	}
}

// WithTimeout sets the timeout for the Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithTransport sets the round tripper used for outgoing requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithLogger sets the logger for the Client and its middleware.
func WithLogger(logger logger.Logger) Option {
	return func(c *Client) {
		c.middlewareChain.SetLogger(logger)
	}
}

// WithMaxBodyBytes caps how much of any response body the Client reads,
// middleware included.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		c.middlewareChain.SetMaxBodyBytes(n)
	}
}

// WithMarshalFunc sets the marshal function for the Client.
func WithMarshalFunc(fn MarshalFunc) Option {
	return func(c *Client) {
		c.marshalFunc = fn
	}
}

// WithUnmarshalFunc sets the unmarshal function for the Client.
func WithUnmarshalFunc(fn UnmarshalFunc) Option {
	return func(c *Client) {
		c.unmarshalFunc = fn
	}
}

// Request helps build requests using method chaining.
type Request struct {
	client        *Client
	marshalFunc   MarshalFunc
	unmarshalFunc UnmarshalFunc
	result        interface{}
	method        string
	url           string
	body          []byte
	marshalBody   interface{}
	form          Query
	multipart     Query
	contentType   string
	header        http.Header
	query         Query
	timeout       time.Duration
	maxBodyBytes  int64
}

// NewRequest creates a new Request with default options.
func (c *Client) NewRequest() *Request {
	return &Request{
		client:        c,
		marshalFunc:   c.marshalFunc,
		unmarshalFunc: c.unmarshalFunc,
		method:        http.MethodGet,
		header:        make(http.Header),
	}
}

// Method sets the HTTP method for the request.
func (rb *Request) Method(method string) *Request {
	rb.method = method
	return rb
}

// URL sets the URL for the request. Any query already present in url is
// kept and the pairs added with Query are appended after it.
func (rb *Request) URL(url string) *Request {
	rb.url = url
	return rb
}

// MarshalWith sets the marshal function for the request body.
func (rb *Request) MarshalWith(fn MarshalFunc) *Request {
	rb.marshalFunc = fn
	return rb
}

// UnmarshalWith sets the unmarshal function for the response.
func (rb *Request) UnmarshalWith(fn UnmarshalFunc) *Request {
	rb.unmarshalFunc = fn
	return rb
}

// Result sets the result to unmarshal the response into.
func (rb *Request) Result(result interface{}) *Request {
	rb.result = result
	return rb
}

// Body sets the body of the request.
func (rb *Request) Body(body []byte) *Request {
	rb.body = body
	return rb
}

// MarshalBody sets the body of the request after marshaling the provided struct.
func (rb *Request) MarshalBody(body interface{}) *Request {
	rb.marshalBody = body
	return rb
}

// FormBody sets an application/x-www-form-urlencoded body.
func (rb *Request) FormBody(form Query) *Request {
	rb.form = form
	return rb
}

// MultipartBody sets a multipart/form-data body made of plain fields.
func (rb *Request) MultipartBody(fields Query) *Request {
	rb.multipart = fields
	return rb
}

// ContentType overrides the Content-Type header derived from the body.
func (rb *Request) ContentType(contentType string) *Request {
	rb.contentType = contentType
	return rb
}

// Query adds a query parameter to the request.
func (rb *Request) Query(key, value string) *Request {
	rb.query.Add(key, value)
	return rb
}

// QueryPairs adds query pairs in order. Bare pairs are sent as the key alone.
func (rb *Request) QueryPairs(pairs ...params.Pair) *Request {
	rb.query.AddPairs(pairs...)
	return rb
}

// Header adds a header to the request.
func (rb *Request) Header(key, value string) *Request {
	rb.header.Add(key, value)
	return rb
}

// Timeout bounds this request only, on top of the client timeout.
func (rb *Request) Timeout(timeout time.Duration) *Request {
	rb.timeout = timeout
	return rb
}

// MaxBodyBytes caps how much of the response body is read. Zero means no cap.
func (rb *Request) MaxBodyBytes(n int64) *Request {
	rb.maxBodyBytes = n
	return rb
}

// Build returns the final http.Request for execution.
func (rb *Request) Build(ctx context.Context) (*http.Request, error) {
	bodyReader, contentType, err := rb.buildBody()
	if err != nil {
		return nil, err
	}

	// Create a new HTTP request
	req, err := http.NewRequestWithContext(ctx, rb.method, rb.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRequestCreation, err)
	}

	// Append the query parameters to whatever the URL already carried
	if encoded := rb.query.Encode(); encoded != "" {
		if req.URL.RawQuery != "" {
			req.URL.RawQuery += "&" + encoded
		} else {
			req.URL.RawQuery = encoded
		}
	}

	// Set the headers
	for key, values := range rb.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	if rb.contentType != "" {
		contentType = rb.contentType
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// buildBody renders whichever body was set. Setting more than one is an error.
func (rb *Request) buildBody() (io.Reader, string, error) {
	set := 0
	for _, ok := range []bool{rb.body != nil, rb.marshalBody != nil, rb.form != nil, rb.multipart != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, "", errors.ErrBodyMarshalConflict
	}

	switch {
	case rb.marshalBody != nil:
		marshaledBody, err := rb.marshalFunc(rb.marshalBody)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", errors.ErrRequestCreation, err)
		}
		return bytes.NewReader(marshaledBody), "application/json", nil

	case rb.body != nil:
		return bytes.NewReader(rb.body), "", nil

	case rb.form != nil:
		return strings.NewReader(rb.form.Encode()), "application/x-www-form-urlencoded", nil

	case rb.multipart != nil:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, p := range rb.multipart {
			if err := w.WriteField(p.Key, p.Value); err != nil {
				return nil, "", fmt.Errorf("%w: %w", errors.ErrRequestCreation, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("%w: %w", errors.ErrRequestCreation, err)
		}
		return &buf, w.FormDataContentType(), nil
	}

	return nil, "", nil
}

// Do executes the request and returns the raw http.Response.
func (rb *Request) Do(ctx context.Context) (*http.Response, error) {
	if rb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rb.timeout)
		defer cancel()

		// The body must be read before the deadline's cancel runs
		resp, err := rb.do(ctx)
		if resp != nil && resp.Body != nil {
			body, readErr := io.ReadAll(rb.limit(resp.Body))
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(body))
			if readErr != nil && err == nil {
				err = readErr
			}
		}
		return resp, err
	}

	resp, err := rb.do(ctx)
	if resp != nil && resp.Body != nil && rb.maxBodyBytes > 0 {
		resp.Body = limitedBody{Reader: rb.limit(resp.Body), Closer: resp.Body}
	}
	return resp, err
}

// limitedBody reads through a limit and closes the underlying body.
type limitedBody struct {
	io.Reader
	io.Closer
}

func (rb *Request) limit(r io.Reader) io.Reader {
	if rb.maxBodyBytes <= 0 {
		return r
	}
	return io.LimitReader(r, rb.maxBodyBytes)
}

func (rb *Request) do(ctx context.Context) (*http.Response, error) {
	// Build the request
	req, err := rb.Build(ctx)
	if err != nil {
		return nil, err
	}

	// Execute the request
	resp, err := rb.client.Do(ctx, req)
	if err != nil {
		return resp, err
	}

	// If a result is set, unmarshal the response
	if rb.result != nil {
		body, err := io.ReadAll(rb.limit(resp.Body))
		if err != nil {
			return resp, err
		}

		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewBuffer(body))

		if err = rb.unmarshalFunc(body, rb.result); err != nil {
			return resp, err
		}
	}

	return resp, nil
}
