package singleflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/cespare/xxhash"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/client/middleware"
	"golang.org/x/sync/singleflight"
)

var (
	ErrKeyGeneration = errors.New("failed to generate request key")
	ErrRequestFailed = errors.New("request failed")
)

// SingleFlightMiddleware implements the singleflight pattern to deduplicate concurrent identical requests.
// The response body is buffered once and every caller receives its own copy.
type SingleFlightMiddleware struct {
	sfGroup *singleflight.Group
	logger  logger.Logger
}

type sharedResponse struct {
	resp *http.Response
	body []byte
}

// New creates a new SingleFlightMiddleware instance.
func New() *SingleFlightMiddleware {
	return &SingleFlightMiddleware{
		sfGroup: &singleflight.Group{},
		logger:  &logger.NoOpLogger{},
	}
}

// Process applies the singleflight pattern before passing the request to the next middleware.
func (m *SingleFlightMiddleware) Process(ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc) (*http.Response, error) {
	m.logger.Debug("Processing request with singleflight middleware")

	// Generate a unique key for the request
	key, err := m.generateRequestKey(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	// Use singleflight to execute the request
	result, err, shared := m.sfGroup.Do(key, func() (interface{}, error) {
		resp, err := next(ctx, httpClient, req)
		if resp == nil {
			return nil, err
		}

		var body []byte
		if resp.Body != nil {
			var readErr error
			body, readErr = io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil && err == nil {
				err = readErr
			}
		}
		return &sharedResponse{resp: resp, body: body}, err
	})
	if shared {
		m.logger.WithFields(logger.String("key", key)).Debug("Shared in-flight response")
	}

	var resp *http.Response
	if sr, ok := result.(*sharedResponse); ok {
		resp = sr.copy()
	}
	if err != nil {
		return resp, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	return resp, nil
}

func (s *sharedResponse) copy() *http.Response {
	cp := *s.resp
	cp.Header = s.resp.Header.Clone()
	cp.Body = io.NopCloser(bytes.NewReader(s.body))
	return &cp
}

// generateRequestKey generates a unique key for the request based on the method, URL, headers, and body.
func (m *SingleFlightMiddleware) generateRequestKey(req *http.Request) (string, error) {
	h := xxhash.New()

	// Helper function to write to hash and check error
	writeHash := func(s string) error {
		_, err := io.WriteString(h, s)
		return err
	}

	// Hash method and URL
	if err := writeHash(req.Method + req.URL.String()); err != nil {
		return "", fmt.Errorf("failed to hash method and URL: %w", err)
	}

	// Hash every header, Authorization included, in a stable order
	keys := make([]string, 0, len(req.Header))
	for key := range req.Header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writeHash(key + fmt.Sprint(req.Header[key])); err != nil {
			return "", fmt.Errorf("failed to hash header: %w", err)
		}
	}

	// Hash body if it exists
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		if _, err := h.Write(body); err != nil {
			return "", fmt.Errorf("failed to hash body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	return strconv.FormatUint(h.Sum64(), 16), nil
}

// SetLogger sets the logger for the middleware.
func (m *SingleFlightMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
