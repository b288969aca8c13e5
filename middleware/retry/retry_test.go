package retry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jaxron/conndef/middleware/retry"
	"github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("Successful request without retries", func(t *testing.T) {
		t.Parallel()

		middleware := retry.New(3, 10*time.Millisecond, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK}, nil
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Retry on temporary error", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		maxAttempts := uint64(3)
		middleware := retry.New(maxAttempts, 10*time.Millisecond, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			if attempts < int(maxAttempts) {
				return nil, errors.ErrTemporary
			}
			return &http.Response{StatusCode: http.StatusOK}, nil
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int(maxAttempts), attempts)
	})

	t.Run("Fail after max retries", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		maxAttempts := uint64(3)
		middleware := retry.New(maxAttempts, 10*time.Millisecond, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			return nil, errors.ErrTemporary
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, retry.ErrRetryFailed)
		assert.Equal(t, int(maxAttempts)+1, attempts) // The middleware makes one more attempt than maxAttempts
	})

	t.Run("No retry on permanent error", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		middleware := retry.New(3, 10*time.Millisecond, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			return nil, errors.ErrPermanent
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, retry.ErrRetryFailed)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Respect context cancellation", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		middleware := retry.New(5, 10*time.Millisecond, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return nil, errors.ErrTemporary
		}

		resp, err := middleware.Process(ctx, &http.Client{}, req, handler)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, retry.ErrRetryFailed)
		assert.Equal(t, 2, attempts)
	})
	t.Run("Last response is returned when retries run out", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		middleware := retry.New(2, time.Millisecond, 5*time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("down"))}
			return resp, &errors.StatusError{StatusCode: http.StatusBadGateway}
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.ErrorIs(t, err, retry.ErrRetryFailed)
		require.ErrorIs(t, err, errors.ErrBadStatus)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Client errors are not retried", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		middleware := retry.New(3, time.Millisecond, 5*time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			return &http.Response{StatusCode: http.StatusNotFound}, &errors.StatusError{StatusCode: http.StatusNotFound}
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Idempotent only skips POST", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		middleware := retry.New(3, time.Millisecond, 5*time.Millisecond).IdempotentOnly()

		req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			attempts++
			return nil, errors.ErrNetwork
		}

		_, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.ErrorIs(t, err, errors.ErrNetwork)
		assert.NotErrorIs(t, err, retry.ErrRetryFailed)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Body is rewound between attempts", func(t *testing.T) {
		t.Parallel()

		var bodies []string
		middleware := retry.New(2, time.Millisecond, 5*time.Millisecond)

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, "http://example.com", strings.NewReader("payload"))
		require.NoError(t, err)

		handler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			b, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			bodies = append(bodies, string(b))
			if len(bodies) < 2 {
				return nil, errors.ErrTimeout
			}
			return &http.Response{StatusCode: http.StatusOK}, nil
		}

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, handler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"payload", "payload"}, bodies)
	})
}
