package circuitbreaker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaxron/conndef/middleware/circuitbreaker"
	clientErrors "github.com/jaxron/conndef/pkg/client/errors"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ErrFailed = errors.New("simulated failure")

func TestCircuitBreakerMiddleware(t *testing.T) {
	t.Parallel()

	failingHandler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
		return nil, ErrFailed
	}
	successHandler := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK}, nil
	}

	t.Run("Success scenario", func(t *testing.T) {
		t.Parallel()

		middleware := circuitbreaker.New(5, 10*time.Second, 30*time.Second)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		resp, err := middleware.Process(context.Background(), &http.Client{}, req, successHandler)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Circuit opens after multiple failures", func(t *testing.T) {
		t.Parallel()

		middleware := circuitbreaker.New(3, 10*time.Second, 1*time.Second)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

		// Fail 3 times to open the circuit
		for range 3 {
			_, err := middleware.Process(context.Background(), &http.Client{}, req, failingHandler)
			require.ErrorIs(t, err, ErrFailed)
		}

		// The next call should return ErrCircuitOpen
		_, err := middleware.Process(context.Background(), &http.Client{}, req, failingHandler)
		require.Error(t, err)
		assert.ErrorIs(t, err, clientErrors.ErrCircuitOpen)
		assert.Equal(t, gobreaker.StateOpen, middleware.State("example.com"))
	})

	t.Run("Open circuit does not affect other hosts", func(t *testing.T) {
		t.Parallel()

		middleware := circuitbreaker.New(3, 10*time.Second, 1*time.Second)

		down := httptest.NewRequest(http.MethodGet, "http://down.example.com", nil)
		for range 3 {
			_, err := middleware.Process(context.Background(), &http.Client{}, down, failingHandler)
			require.Error(t, err)
		}

		up := httptest.NewRequest(http.MethodGet, "http://up.example.com", nil)
		resp, err := middleware.Process(context.Background(), &http.Client{}, up, successHandler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, gobreaker.StateClosed, middleware.State("up.example.com"))
	})

	t.Run("Client errors keep the circuit closed", func(t *testing.T) {
		t.Parallel()

		middleware := circuitbreaker.New(3, 10*time.Second, 1*time.Second)

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		notFound := func(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusNotFound}, &clientErrors.StatusError{StatusCode: http.StatusNotFound}
		}

		for range 5 {
			resp, err := middleware.Process(context.Background(), &http.Client{}, req, notFound)
			require.ErrorIs(t, err, clientErrors.ErrBadStatus)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		}
		assert.Equal(t, gobreaker.StateClosed, middleware.State("example.com"))
	})

	t.Run("Circuit half-open state", func(t *testing.T) {
		t.Parallel()

		middleware := circuitbreaker.New(3, 10*time.Second, 100*time.Millisecond)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

		// Fail 3 times to open the circuit
		for range 3 {
			_, err := middleware.Process(context.Background(), &http.Client{}, req, failingHandler)
			require.Error(t, err)
		}

		// Wait for the circuit to enter half-open state
		time.Sleep(200 * time.Millisecond)

		// The circuit should now be half-open and allow one request
		resp, err := middleware.Process(context.Background(), &http.Client{}, req, successHandler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		// The circuit should now be closed and allow more requests
		resp, err = middleware.Process(context.Background(), &http.Client{}, req, successHandler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
