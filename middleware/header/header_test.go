package header_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jaxron/conndef/middleware/header"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK}, nil
}

func TestHeaderMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("Apply headers to request", func(t *testing.T) {
		t.Parallel()

		headers := http.Header{
			"User-Agent": []string{"TestAgent/1.0"},
			"X-Custom":   []string{"Value1", "Value2"},
		}

		middleware := header.NewHeaderMiddleware(headers)
		middleware.SetLogger(logger.NewBasicLogger())

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		resp, err := middleware.Process(context.Background(), &http.Client{}, req, okHandler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, "TestAgent/1.0", req.Header.Get("User-Agent"))
		assert.Equal(t, []string{"Value1", "Value2"}, req.Header["X-Custom"])
	})

	t.Run("Append to existing headers", func(t *testing.T) {
		t.Parallel()

		middleware := header.NewHeaderMiddleware(http.Header{"X-Existing": []string{"NewValue"}})

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("X-Existing", "OriginalValue")

		_, err := middleware.Process(context.Background(), &http.Client{}, req, okHandler)
		require.NoError(t, err)
		assert.Equal(t, []string{"OriginalValue", "NewValue"}, req.Header["X-Existing"])
	})

	t.Run("Defaults do not override request headers", func(t *testing.T) {
		t.Parallel()

		middleware := header.NewDefaultsMiddleware(http.Header{
			"User-Agent": []string{"conndef/1.0"},
			"Accept":     []string{"*/*"},
		})

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("User-Agent", "custom")

		_, err := middleware.Process(context.Background(), &http.Client{}, req, okHandler)
		require.NoError(t, err)
		assert.Equal(t, []string{"custom"}, req.Header["User-Agent"])
		assert.Equal(t, "*/*", req.Header.Get("Accept"))
	})

	t.Run("Empty headers", func(t *testing.T) {
		t.Parallel()

		middleware := header.NewHeaderMiddleware(http.Header{})

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		originalHeaderLen := len(req.Header)

		resp, err := middleware.Process(context.Background(), &http.Client{}, req, okHandler)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, originalHeaderLen, len(req.Header))
	})
}
