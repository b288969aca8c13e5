package api_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/jaxron/conndef/pkg/api"
	"github.com/jaxron/conndef/pkg/metrics"
	"github.com/jaxron/conndef/pkg/service"
	"github.com/jaxron/conndef/pkg/store"
	"github.com/jaxron/conndef/pkg/tester"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	tst, err := tester.New(tester.DefaultConfig(), nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	svc := service.New(store.NewMemory(), tst, service.Config{}, nil)
	srv := httptest.NewServer(api.New(svc, reg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, sonic.Unmarshal(raw, &env), string(raw))
	return resp, env
}

func TestSaveAndQuery(t *testing.T) {
	t.Parallel()

	srv := newServer(t)

	resp, env := call(t, srv, http.MethodPost, "/connections/definition/save",
		`{"name":"users","url":"http://example.test/users?page=1","httpMethod":"GET","httpParams":[{"key":"page","value":"1"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "success", env.Msg)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	saved := env.Data.(map[string]any)
	assert.EqualValues(t, 1, saved["id"])
	assert.EqualValues(t, 1, saved["version"])

	t.Run("Query by id", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodGet, "/connections/definition/queryById?id=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "users", env.Data.(map[string]any)["name"])
	})

	t.Run("Unknown id is not found", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodGet, "/connections/definition/queryById?id=9", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, http.StatusNotFound, env.Code)
	})

	t.Run("Missing id is a bad request", func(t *testing.T) {
		resp, _ := call(t, srv, http.MethodGet, "/connections/definition/queryById", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Duplicate name conflicts", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodPost, "/connections/definition/save",
			`{"name":"users","url":"http://example.test/other","httpMethod":"GET"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, http.StatusConflict, env.Code)
	})

	t.Run("Paging", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodGet, "/connections/definition/queryListPaging?searchVal=USE&pageNo=1&pageSize=10", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := env.Data.(map[string]any)
		assert.EqualValues(t, 1, page["total"])
		assert.EqualValues(t, 1, page["totalPage"])
		assert.Len(t, page["totalList"], 1)
	})

	t.Run("Invalid page size", func(t *testing.T) {
		resp, _ := call(t, srv, http.MethodGet, "/connections/definition/queryListPaging?pageNo=1&pageSize=500", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("List with no match is empty", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodGet, "/connections/definition/queryList?searchVal=nothing", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{}, env.Data)
	})

	t.Run("Update records history", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodPost, "/connections/definition/save",
			`{"id":1,"name":"users","url":"http://example.test/users?page=1","httpMethod":"GET","httpParams":[{"key":"page","value":"1"}],"description":"v2"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 2, env.Data.(map[string]any)["version"])

		resp, env = call(t, srv, http.MethodGet, "/connections/definition/history?id=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entries := env.Data.([]any)
		require.Len(t, entries, 1)
		assert.EqualValues(t, 1, entries[0].(map[string]any)["version"])
	})

	t.Run("Import into a step", func(t *testing.T) {
		resp, env := call(t, srv, http.MethodPost, "/tasks/http/import",
			`{"connectionId":1,"step":{"url":"","httpMethod":"POST","httpParams":[{"prop":"old","httpParametersType":"Headers","value":"x"}],"connectTimeout":1,"socketTimeout":2}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		step := env.Data.(map[string]any)
		assert.Equal(t, "http://example.test/users?page=1", step["url"])
		assert.Equal(t, "GET", step["httpMethod"])
		assert.Equal(t, []any{
			map[string]any{"prop": "page", "httpParametersType": "Parameter", "value": "1"},
		}, step["httpParams"])
		assert.EqualValues(t, 1, step["connectTimeout"])
	})
}

func TestSaveValidation(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, env := call(t, srv, http.MethodPost, "/connections/definition/save", `{"name":"","url":""}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid connection form", env.Msg)
	fields, ok := env.Data.([]any)
	require.True(t, ok)
	assert.Len(t, fields, 2)
}

func TestBadBody(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, env := call(t, srv, http.MethodPost, "/connections/definition/save", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.Code)
}

func TestParams(t *testing.T) {
	t.Parallel()

	srv := newServer(t)

	t.Run("Parse", func(t *testing.T) {
		t.Parallel()

		resp, env := call(t, srv, http.MethodPost, "/connections/params/parse", `{"url":"http://h/p?a=1&b=x%20y"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data := env.Data.(map[string]any)
		assert.Equal(t, "http://h/p", data["base"])
		assert.Equal(t, []any{
			map[string]any{"key": "a", "value": "1"},
			map[string]any{"key": "b", "value": "x y"},
		}, data["params"])
	})

	t.Run("Compose", func(t *testing.T) {
		t.Parallel()

		resp, env := call(t, srv, http.MethodPost, "/connections/params/compose",
			`{"url":"http://h/p?old=1","params":[{"key":"a","value":"1"},{"key":"","value":""}]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data := env.Data.(map[string]any)
		assert.Equal(t, "http://h/p?a=1", data["url"])
		assert.Len(t, data["params"], 2)
	})
}

func TestValidateStep(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, env := call(t, srv, http.MethodPost, "/tasks/http/validate",
		`{"url":"ftp://h","httpParams":[{"prop":"a","httpParametersType":"Body","value":"1"},{"prop":"a","httpParametersType":"Body","value":"2"}]}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, env.Data, 3)
}

func TestConnectionTest(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	srv := newServer(t)
	resp, env := call(t, srv, http.MethodPost, "/connections/definition/test",
		`{"name":"ping check","url":"`+upstream.URL+`/ping","httpMethod":"GET"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := env.Data.(map[string]any)
	assert.Equal(t, "200", data["httpCode"])
	assert.Equal(t, map[string]any{"ok": true}, data["response"])
	assert.NotEmpty(t, data["responseCookies"])
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newServer(t)

	resp, env := call(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", env.Data)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(body), `conndef_api_requests_total{code="200",method="GET",route="/healthz"}`)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	resp, env := call(t, srv, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(api.RequestIDHeader, "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(api.RequestIDHeader))
}

func TestServerConfigHeaders(t *testing.T) {
	t.Parallel()

	sc := api.DefaultServerConfig()
	sc.Header = http.Header{"X-Service": {"conndef"}}
	server := sc.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "conndef", rec.Header().Get("X-Service"))
	assert.Equal(t, ":8080", server.Addr)
}
