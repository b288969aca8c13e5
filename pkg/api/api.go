// Package api exposes connection definitions over a JSON HTTP API.
//
// Every response is an envelope of the form
//
//	{"code": 0, "msg": "success", "data": ...}
//
// where code 0 means success and any other code repeats the HTTP status.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/connection"
	"github.com/jaxron/conndef/pkg/params"
	"github.com/jaxron/conndef/pkg/service"
	"github.com/jaxron/conndef/pkg/task"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	clientErrors "github.com/jaxron/conndef/pkg/client/errors"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 1 << 20

var ErrBadRequest = errors.New("bad request")

// Envelope wraps every response body.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// API serves the connection definition routes.
type API struct {
	connections *service.Connections
	gatherer    prometheus.Gatherer
	logger      logger.Logger
}

// New creates an API. A nil gatherer disables the /metrics route.
func New(connections *service.Connections, gatherer prometheus.Gatherer, l logger.Logger) *API {
	if l == nil {
		l = &logger.NoOpLogger{}
	}
	return &API{connections: connections, gatherer: gatherer, logger: l}
}

// Handler returns the router wrapped in the request middleware.
func (a *API) Handler() http.Handler {
	return alice.New(
		RequestID,
		Logging(a.logger),
		Recover(a.logger),
	).Then(a.Router())
}

// Router registers every route on a new mux.Router.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, http.StatusNotFound, fmt.Errorf("%w: no route for %s", ErrBadRequest, r.URL.Path))
	})

	defs := r.PathPrefix("/connections/definition").Subrouter()
	defs.HandleFunc("/save", a.save).Methods(http.MethodPost)
	defs.HandleFunc("/test", a.test).Methods(http.MethodPost)
	defs.HandleFunc("/queryById", a.queryByID).Methods(http.MethodGet)
	defs.HandleFunc("/queryListPaging", a.queryListPaging).Methods(http.MethodGet)
	defs.HandleFunc("/queryList", a.queryList).Methods(http.MethodGet)
	defs.HandleFunc("/history", a.history).Methods(http.MethodGet)

	ps := r.PathPrefix("/connections/params").Subrouter()
	ps.HandleFunc("/parse", a.parseParams).Methods(http.MethodPost)
	ps.HandleFunc("/compose", a.composeParams).Methods(http.MethodPost)

	tasks := r.PathPrefix("/tasks/http").Subrouter()
	tasks.HandleFunc("/import", a.importConnection).Methods(http.MethodPost)
	tasks.HandleFunc("/validate", a.validateStep).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		a.ok(w, r, "ok")
	}).Methods(http.MethodGet)

	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (a *API) save(w http.ResponseWriter, r *http.Request) {
	f := connection.NewForm()
	if err := decode(r, f); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	def, err := a.connections.Save(r.Context(), f)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	a.ok(w, r, def)
}

func (a *API) test(w http.ResponseWriter, r *http.Request) {
	f := connection.NewForm()
	if err := decode(r, f); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := a.connections.Test(r.Context(), f)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	a.ok(w, r, result)
}

func (a *API) queryByID(w http.ResponseWriter, r *http.Request) {
	id, err := requiredInt(r, "id")
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	def, err := a.connections.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	a.ok(w, r, def)
}

func (a *API) queryListPaging(w http.ResponseWriter, r *http.Request) {
	pageNo, err := intParam(r, "pageNo", 1)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	pageSize, err := intParam(r, "pageSize", 10)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	page, err := a.connections.Page(r.Context(), r.URL.Query().Get("searchVal"), pageNo, pageSize)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	a.ok(w, r, page)
}

func (a *API) queryList(w http.ResponseWriter, r *http.Request) {
	defs, err := a.connections.List(r.Context(), r.URL.Query().Get("searchVal"))
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	if defs == nil {
		defs = []*connection.Definition{}
	}
	a.ok(w, r, defs)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	id, err := requiredInt(r, "id")
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	entries, err := a.connections.History(r.Context(), id)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}
	if entries == nil {
		entries = []*connection.HistoryEntry{}
	}
	a.ok(w, r, entries)
}

// ParamsRequest is the body of the parse and compose routes.
type ParamsRequest struct {
	URL    string        `json:"url"`
	Params []params.Pair `json:"params"`
}

// ParamsResponse carries a URL together with its parameter list.
type ParamsResponse struct {
	URL    string        `json:"url"`
	Base   string        `json:"base"`
	Params []params.Pair `json:"params"`
}

func (a *API) parseParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	f := connection.NewForm()
	connection.OnURLInput(f, req.URL)
	a.ok(w, r, paramsResponse(f))
}

func (a *API) composeParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	f := connection.NewForm()
	f.URL = req.URL
	connection.OnParamsUpdate(f, req.Params)
	a.ok(w, r, paramsResponse(f))
}

func paramsResponse(f *connection.Form) ParamsResponse {
	ps := f.HTTPParams
	if ps == nil {
		ps = []params.Pair{}
	}
	return ParamsResponse{URL: f.URL, Base: params.Base(f.URL), Params: ps}
}

// ImportRequest asks for a saved connection to be copied into a step.
type ImportRequest struct {
	Step         *task.Step `json:"step"`
	ConnectionID int        `json:"connectionId"`
}

func (a *API) importConnection(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Step == nil {
		req.Step = task.NewStep()
	}

	def, err := a.connections.Get(r.Context(), req.ConnectionID)
	if err != nil {
		a.fail(w, r, statusOf(err), err)
		return
	}

	task.ImportConnection(req.Step, def)
	a.ok(w, r, req.Step)
}

func (a *API) validateStep(w http.ResponseWriter, r *http.Request) {
	step := task.NewStep()
	if err := decode(r, step); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}

	if err := task.Validate(step); err != nil {
		a.fail(w, r, http.StatusBadRequest, fmt.Errorf("%w: %w", connection.ErrInvalidForm, err))
		return
	}
	a.ok(w, r, step)
}

// statusOf maps a service error to the HTTP status reported for it.
func statusOf(err error) int {
	switch {
	case errors.Is(err, connection.ErrInvalidForm),
		errors.Is(err, service.ErrDescriptionTooLong),
		errors.Is(err, service.ErrInvalidPage),
		errors.Is(err, clientErrors.ErrUnsupportedMethod),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNameExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func requiredInt(r *http.Request, name string) (int, error) {
	if r.URL.Query().Get(name) == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrBadRequest, name)
	}
	return intParam(r, name, 0)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, name)
	}
	return v, nil
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", ErrBadRequest, maxBodyBytes)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrBadRequest)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

func (a *API) ok(w http.ResponseWriter, r *http.Request, data any) {
	a.write(w, r, http.StatusOK, Envelope{Code: 0, Msg: "success", Data: data})
}

// fail reports err. Validation failures carry the per-field errors as data.
func (a *API) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	env := Envelope{Code: status, Msg: err.Error()}
	if fields := connection.FieldErrors(err); len(fields) > 0 {
		env.Msg = connection.ErrInvalidForm.Error()
		env.Data = fields
	}

	log := requestLogger(r, a.logger).WithFields(logger.Err(err), logger.Int("status", status))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}
	a.write(w, r, status, env)
}

func (a *API) write(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	body, err := sonic.Marshal(env)
	if err != nil {
		requestLogger(r, a.logger).WithFields(logger.Err(err)).Error("Encoding response failed")
		status = http.StatusInternalServerError
		body = []byte(`{"code":500,"msg":"encoding response failed","data":null}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
