package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameliarose/hub/internal/engine"
	"github.com/ameliarose/hub/internal/events"
	"github.com/ameliarose/hub/internal/log"
	"github.com/ameliarose/hub/internal/module"
	"github.com/ameliarose/hub/internal/run"
)

const testKey = "test-api-key-123"

type fakeEngine struct {
	runErr    error
	cancelErr error
	lastRun   string
	statuses  []engine.ModuleStatus
}

func (f *fakeEngine) Run(key string) (string, error) {
	f.lastRun = key
	if f.runErr != nil {
		return "", f.runErr
	}
	return "exec-1", nil
}

func (f *fakeEngine) Cancel(key string) error { return f.cancelErr }

func (f *fakeEngine) Modules() []engine.ModuleStatus { return f.statuses }

type fakeHistory struct {
	recent []run.Result
	err    error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]run.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeHistory) ByModule(_ context.Context, key string, limit int) ([]run.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []run.Result
	for _, r := range f.recent {
		if r.Module == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(eng Engine, history HistoryReader, hub *events.Hub) *Server {
	return New(Config{Listen: "127.0.0.1:0", APIKey: testKey}, eng, history, hub, log.Get())
}

func doRequest(t *testing.T, s *Server, method, path string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{statuses: []engine.ModuleStatus{
		{Descriptor: module.Descriptor{Key: "stock"}, State: run.StateRunning},
		{Descriptor: module.Descriptor{Key: "pricing"}, State: run.StateIdle},
	}}
	s := newTestServer(eng, nil, nil)

	rec := doRequest(t, s, "GET", "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.ModulesLoaded)
	assert.Equal(t, 1, resp.ModulesActive)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeEngine{}, nil, nil)

	rec := doRequest(t, s, "GET", "/v1/modules", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/v1/modules", nil)
	req.Header.Set("Authorization", "Bearer wrong-key-padded-")
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListModules(t *testing.T) {
	t.Parallel()

	last := run.Result{
		ExecutionID: "e9",
		Module:      "stock",
		State:       run.StateSucceeded,
		StartedAt:   time.Now().Add(-time.Minute),
		EndedAt:     time.Now(),
	}
	eng := &fakeEngine{statuses: []engine.ModuleStatus{
		{Descriptor: module.Descriptor{Key: "stock", DisplayName: "Stock Sync"}, State: run.StateIdle, Last: &last},
	}}
	s := newTestServer(eng, nil, nil)

	rec := doRequest(t, s, "GET", "/v1/modules", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModuleListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Modules, 1)
	assert.Equal(t, "stock", resp.Modules[0].Key)
	assert.Equal(t, "Stock Sync", resp.Modules[0].DisplayName)
	require.NotNil(t, resp.Modules[0].LastRun)
	assert.Equal(t, "e9", resp.Modules[0].LastRun.ExecutionID)
}

func TestRunModule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		runErr     error
		wantStatus int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown module", engine.ErrModuleNotFound, http.StatusNotFound},
		{"already running", engine.ErrAlreadyRunning, http.StatusConflict},
		{"script missing", engine.ErrScriptNotFound, http.StatusUnprocessableEntity},
		{"launch failure", errors.New("fork failed"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{runErr: tc.runErr}
			s := newTestServer(eng, nil, nil)

			rec := doRequest(t, s, "POST", "/v1/modules/stock/run", true)
			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "stock", eng.lastRun)

			if tc.wantStatus == http.StatusAccepted {
				var resp RunResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "exec-1", resp.ExecutionID)
				assert.Equal(t, string(run.StateRunning), resp.Status)
			}
		})
	}
}

func TestCancelModule(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeEngine{}, nil, nil)
	rec := doRequest(t, s, "POST", "/v1/modules/stock/cancel", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	s = newTestServer(&fakeEngine{cancelErr: engine.ErrNotRunning}, nil, nil)
	rec = doRequest(t, s, "POST", "/v1/modules/stock/cancel", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{recent: []run.Result{
		{ExecutionID: "e2", Module: "pricing", State: run.StateSucceeded},
		{ExecutionID: "e1", Module: "stock", State: run.StateFailed},
	}}
	s := newTestServer(&fakeEngine{}, history, nil)

	rec := doRequest(t, s, "GET", "/v1/runs", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "e2", resp.Runs[0].ExecutionID)

	rec = doRequest(t, s, "GET", "/v1/runs?module=stock", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "e1", resp.Runs[0].ExecutionID)

	rec = doRequest(t, s, "GET", "/v1/runs?limit=0", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsHistoryDisabled(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeEngine{}, nil, nil)
	rec := doRequest(t, s, "GET", "/v1/runs", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
