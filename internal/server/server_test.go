package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/effects"
	"github.com/banksia-harness/banksia/internal/procedure"
	"github.com/banksia-harness/banksia/internal/report"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/server/handlers"
	"github.com/banksia-harness/banksia/internal/testutil"
	"github.com/banksia-harness/banksia/internal/timeline"
	"github.com/banksia-harness/banksia/internal/variable"
)

const serverTestProcedure = `
description: Basic discovery flow
steps:
  GET-dcap:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
`

// proxySpy stands in for the forwarding proxy behind the catch-all route.
type proxySpy struct {
	requests []string
}

func (p *proxySpy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.requests = append(p.requests, r.Method+" "+r.URL.Path)
	w.WriteHeader(http.StatusOK)
}

func setupTestServer(t *testing.T) (*httptest.Server, *proxySpy) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ALL-01.yaml"), []byte(serverTestProcedure), 0o644))
	registry, err := procedure.LoadDirs([]string{dir}, log)
	require.NoError(t, err)

	state := runner.NewState()
	st := &testutil.MockStore{Session: &testutil.MockSession{}}
	resolver := variable.New()
	checks := check.NewEngine(log)
	effects.RegisterChecks(checks, log)
	actions := action.NewEngine(log)
	builder := report.New(checks, timeline.New(log), resolver, log)
	effects.RegisterActions(actions, nil, builder, log)

	h := handlers.New(state, st, registry, actions, checks, resolver, builder, log)
	spy := &proxySpy{}
	srv := New(":0", 1<<20, h, spy, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, spy
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "banksia_requests_proxied")
}

func TestUnmatchedPathsFallThroughToProxy(t *testing.T) {
	ts, spy := setupTestServer(t)

	paths := []string{"/dcap", "/edev/1/der/1/ders", "/tm"}
	for _, p := range paths {
		resp, err := http.Get(ts.URL + p)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, []string{"GET /dcap", "GET /edev/1/der/1/ders", "GET /tm"}, spy.requests)
}

func TestControlVerbMismatchGoesToProxy(t *testing.T) {
	ts, spy := setupTestServer(t)

	// A device PUT to /status is reference-server traffic, not the control API.
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, []string{"PUT /status"}, spy.requests)
}

func TestStatusRouteServed(t *testing.T) {
	ts, spy := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, spy.requests)
}
