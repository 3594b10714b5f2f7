package handlers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/effects"
	"github.com/banksia-harness/banksia/internal/procedure"
	"github.com/banksia-harness/banksia/internal/report"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/testutil"
	"github.com/banksia-harness/banksia/internal/timeline"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

const discoveryProcedure = `
description: Basic discovery flow
steps:
  GET-dcap:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
    actions:
      - type: enable-steps
        parameters:
          steps: [GET-tm]
  GET-tm:
    event:
      type: GET-request-received
      parameters:
        endpoint: /tm
    actions:
      - type: finish-test
criteria:
  - type: all-steps-complete
`

const immediateStartProcedure = `
description: Starts on init
preconditions:
  immediate_start: true
steps:
  GET-dcap:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
`

func newFixture(t *testing.T) (*Handlers, *runner.State, *testutil.MockStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ALL-01.yaml"), []byte(discoveryProcedure), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ALL-02.yaml"), []byte(immediateStartProcedure), 0o644))
	registry, err := procedure.LoadDirs([]string{dir}, log)
	require.NoError(t, err)

	state := runner.NewState()
	st := &testutil.MockStore{Session: &testutil.MockSession{}, RegisterResultID: 7}
	resolver := variable.New()

	checks := check.NewEngine(log)
	effects.RegisterChecks(checks, log)
	actions := action.NewEngine(log)
	builder := report.New(checks, timeline.New(log), resolver, log)
	effects.RegisterActions(actions, nil, builder, log)

	h := New(state, st, registry, actions, checks, resolver, builder, log)
	h.Now = func() time.Time { return testNow }
	return h, state, st
}

func clientCertificate(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func initRequest(t *testing.T, params map[string]string) *http.Request {
	t.Helper()
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return httptest.NewRequest(http.MethodPost, "/init?"+q.Encode(), nil)
}

func TestInit(t *testing.T) {
	h, state, st := newFixture(t)

	rec := httptest.NewRecorder()
	h.Init(rec, initRequest(t, map[string]string{
		"test":                   "ALL-01",
		"csip_aus_version":       "v1.2",
		"aggregator_certificate": clientCertificate(t),
		"pen":                    "1234",
		"run_id":                 "run-42",
		"subscription_domain":    "example.com",
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body types.InitResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ALL-01", body.TestProcedure)
	assert.False(t, body.IsStarted)

	assert.True(t, st.ResetCalled)
	require.NotNil(t, st.RegisteredLFDI)
	assert.Len(t, *st.RegisteredLFDI, 40)
	require.NotNil(t, st.RegisteredDomain)
	assert.Equal(t, "example.com", *st.RegisteredDomain)

	state.Lock()
	defer state.Unlock()
	proc := state.Procedure()
	require.NotNil(t, proc)
	assert.Equal(t, "run-42", proc.RunID)
	assert.Equal(t, 1234, proc.PEN)
	assert.Equal(t, int64(7), proc.AggregatorID)
	assert.Equal(t, types.CertAggregator, proc.CertificateType)
	assert.False(t, proc.IsStarted())
	require.NotNil(t, state.LastInteraction())
	assert.Equal(t, types.InteractionProcedureInit, state.LastInteraction().Type)
}

func TestInitDeviceCertificate(t *testing.T) {
	h, state, st := newFixture(t)

	rec := httptest.NewRecorder()
	h.Init(rec, initRequest(t, map[string]string{
		"test":               "ALL-01",
		"csip_aus_version":   "v1.2",
		"device_certificate": clientCertificate(t),
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	// Device certificates register no aggregator identity.
	assert.Nil(t, st.RegisteredLFDI)

	state.Lock()
	defer state.Unlock()
	assert.Equal(t, types.CertDevice, state.Procedure().CertificateType)
}

func TestInitImmediateStart(t *testing.T) {
	h, state, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.Init(rec, initRequest(t, map[string]string{
		"test":                   "ALL-02",
		"csip_aus_version":       "v1.2",
		"aggregator_certificate": clientCertificate(t),
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body types.InitResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.IsStarted)

	state.Lock()
	defer state.Unlock()
	proc := state.Procedure()
	assert.True(t, proc.IsStarted())
	assert.True(t, proc.Listeners[0].Enabled())
}

func TestInitRejectsBadRequests(t *testing.T) {
	cert := clientCertificate(t)
	tests := []struct {
		name   string
		params map[string]string
	}{
		{"missing test", map[string]string{
			"csip_aus_version": "v1.2", "aggregator_certificate": cert,
		}},
		{"unknown test", map[string]string{
			"test": "NOPE-99", "csip_aus_version": "v1.2", "aggregator_certificate": cert,
		}},
		{"missing version", map[string]string{
			"test": "ALL-01", "aggregator_certificate": cert,
		}},
		{"unknown version", map[string]string{
			"test": "ALL-01", "csip_aus_version": "v9", "aggregator_certificate": cert,
		}},
		{"no certificate", map[string]string{
			"test": "ALL-01", "csip_aus_version": "v1.2",
		}},
		{"both certificates", map[string]string{
			"test": "ALL-01", "csip_aus_version": "v1.2",
			"aggregator_certificate": cert, "device_certificate": cert,
		}},
		{"garbage certificate", map[string]string{
			"test": "ALL-01", "csip_aus_version": "v1.2", "aggregator_certificate": "not a pem",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newFixture(t)
			rec := httptest.NewRecorder()
			h.Init(rec, initRequest(t, tt.params))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestInitConflictsWithActiveProcedure(t *testing.T) {
	h, state, _ := newFixture(t)

	state.Lock()
	state.SetProcedure(activeProcedure(t, h))
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Init(rec, initRequest(t, map[string]string{
		"test":                   "ALL-01",
		"csip_aus_version":       "v1.2",
		"aggregator_certificate": clientCertificate(t),
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func activeProcedure(t *testing.T, h *Handlers) *runner.ActiveTestProcedure {
	t.Helper()
	def, ok := h.registry.Get("ALL-01")
	require.True(t, ok)
	return runner.NewProcedure("ALL-01", def, types.CSIPAusV12, 0, testNow)
}

func TestStart(t *testing.T) {
	h, state, _ := newFixture(t)

	state.Lock()
	state.SetProcedure(activeProcedure(t, h))
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/start", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body types.StartResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ALL-01", body.TestProcedure)

	state.Lock()
	defer state.Unlock()
	proc := state.Procedure()
	assert.True(t, proc.IsStarted())
	assert.True(t, proc.Listeners[0].Enabled())
	assert.False(t, proc.Listeners[1].Enabled())
	assert.Equal(t, types.InteractionProcedureStart, state.LastInteraction().Type)
}

func TestStartWithoutInit(t *testing.T) {
	h, _, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartTwiceConflicts(t *testing.T) {
	h, state, _ := newFixture(t)

	proc := activeProcedure(t, h)
	state.Lock()
	state.SetProcedure(proc)
	proc.EnableSteps([]string{"GET-dcap"}, testNow)
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusWithoutProcedure(t *testing.T) {
	h, _, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status types.RunnerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "no test procedure running", status.StatusSummary)
}

func TestStatusActiveRun(t *testing.T) {
	h, state, _ := newFixture(t)

	proc := activeProcedure(t, h)
	started := testNow.Add(-time.Minute)
	proc.StartedAt = &started
	state.Lock()
	state.SetProcedure(proc)
	state.RecordRequest(types.RequestEntry{Method: "GET", Path: "/dcap", StepName: "GET-dcap", Timestamp: testNow})
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status types.RunnerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ALL-01", status.TestProcedureName)
	assert.Equal(t, "0/2 steps complete", status.StatusSummary)
	assert.Len(t, status.Steps, 2)
	assert.Len(t, status.RequestHistory, 1)
	assert.Contains(t, status.CheckResults, string(types.CheckAllStepsComplete))
}

func TestFinalize(t *testing.T) {
	h, state, _ := newFixture(t)

	proc := activeProcedure(t, h)
	started := testNow.Add(-time.Minute)
	proc.StartedAt = &started
	state.Lock()
	state.SetProcedure(proc)
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Finalize(rec, httptest.NewRequest(http.MethodPost, "/finalize", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ALL-01")
	assert.NotEmpty(t, rec.Body.Bytes())

	state.Lock()
	defer state.Unlock()
	assert.Nil(t, state.Procedure())
}

func TestFinalizeReturnsEarlierZip(t *testing.T) {
	h, state, _ := newFixture(t)

	proc := activeProcedure(t, h)
	proc.FinishedZipData = []byte("already packaged")
	state.Lock()
	state.SetProcedure(proc)
	state.Unlock()

	rec := httptest.NewRecorder()
	h.Finalize(rec, httptest.NewRequest(http.MethodPost, "/finalize", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already packaged", rec.Body.String())
}

func TestFinalizeWithoutProcedure(t *testing.T) {
	h, _, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.Finalize(rec, httptest.NewRequest(http.MethodPost, "/finalize", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["procedures"])
}
