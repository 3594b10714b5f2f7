package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/engine"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/testutil"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	proxy    *Proxy
	state    *runner.State
	proc     *runner.ActiveTestProcedure
	upstream *httptest.Server
	requests []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/sep+xml")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<DeviceCapability/>")
	}))
	t.Cleanup(f.upstream.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &testutil.MockStore{Session: &testutil.MockSession{}}
	f.state = runner.NewState()
	eng := engine.New(f.state, st, action.NewEngine(log), check.NewEngine(log), variable.New(), time.Second, log)
	eng.Now = func() time.Time { return testNow }

	def := &types.TestProcedure{
		Steps: map[string]types.Step{
			"step-1": {Event: types.Event{
				Type:       types.EventGETRequestReceived,
				Parameters: map[string]any{"endpoint": "/dcap"},
			}},
		},
		StepOrder: []string{"step-1"},
	}
	f.proc = runner.NewProcedure("ALL-01", def, types.CSIPAusV12, 0, testNow.Add(-time.Minute))
	started := testNow.Add(-30 * time.Second)
	f.proc.StartedAt = &started
	f.proc.EnableSteps([]string{"step-1"}, started)

	f.state.Lock()
	f.state.SetProcedure(f.proc)
	f.state.Unlock()

	p, err := New(f.upstream.URL, eng, f.state, true, log)
	require.NoError(t, err)
	p.Now = func() time.Time { return testNow }
	f.proxy = p
	return f
}

func TestProxyForwardsAndAttributes(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dcap", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<DeviceCapability/>", rec.Body.String())
	assert.Equal(t, []string{"GET /dcap"}, f.requests)

	assert.Equal(t, types.StepResolved, f.proc.StepStatus["step-1"].Status())

	f.state.Lock()
	history := f.state.RequestHistory()
	last := f.state.LastInteraction()
	f.state.Unlock()

	require.Len(t, history, 1)
	assert.Equal(t, "step-1", history[0].StepName)
	assert.Equal(t, http.StatusOK, history[0].Status)
	require.NotNil(t, last)
	assert.Equal(t, types.InteractionProxiedRequest, last.Type)
}

func TestProxyUnmatchedRequestIsIgnoredButForwarded(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tm", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.state.Lock()
	history := f.state.RequestHistory()
	f.state.Unlock()
	require.Len(t, history, 1)
	assert.Equal(t, runner.IgnoredStepName, history[0].StepName)
}

func TestProxyCommunicationsDisabled(t *testing.T) {
	f := newFixture(t)
	f.proc.CommunicationsDisabled = true

	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dcap", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.requests, "nothing is forwarded during a simulated outage")

	f.state.Lock()
	history := f.state.RequestHistory()
	f.state.Unlock()
	require.Len(t, history, 1)
	assert.Equal(t, http.StatusInternalServerError, history[0].Status)
}

func TestProxyRejectsMissingCertificate(t *testing.T) {
	f := newFixture(t)
	f.proc.ClientLFDI = "3e4f45ab31edfe5b67e343e5e4562e31984e23e5"
	f.proxy.skipAuth = false

	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dcap", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.requests)
}

func TestProxyInitStageAttribution(t *testing.T) {
	f := newFixture(t)
	f.proc.StartedAt = nil

	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dcap", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.state.Lock()
	history := f.state.RequestHistory()
	f.state.Unlock()
	require.Len(t, history, 1)
	assert.Equal(t, runner.InitStageStepName, history[0].StepName)
}
