// Package proxy forwards client requests to the reference server and feeds
// each one through the test-procedure state machine before and after the
// exchange.
package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banksia-harness/banksia/internal/auth"
	"github.com/banksia-harness/banksia/internal/engine"
	"github.com/banksia-harness/banksia/internal/metrics"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/pkg/types"
)

// hopHeaders are dropped when relaying, per RFC 9110.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy relays requests to the reference server.
type Proxy struct {
	target   *url.URL
	engine   *engine.Engine
	state    *runner.State
	client   *http.Client
	skipAuth bool
	log      *slog.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// New builds a Proxy forwarding to targetURL. With skipAuth set the client
// certificate check is bypassed.
func New(targetURL string, eng *engine.Engine, state *runner.State, skipAuth bool, log *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		target:   target,
		engine:   eng,
		state:    state,
		client:   &http.Client{Timeout: 30 * time.Second},
		skipAuth: skipAuth,
		log:      log,
		Now:      time.Now,
	}, nil
}

// ServeHTTP handles one client request: authorize, observe, forward, observe
// again, record.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := p.Now().UTC()

	p.state.Lock()
	proc := p.state.Procedure()
	var expectedLFDI string
	commsDisabled := false
	if proc != nil {
		expectedLFDI = proc.ClientLFDI
		commsDisabled = proc.CommunicationsDisabled
	}
	p.state.RecordInteraction(types.InteractionProxiedRequest, now)
	p.state.Unlock()

	if !p.skipAuth && expectedLFDI != "" {
		if err := auth.Authorize(r, expectedLFDI); err != nil {
			p.log.Warn("rejected unauthorized request", "method", r.Method, "path", r.URL.Path, "error", err)
			metrics.RequestsRejected.Add(1)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	step, err := p.engine.OnRequestObserved(r.Context(), r.Method, r.URL.Path, engine.PhaseBeforeForward)
	if err != nil {
		// The exchange still happens; the procedure does not advance on
		// bad data.
		p.log.Error("before-forward trigger failed", "method", r.Method, "path", r.URL.Path, "error", err)
		step = runner.IgnoredStepName
	}

	var status int
	if commsDisabled {
		// Simulated outage: the server is unreachable as far as the
		// client can tell.
		status = http.StatusInternalServerError
		http.Error(w, "internal server error", status)
	} else {
		status = p.forward(w, r)
		metrics.RequestsProxied.Add(1)
	}

	afterStep, err := p.engine.OnRequestObserved(r.Context(), r.Method, r.URL.Path, engine.PhaseAfterForward)
	if err != nil {
		p.log.Error("after-forward trigger failed", "method", r.Method, "path", r.URL.Path, "error", err)
		afterStep = runner.IgnoredStepName
	}
	if step == runner.IgnoredStepName {
		step = afterStep
	}

	p.state.Lock()
	p.state.RecordRequest(types.RequestEntry{
		URL:       r.URL.String(),
		Path:      r.URL.Path,
		Method:    r.Method,
		Status:    status,
		Timestamp: now,
		StepName:  step,
	})
	p.state.Unlock()
}

// forward relays the exchange and returns the upstream status code.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) int {
	outURL := *p.target
	outURL.Path = singleJoin(p.target.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := p.client.Do(out)
	if err != nil {
		p.log.Error("forwarding failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Warn("relaying response body failed", "error", err)
	}
	return resp.StatusCode
}

func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
