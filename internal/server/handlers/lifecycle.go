package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banksia-harness/banksia/internal/auth"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/metrics"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/pkg/types"
)

// startFailure carries the HTTP status a failed start attempt maps to.
type startFailure struct {
	status int
	msg    string
}

func (f *startFailure) Error() string { return f.msg }

func parseVersion(raw string) (types.CSIPAusVersion, bool) {
	switch v := types.CSIPAusVersion(raw); v {
	case types.CSIPAusV11, types.CSIPAusV12, types.CSIPAusV13:
		return v, true
	}
	return "", false
}

// Init initialises a test procedure run: the reference database is reset,
// the client certificate identity registered, the run state built and any
// declared init actions fired. Query parameters: test (required),
// csip_aus_version (required), exactly one of aggregator_certificate or
// device_certificate (PEM), and optional subscription_domain, run_id, pen.
func (h *Handlers) Init(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.Now().UTC()

	h.state.Lock()
	defer h.state.Unlock()

	if proc := h.state.Procedure(); proc != nil {
		h.writeError(w, http.StatusConflict,
			fmt.Sprintf("test procedure %q already active, finalize it before initialising another", proc.Name), nil)
		return
	}
	h.state.RecordInteraction(types.InteractionProcedureInit, now)

	q := r.URL.Query()

	testName := q.Get("test")
	if testName == "" {
		h.writeError(w, http.StatusBadRequest, "missing 'test' query parameter", nil)
		return
	}
	def, ok := h.registry.Get(testName)
	if !ok {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown test procedure %q", testName), nil)
		return
	}

	version, ok := parseVersion(q.Get("csip_aus_version"))
	if !ok {
		h.writeError(w, http.StatusBadRequest,
			"'csip_aus_version' query parameter missing or not a known version", nil)
		return
	}

	aggCert := q.Get("aggregator_certificate")
	deviceCert := q.Get("device_certificate")
	switch {
	case aggCert != "" && deviceCert != "":
		h.writeError(w, http.StatusBadRequest,
			"cannot use 'aggregator_certificate' and 'device_certificate' at the same time", nil)
		return
	case aggCert == "" && deviceCert == "":
		h.writeError(w, http.StatusBadRequest,
			"need one of 'aggregator_certificate' or 'device_certificate'", nil)
		return
	}

	certType := types.CertAggregator
	certPEM := aggCert
	if deviceCert != "" {
		certType = types.CertDevice
		certPEM = deviceCert
	}
	clientLFDI, err := auth.LFDIFromPEM([]byte(certPEM))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid client certificate", err)
		return
	}
	clientSFDI, err := auth.SFDIFromLFDI(clientLFDI)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid client certificate", err)
		return
	}

	pen := 0
	if raw := q.Get("pen"); raw != "" {
		pen, err = strconv.Atoi(raw)
		if err != nil {
			h.logger.Warn("non-numeric 'pen' query parameter, defaulting to 0", "pen", raw)
			pen = 0
		}
	}

	var subscriptionDomain *string
	if domain := q.Get("subscription_domain"); domain != "" {
		subscriptionDomain = &domain
	}

	if err := h.store.Reset(ctx); err != nil {
		h.writeError(w, http.StatusInternalServerError, "resetting reference database", err)
		return
	}

	var aggLFDI *string
	if certType == types.CertAggregator {
		aggLFDI = &clientLFDI
	}
	aggregatorID, err := h.store.RegisterAggregator(ctx, aggLFDI, subscriptionDomain)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "registering client certificate", err)
		return
	}

	proc := runner.NewProcedure(testName, def, version, pen, now)
	if runID := q.Get("run_id"); runID != "" {
		proc.RunID = runID
	}
	proc.ClientLFDI = clientLFDI
	proc.ClientSFDI = clientSFDI
	proc.AggregatorID = aggregatorID
	proc.CertificateType = certType
	h.state.SetProcedure(proc)

	h.logger.Info("test procedure initialised",
		"procedure", testName, "run", proc.RunID, "version", version,
		"certificate_type", certType, "lfdi", clientLFDI, "aggregator_id", aggregatorID)

	if pre := def.Preconditions; pre != nil {
		if err := h.applyActions(ctx, proc, pre.InitActions, now); err != nil {
			h.state.ClearProcedure()
			h.writeError(w, http.StatusInternalServerError, "applying init actions", err)
			return
		}
	}

	isStarted := false
	if pre := def.Preconditions; pre != nil && pre.ImmediateStart {
		if fail := h.attemptStart(ctx, proc, now); fail != nil {
			h.state.ClearProcedure()
			h.writeError(w, fail.status, "unable to trigger immediate start: "+fail.msg, nil)
			return
		}
		isStarted = true
	}

	h.writeJSON(w, http.StatusCreated, types.InitResponseBody{
		Status:        "Test procedure initialised.",
		TestProcedure: testName,
		Timestamp:     now,
		IsStarted:     isStarted,
	})
}

// attemptStart transitions an initialised run to started: precondition
// checks must pass, precondition actions fire and the first listener is
// armed. Caller must hold the state lock.
func (h *Handlers) attemptStart(ctx context.Context, proc *runner.ActiveTestProcedure, now time.Time) *startFailure {
	if proc == nil {
		return &startFailure{http.StatusConflict,
			"no test procedure initialised, initialise one before starting"}
	}
	for _, l := range proc.Listeners {
		if l.Enabled() {
			return &startFailure{http.StatusConflict,
				fmt.Sprintf("test procedure %q already in progress", proc.Name)}
		}
	}

	pre := proc.Definition.Preconditions
	if pre != nil && len(pre.Checks) > 0 {
		sess, err := h.store.Begin(ctx)
		if err != nil {
			return &startFailure{http.StatusInternalServerError, "opening store session"}
		}
		cc := &check.Context{Procedure: proc, Session: sess, Resolver: h.resolver}
		failing, err := h.checks.FirstFailing(ctx, cc, pre.Checks)
		_ = sess.Rollback(ctx)
		if err != nil {
			h.logger.Error("evaluating precondition checks", "procedure", proc.Name, "error", err)
			return &startFailure{http.StatusInternalServerError, "evaluating precondition checks"}
		}
		if failing != nil {
			return &startFailure{http.StatusPreconditionFailed,
				"precondition check failed: " + failing.Description}
		}
	}

	h.state.RecordInteraction(types.InteractionProcedureStart, now)
	t := now
	proc.StartedAt = &t

	if pre != nil {
		if err := h.applyActions(ctx, proc, pre.Actions, now); err != nil {
			h.logger.Error("applying precondition actions", "procedure", proc.Name, "error", err)
			return &startFailure{http.StatusInternalServerError, "applying precondition actions"}
		}
	}

	if len(proc.Listeners) > 0 {
		proc.EnableSteps([]string{proc.Listeners[0].Step}, now)
	}

	metrics.RunsStarted.Add(1)
	h.logger.Info("test procedure started", "procedure", proc.Name, "run", proc.RunID)
	return nil
}

// Start transitions the initialised run to started.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	now := h.Now().UTC()

	h.state.Lock()
	defer h.state.Unlock()

	proc := h.state.Procedure()
	if fail := h.attemptStart(r.Context(), proc, now); fail != nil {
		h.writeError(w, fail.status, fail.msg, nil)
		return
	}

	h.writeJSON(w, http.StatusOK, types.StartResponseBody{
		Status:        "Test procedure started.",
		TestProcedure: proc.Name,
		Timestamp:     now,
	})
}

// Status reports the point-in-time state of the runner.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.Now().UTC()

	h.state.Lock()
	defer h.state.Unlock()

	proc := h.state.Procedure()
	if proc == nil {
		status := types.RunnerStatus{StatusSummary: "no test procedure running"}
		if last := h.state.LastInteraction(); last != nil {
			status.LastClientInteraction = *last
		}
		h.writeJSON(w, http.StatusOK, status)
		return
	}

	sess, err := h.store.Begin(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "opening store session", err)
		return
	}
	defer func() { _ = sess.Rollback(ctx) }()

	status, err := h.report.Status(ctx, sess, proc, h.state.RequestHistory(), h.state.LastInteraction(), now)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "building status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Finalize finishes the active run and returns the zipped artifacts. The
// active procedure is cleared afterwards so a new run can be initialised.
func (h *Handlers) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.Now().UTC()

	h.state.Lock()
	defer h.state.Unlock()

	proc := h.state.Procedure()
	if proc == nil {
		h.writeError(w, http.StatusBadRequest,
			"unable to finalize, no test procedure in progress", nil)
		return
	}

	// A finish-test action may already have packaged the run.
	zipData := proc.FinishedZipData
	if zipData == nil {
		sess, err := h.store.Begin(ctx)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "opening store session", err)
			return
		}
		zipData, err = h.report.Finish(ctx, sess, proc, h.state.RequestHistory(), now)
		_ = sess.Rollback(ctx)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "packaging run artifacts", err)
			return
		}
	}

	h.state.ClearProcedure()
	metrics.RunsFinished.Add(1)
	h.logger.Info("test procedure finalized", "procedure", proc.Name, "run", proc.RunID)

	filename := fmt.Sprintf("BanksiaRunArtifacts_%s_%s.zip",
		now.Truncate(time.Second).Format(time.RFC3339), proc.Name)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(zipData); err != nil {
		h.logger.Error("writing artifact response", "error", err)
	}
}

// Health returns the server health status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.state.Lock()
	active := ""
	if proc := h.state.Procedure(); proc != nil {
		active = proc.Name
	}
	h.state.Unlock()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"procedures":      h.registry.Len(),
		"activeProcedure": active,
	})
}
