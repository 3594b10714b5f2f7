// Package handlers implements the HTTP handlers for the harness control API:
// run lifecycle (init, start, status, finalize) and health.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/procedure"
	"github.com/banksia-harness/banksia/internal/report"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	state    *runner.State
	store    store.Store
	registry *procedure.Registry
	actions  *action.Engine
	checks   *check.Engine
	resolver *variable.Resolver
	report   *report.Builder
	logger   *slog.Logger

	// Now is the clock; tests substitute a fixed one.
	Now func() time.Time
}

// New creates a new Handlers instance.
func New(state *runner.State, st store.Store, reg *procedure.Registry, actions *action.Engine, checks *check.Engine, resolver *variable.Resolver, rep *report.Builder, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		state:    state,
		store:    st,
		registry: reg,
		actions:  actions,
		checks:   checks,
		resolver: resolver,
		report:   rep,
		logger:   log,
		Now:      time.Now,
	}
}

// writeError logs the internal error and returns a sanitized JSON error to
// the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// applyActions runs an action batch inside its own store session. Caller
// must hold the state lock.
func (h *Handlers) applyActions(ctx context.Context, proc *runner.ActiveTestProcedure, actions []types.Action, now time.Time) error {
	if len(actions) == 0 {
		return nil
	}
	sess, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Rollback(ctx) }()

	ac := &action.Context{
		Procedure: proc,
		Session:   sess,
		Resolver:  h.resolver,
		Now:       now,
		History:   h.state.RequestHistory(),
	}
	if err := h.actions.ApplyAll(ctx, ac, actions); err != nil {
		return err
	}
	return sess.Commit(ctx)
}
