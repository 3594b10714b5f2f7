// Package engine is the test-procedure state machine. It consumes observed
// HTTP events from the proxy and elapsed-time ticks from a background timer,
// matches them against the active run's enabled listeners and drives the
// action engine for each match.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/metrics"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// Phase distinguishes the two observation points the proxy offers per
// request: before forwarding to the reference server, and after the response
// has been served.
type Phase string

// Phase values.
const (
	PhaseBeforeForward Phase = "before-forward"
	PhaseAfterForward  Phase = "after-forward"
)

// WaitEventError indicates a wait listener whose parameters could not be
// resolved to a start instant and a duration.
type WaitEventError struct {
	Step    string
	Message string
}

func (e *WaitEventError) Error() string {
	return fmt.Sprintf("wait listener for step %q: %s", e.Step, e.Message)
}

// Engine matches observed events against the active run.
type Engine struct {
	state    *runner.State
	store    store.Store
	actions  *action.Engine
	checks   *check.Engine
	resolver *variable.Resolver
	log      *slog.Logger

	tickInterval time.Duration
	// Now is overridable in tests.
	Now func() time.Time
}

// New wires the state machine to its collaborators.
func New(state *runner.State, st store.Store, actions *action.Engine, checks *check.Engine, resolver *variable.Resolver, tickInterval time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		state:        state,
		store:        st,
		actions:      actions,
		checks:       checks,
		resolver:     resolver,
		log:          log,
		tickInterval: tickInterval,
		Now:          time.Now,
	}
}

// OnRequestObserved matches one observed request against the enabled
// listeners and fires the first match. It returns the step name the request
// is attributed to. Requests seen before start are attributed to the init
// stage; requests matching nothing, or seen with no active or an already
// finished run, are ignored.
func (e *Engine) OnRequestObserved(ctx context.Context, method, path string, phase Phase) (string, error) {
	e.state.Lock()
	defer e.state.Unlock()

	proc := e.state.Procedure()
	if proc == nil || proc.IsFinished() {
		return runner.IgnoredStepName, nil
	}
	if !proc.IsStarted() {
		return runner.InitStageStepName, nil
	}

	eventType, ok := types.RequestEventTypes[method]
	if !ok {
		return runner.IgnoredStepName, nil
	}

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return runner.IgnoredStepName, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx)

	now := e.Now().UTC()
	for _, l := range proc.Listeners {
		if !l.Enabled() || l.Event.Type != eventType {
			continue
		}
		if afterPhase(l.Event) != (phase == PhaseAfterForward) {
			continue
		}

		pattern, ok := l.Event.Parameters["endpoint"].(string)
		if !ok {
			return runner.IgnoredStepName, fmt.Errorf("listener for step %q has no endpoint pattern", l.Step)
		}
		if !MatchEndpoint(path, pattern) {
			continue
		}

		passing, err := e.checks.AllPassing(ctx, &check.Context{Procedure: proc, Session: sess, Resolver: e.resolver}, l.Event.Checks)
		if err != nil {
			return runner.IgnoredStepName, err
		}
		if !passing {
			e.log.Debug("listener matched but its event checks are not passing", "step", l.Step)
			continue
		}

		if err := e.fire(ctx, proc, sess, l, now); err != nil {
			return runner.IgnoredStepName, err
		}
		if err := sess.Commit(ctx); err != nil {
			return l.Step, fmt.Errorf("committing session: %w", err)
		}
		return l.Step, nil
	}

	return runner.IgnoredStepName, nil
}

// OnTick fires every enabled wait listener whose delay has elapsed.
func (e *Engine) OnTick(ctx context.Context, now time.Time) error {
	e.state.Lock()
	defer e.state.Unlock()

	proc := e.state.Procedure()
	if proc == nil || proc.IsFinished() || !proc.IsStarted() {
		return nil
	}

	var waiting []*runner.Listener
	for _, l := range proc.Listeners {
		if l.Enabled() && l.Event.Type == types.EventWait {
			waiting = append(waiting, l)
		}
	}
	if len(waiting) == 0 {
		return nil
	}

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx)

	fired := false
	for _, l := range waiting {
		// An earlier listener's actions may have removed or disarmed
		// this one.
		if proc.ListenerForStep(l.Step) != l || !l.Enabled() {
			continue
		}
		due, err := e.waitElapsed(ctx, sess, l, now)
		if err != nil {
			return err
		}
		if !due {
			continue
		}
		passing, err := e.checks.AllPassing(ctx, &check.Context{Procedure: proc, Session: sess, Resolver: e.resolver}, l.Event.Checks)
		if err != nil {
			return err
		}
		if !passing {
			continue
		}
		if err := e.fire(ctx, proc, sess, l, now); err != nil {
			return err
		}
		fired = true
	}

	if fired {
		if err := sess.Commit(ctx); err != nil {
			return fmt.Errorf("committing session: %w", err)
		}
	}
	return nil
}

// fire disarms the listener, applies its actions and resolves its step
// unless an action re-enabled it.
func (e *Engine) fire(ctx context.Context, proc *runner.ActiveTestProcedure, sess store.Session, l *runner.Listener, now time.Time) error {
	e.log.Info("listener fired", "step", l.Step, "event", l.Event.Type)
	metrics.ListenersFired.Add(1)
	l.EnabledTime = nil

	ac := &action.Context{
		Procedure: proc,
		Session:   sess,
		Resolver:  e.resolver,
		Now:       now,
		History:   e.state.RequestHistory(),
	}
	if err := e.actions.ApplyAll(ctx, ac, l.Actions); err != nil {
		return err
	}

	if cur := proc.ListenerForStep(l.Step); cur == nil || !cur.Enabled() {
		proc.ResolveStep(l.Step, now)
	}
	return nil
}

// waitElapsed resolves a wait listener's start instant and duration and
// reports whether the delay has passed. The start defaults to the moment the
// listener was enabled when no explicit start parameter is declared.
func (e *Engine) waitElapsed(ctx context.Context, sess store.Session, l *runner.Listener, now time.Time) (bool, error) {
	params, err := e.resolver.ResolveParameterMap(ctx, sess, l.Event.Parameters)
	if err != nil {
		return false, &WaitEventError{Step: l.Step, Message: err.Error()}
	}

	duration, ok := numberParam(params["duration_seconds"])
	if !ok {
		return false, &WaitEventError{Step: l.Step, Message: "duration_seconds did not resolve to a number"}
	}

	var start time.Time
	if raw, present := params["wait_start_timestamp"]; present {
		start, ok = raw.(time.Time)
		if !ok {
			return false, &WaitEventError{Step: l.Step, Message: "wait_start_timestamp did not resolve to a timestamp"}
		}
	} else if l.EnabledTime != nil {
		start = *l.EnabledTime
	} else {
		return false, &WaitEventError{Step: l.Step, Message: "no wait start instant available"}
	}

	return now.Sub(start) >= time.Duration(duration*float64(time.Second)), nil
}

// Run ticks wait listeners until the context is cancelled. A failing tick is
// logged and does not stop the schedule.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := e.OnTick(ctx, now.UTC()); err != nil {
				metrics.TickErrors.Add(1)
				e.log.Error("tick failed", "error", err)
			}
		}
	}
}

// afterPhase reports whether the event asks to be served before its actions
// run, which moves its trigger to the after-forward observation.
func afterPhase(ev types.Event) bool {
	v, ok := ev.Parameters["serve_request_first"].(bool)
	return ok && v
}

func numberParam(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
