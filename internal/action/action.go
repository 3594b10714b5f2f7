// Package action applies test-procedure actions to the active run. The
// engine owns dispatch and parameter resolution; the step-manipulation
// actions are built in, everything that touches the reference server is
// registered by its provider.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// UnknownActionError indicates an action type with no registered handler.
type UnknownActionError struct {
	Type types.ActionType
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

// FailedActionError indicates a known handler that failed while applying.
type FailedActionError struct {
	Type types.ActionType
	Err  error
}

func (e *FailedActionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Type, e.Err)
}

func (e *FailedActionError) Unwrap() error { return e.Err }

// Context carries the run state a handler operates on. Now is the instant
// the triggering event fired, so every action in one batch observes the same
// time.
type Context struct {
	Procedure *runner.ActiveTestProcedure
	Session   store.Session
	Resolver  *variable.Resolver
	Now       time.Time
	// History is a snapshot of the proxied requests observed so far, for
	// handlers that package the run.
	History []types.RequestEntry
}

// Handler applies one action type.
type Handler func(ctx context.Context, ac *Context, params map[string]any) error

// Engine dispatches actions to registered handlers by type.
type Engine struct {
	handlers map[types.ActionType]Handler
	log      *slog.Logger
}

// NewEngine returns an Engine with the step-manipulation handlers
// (enable-steps, remove-steps) pre-registered.
func NewEngine(log *slog.Logger) *Engine {
	e := &Engine{
		handlers: make(map[types.ActionType]Handler),
		log:      log,
	}
	e.Register(types.ActionEnableSteps, e.applyEnableSteps)
	e.Register(types.ActionRemoveSteps, e.applyRemoveSteps)
	return e
}

// Register installs the handler for an action type, replacing any existing
// one.
func (e *Engine) Register(t types.ActionType, h Handler) {
	e.handlers[t] = h
}

// MissingHandlers returns every known action type with no registered
// handler. Used as a startup completeness check.
func (e *Engine) MissingHandlers() []types.ActionType {
	var missing []types.ActionType
	for _, t := range types.AllActionTypes {
		if _, ok := e.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// Apply resolves the action's parameters and runs its handler.
func (e *Engine) Apply(ctx context.Context, ac *Context, act types.Action) error {
	h, ok := e.handlers[act.Type]
	if !ok {
		return &UnknownActionError{Type: act.Type}
	}

	params, err := ac.Resolver.ResolveParameterMap(ctx, ac.Session, act.Parameters)
	if err != nil {
		return &FailedActionError{Type: act.Type, Err: err}
	}

	if err := h(ctx, ac, params); err != nil {
		return &FailedActionError{Type: act.Type, Err: err}
	}
	e.log.Info("action applied", "type", act.Type)
	return nil
}

// ApplyAll applies the actions in order, stopping at the first failure.
func (e *Engine) ApplyAll(ctx context.Context, ac *Context, actions []types.Action) error {
	for _, act := range actions {
		if err := e.Apply(ctx, ac, act); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyEnableSteps(_ context.Context, ac *Context, params map[string]any) error {
	steps, err := stepNames(params)
	if err != nil {
		return err
	}
	unmatched := ac.Procedure.EnableSteps(steps, ac.Now)
	if len(unmatched) > 0 {
		e.log.Warn("enable-steps named unknown steps", "steps", unmatched)
	}
	return nil
}

func (e *Engine) applyRemoveSteps(_ context.Context, ac *Context, params map[string]any) error {
	steps, err := stepNames(params)
	if err != nil {
		return err
	}
	unmatched := ac.Procedure.RemoveSteps(steps, ac.Now)
	if len(unmatched) > 0 {
		e.log.Warn("remove-steps named unknown steps", "steps", unmatched)
	}
	return nil
}

// stepNames extracts the "steps" parameter as a string slice. YAML decoding
// yields []any, so both forms are accepted.
func stepNames(params map[string]any) ([]string, error) {
	raw, ok := params["steps"]
	if !ok {
		return nil, fmt.Errorf("missing required parameter %q", "steps")
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q contains non-string element %v", "steps", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q must be a list of step names, got %T", "steps", raw)
	}
}
