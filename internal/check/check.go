// Package check evaluates conformance checks against the reference server's
// database and the state of the active run.
package check

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// UnknownCheckError indicates a check type with no registered handler. It
// marks a defect in a procedure definition, not a conformance failure.
type UnknownCheckError struct {
	Type types.CheckType
}

func (e *UnknownCheckError) Error() string {
	return fmt.Sprintf("unknown check type %q", e.Type)
}

// FailedCheckError indicates a handler that could not evaluate its check at
// all, as opposed to evaluating it to a failing result.
type FailedCheckError struct {
	Type types.CheckType
	Err  error
}

func (e *FailedCheckError) Error() string {
	return fmt.Sprintf("check %q failed to evaluate: %v", e.Type, e.Err)
}

func (e *FailedCheckError) Unwrap() error { return e.Err }

// Context carries everything a check handler may consult.
type Context struct {
	Procedure *runner.ActiveTestProcedure
	Session   store.Session
	Resolver  *variable.Resolver
}

// Handler evaluates one check type.
type Handler func(ctx context.Context, cc *Context, params map[string]any) (types.CheckResult, error)

// Engine dispatches checks to registered handlers by type.
type Engine struct {
	handlers map[types.CheckType]Handler
	log      *slog.Logger
}

// NewEngine returns an Engine with no handlers registered.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{
		handlers: make(map[types.CheckType]Handler),
		log:      log,
	}
}

// Register installs the handler for a check type, replacing any existing one.
func (e *Engine) Register(t types.CheckType, h Handler) {
	e.handlers[t] = h
}

// Registered reports whether a handler exists for the check type.
func (e *Engine) Registered(t types.CheckType) bool {
	_, ok := e.handlers[t]
	return ok
}

// Run evaluates a single check. Parameters are resolved against the session
// before the handler sees them.
func (e *Engine) Run(ctx context.Context, cc *Context, chk types.Check) (types.CheckResult, error) {
	h, ok := e.handlers[chk.Type]
	if !ok {
		return types.CheckResult{}, &UnknownCheckError{Type: chk.Type}
	}

	params, err := cc.Resolver.ResolveParameterMap(ctx, cc.Session, chk.Parameters)
	if err != nil {
		return types.CheckResult{}, &FailedCheckError{Type: chk.Type, Err: err}
	}

	result, err := h(ctx, cc, params)
	if err != nil {
		return types.CheckResult{}, &FailedCheckError{Type: chk.Type, Err: err}
	}
	e.log.Debug("check evaluated", "type", chk.Type, "passed", result.Passed)
	return result, nil
}

// RunAll evaluates every check and returns the results keyed by check type.
func (e *Engine) RunAll(ctx context.Context, cc *Context, checks []types.Check) (map[string]types.CheckResult, error) {
	results := make(map[string]types.CheckResult, len(checks))
	for _, chk := range checks {
		result, err := e.Run(ctx, cc, chk)
		if err != nil {
			return nil, err
		}
		results[string(chk.Type)] = result
	}
	return results, nil
}

// AllPassing reports whether every check passes. An empty or nil check list
// passes vacuously.
func (e *Engine) AllPassing(ctx context.Context, cc *Context, checks []types.Check) (bool, error) {
	for _, chk := range checks {
		result, err := e.Run(ctx, cc, chk)
		if err != nil {
			return false, err
		}
		if !result.Passed {
			return false, nil
		}
	}
	return true, nil
}

// FirstFailing returns the first check result that failed, evaluating no
// further checks past it. Returns nil if every check passes.
func (e *Engine) FirstFailing(ctx context.Context, cc *Context, checks []types.Check) (*types.CheckResult, error) {
	for _, chk := range checks {
		result, err := e.Run(ctx, cc, chk)
		if err != nil {
			return nil, err
		}
		if !result.Passed {
			return &result, nil
		}
	}
	return nil, nil
}

// Merge folds many results into one. If any result failed, the merged result
// fails and its description lists only the failing descriptions; otherwise
// it passes and lists all descriptions. Empty descriptions are skipped.
func Merge(results []types.CheckResult) types.CheckResult {
	passed := true
	var failing, all []string
	for _, r := range results {
		if r.Description != "" {
			all = append(all, r.Description)
			if !r.Passed {
				failing = append(failing, r.Description)
			}
		}
		if !r.Passed {
			passed = false
		}
	}

	if !passed {
		return types.CheckResult{Passed: false, Description: strings.Join(failing, "\n")}
	}
	return types.CheckResult{Passed: true, Description: strings.Join(all, "\n")}
}
