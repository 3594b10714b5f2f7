// Package runner holds the mutable state of an active test procedure run:
// the listener set, per-step progress, client identity and the request
// history accumulated while the run proceeds.
package runner

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/banksia-harness/banksia/pkg/types"
)

// InitStageStepName attributes requests received after init but before start.
const InitStageStepName = "INIT"

// IgnoredStepName attributes requests that matched no enabled listener.
const IgnoredStepName = "IGNORED"

// StepInfo tracks the progress of one step through the run.
type StepInfo struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Status derives the step's lifecycle state from its timestamps.
func (s *StepInfo) Status() types.StepStatus {
	switch {
	case s.CompletedAt != nil:
		return types.StepResolved
	case s.StartedAt != nil:
		return types.StepActive
	default:
		return types.StepPending
	}
}

// Listener pairs a step's trigger event with the actions to run when it
// fires. A listener is inert until EnabledTime is set.
type Listener struct {
	Step    string
	Event   types.Event
	Actions []types.Action
	// EnabledTime is when the listener was armed. Wait events measure
	// their delay from this instant.
	EnabledTime *time.Time
}

// Enabled reports whether the listener is armed.
func (l *Listener) Enabled() bool { return l.EnabledTime != nil }

// ActiveTestProcedure is a single in-flight run of a test procedure.
// All access must be serialised by the owning State.
type ActiveTestProcedure struct {
	Name       string
	Definition *types.TestProcedure
	Version    types.CSIPAusVersion
	RunID      string
	PEN        int

	InitialisedAt time.Time
	StartedAt     *time.Time

	Listeners  []*Listener
	StepStatus map[string]*StepInfo

	ClientLFDI             string
	ClientSFDI             int64
	AggregatorID           int64
	CertificateType        types.ClientCertificateType
	CommunicationsDisabled bool

	// FinishedZipData holds the packaged run artifact once the run has
	// finished. Non-nil marks the run terminal.
	FinishedZipData []byte

	ResourceAnnotations map[string]string
}

// NewProcedure builds the run state for a test procedure definition. One
// listener per step is created, all disabled; preconditions or an
// enable-steps action arm them later.
func NewProcedure(name string, def *types.TestProcedure, version types.CSIPAusVersion, pen int, now time.Time) *ActiveTestProcedure {
	p := &ActiveTestProcedure{
		Name:                name,
		Definition:          def,
		Version:             version,
		RunID:               ulid.Make().String(),
		PEN:                 pen,
		InitialisedAt:       now,
		StepStatus:          make(map[string]*StepInfo, len(def.Steps)),
		ResourceAnnotations: make(map[string]string),
	}
	for _, stepName := range def.StepOrder {
		step := def.Steps[stepName]
		p.Listeners = append(p.Listeners, &Listener{
			Step:    stepName,
			Event:   step.Event,
			Actions: step.Actions,
		})
		p.StepStatus[stepName] = &StepInfo{}
	}
	return p
}

// IsStarted reports whether the client has called start.
func (p *ActiveTestProcedure) IsStarted() bool { return p.StartedAt != nil }

// IsFinished reports whether the run has reached its terminal state.
func (p *ActiveTestProcedure) IsFinished() bool { return p.FinishedZipData != nil }

// EnableSteps arms the listeners for the named steps and stamps each step's
// start time if unset. Already-enabled steps are untouched. Returns the
// names that matched no listener.
func (p *ActiveTestProcedure) EnableSteps(names []string, now time.Time) []string {
	var unmatched []string
	for _, name := range names {
		found := false
		for _, l := range p.Listeners {
			if l.Step != name {
				continue
			}
			found = true
			if l.EnabledTime == nil {
				t := now
				l.EnabledTime = &t
			}
		}
		if info, ok := p.StepStatus[name]; ok && found {
			if info.StartedAt == nil {
				t := now
				info.StartedAt = &t
			}
			// Re-enabling a resolved step reopens it.
			info.CompletedAt = nil
		}
		if !found {
			unmatched = append(unmatched, name)
		}
	}
	return unmatched
}

// RemoveSteps deletes the listeners for the named steps and resolves each
// matched step. Returns the names that matched no listener.
func (p *ActiveTestProcedure) RemoveSteps(names []string, now time.Time) []string {
	var unmatched []string
	for _, name := range names {
		found := false
		kept := p.Listeners[:0]
		for _, l := range p.Listeners {
			if l.Step == name {
				found = true
				continue
			}
			kept = append(kept, l)
		}
		p.Listeners = kept

		if info, ok := p.StepStatus[name]; ok && found {
			if info.StartedAt == nil {
				t := now
				info.StartedAt = &t
			}
			if info.CompletedAt == nil {
				t := now
				info.CompletedAt = &t
			}
		}
		if !found {
			unmatched = append(unmatched, name)
		}
	}
	return unmatched
}

// ResolveStep stamps the step's completion time and disarms its listener.
// The listener stays in the list so a later enable-steps can re-arm it.
func (p *ActiveTestProcedure) ResolveStep(name string, now time.Time) {
	if info, ok := p.StepStatus[name]; ok {
		if info.StartedAt == nil {
			t := now
			info.StartedAt = &t
		}
		if info.CompletedAt == nil {
			t := now
			info.CompletedAt = &t
		}
	}
	for _, l := range p.Listeners {
		if l.Step == name {
			l.EnabledTime = nil
		}
	}
}

// ListenerForStep returns the listener registered for a step, or nil.
func (p *ActiveTestProcedure) ListenerForStep(name string) *Listener {
	for _, l := range p.Listeners {
		if l.Step == name {
			return l
		}
	}
	return nil
}

// StepSummaries returns the per-step status in definition order.
func (p *ActiveTestProcedure) StepSummaries() []types.StepSummary {
	out := make([]types.StepSummary, 0, len(p.Definition.StepOrder))
	for _, name := range p.Definition.StepOrder {
		out = append(out, types.StepSummary{
			Name:   name,
			Status: p.StepStatus[name].Status(),
		})
	}
	return out
}
