package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/pkg/types"
)

func testDefinition() *types.TestProcedure {
	return &types.TestProcedure{
		Description: "example",
		Steps: map[string]types.Step{
			"step-1": {
				Event: types.Event{Type: types.EventGETRequestReceived, Parameters: map[string]any{"endpoint": "/dcap"}},
				Actions: []types.Action{
					{Type: types.ActionEnableSteps, Parameters: map[string]any{"steps": []any{"step-2"}}},
				},
			},
			"step-2": {
				Event: types.Event{Type: types.EventPOSTRequestReceived, Parameters: map[string]any{"endpoint": "/edev"}},
			},
			"step-3": {
				Event: types.Event{Type: types.EventWait, Parameters: map[string]any{"duration_seconds": 5}},
			},
		},
		StepOrder: []string{"step-1", "step-2", "step-3"},
	}
}

func TestNewProcedure(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 12345, now)

	assert.Equal(t, "ALL-01", p.Name)
	assert.NotEmpty(t, p.RunID)
	assert.Equal(t, now, p.InitialisedAt)
	assert.False(t, p.IsStarted())
	assert.False(t, p.IsFinished())

	require.Len(t, p.Listeners, 3)
	for _, l := range p.Listeners {
		assert.False(t, l.Enabled())
	}
	for _, name := range []string{"step-1", "step-2", "step-3"} {
		require.Contains(t, p.StepStatus, name)
		assert.Equal(t, types.StepPending, p.StepStatus[name].Status())
	}
}

func TestEnableSteps(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)

	unmatched := p.EnableSteps([]string{"step-1", "no-such-step"}, now)
	assert.Equal(t, []string{"no-such-step"}, unmatched)

	l := p.ListenerForStep("step-1")
	require.NotNil(t, l)
	require.True(t, l.Enabled())
	assert.Equal(t, now, *l.EnabledTime)
	assert.Equal(t, types.StepActive, p.StepStatus["step-1"].Status())
	assert.Equal(t, types.StepPending, p.StepStatus["step-2"].Status())
}

func TestEnableStepsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)

	p.EnableSteps([]string{"step-1"}, now)
	p.EnableSteps([]string{"step-1"}, later)

	// The original enable time and start time are preserved.
	assert.Equal(t, now, *p.ListenerForStep("step-1").EnabledTime)
	assert.Equal(t, now, *p.StepStatus["step-1"].StartedAt)
}

func TestEnableStepsReopensResolvedStep(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)

	p.EnableSteps([]string{"step-1"}, now)
	p.ResolveStep("step-1", now.Add(time.Second))
	assert.Equal(t, types.StepResolved, p.StepStatus["step-1"].Status())

	p.EnableSteps([]string{"step-1"}, now.Add(time.Minute))
	assert.Equal(t, types.StepActive, p.StepStatus["step-1"].Status())
	assert.True(t, p.ListenerForStep("step-1").Enabled())
}

func TestRemoveSteps(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)
	p.EnableSteps([]string{"step-1"}, now)

	unmatched := p.RemoveSteps([]string{"step-1", "step-2", "ghost"}, now.Add(time.Second))
	assert.Equal(t, []string{"ghost"}, unmatched)

	assert.Nil(t, p.ListenerForStep("step-1"))
	assert.Nil(t, p.ListenerForStep("step-2"))
	assert.NotNil(t, p.ListenerForStep("step-3"))

	// Removal resolves the step whether or not it had started.
	assert.Equal(t, types.StepResolved, p.StepStatus["step-1"].Status())
	assert.Equal(t, types.StepResolved, p.StepStatus["step-2"].Status())
}

func TestResolveStep(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)
	p.EnableSteps([]string{"step-2"}, now)

	p.ResolveStep("step-2", now.Add(2*time.Second))

	info := p.StepStatus["step-2"]
	assert.Equal(t, types.StepResolved, info.Status())
	assert.Equal(t, now, *info.StartedAt)
	assert.Equal(t, now.Add(2*time.Second), *info.CompletedAt)
	assert.False(t, p.ListenerForStep("step-2").Enabled())
}

func TestStepSummaries(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	p := NewProcedure("ALL-01", testDefinition(), types.CSIPAusV12, 0, now)
	p.EnableSteps([]string{"step-1"}, now)

	got := p.StepSummaries()
	assert.Equal(t, []types.StepSummary{
		{Name: "step-1", Status: types.StepActive},
		{Name: "step-2", Status: types.StepPending},
		{Name: "step-3", Status: types.StepPending},
	}, got)
}

func TestStateRequestHistoryCopies(t *testing.T) {
	s := NewState()
	s.Lock()
	defer s.Unlock()

	s.RecordRequest(types.RequestEntry{Method: "GET", Path: "/dcap", StepName: "step-1"})
	got := s.RequestHistory()
	require.Len(t, got, 1)

	got[0].StepName = "mutated"
	assert.Equal(t, "step-1", s.RequestHistory()[0].StepName)
}
