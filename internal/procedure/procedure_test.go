package procedure

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banksia-harness/banksia/pkg/types"
)

const validProcedure = `
description: Basic discovery flow
category: Discovery
classes: [A]
preconditions:
  checks:
    - type: end-device-contents
  immediate_start: true
steps:
  GET-dcap:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
    actions:
      - type: enable-steps
        parameters:
          steps: [PUT-derc, wait-500]
  PUT-derc:
    event:
      type: PUT-request-received
      parameters:
        endpoint: /edev/*/derp/1/derc
      checks:
        - type: der-settings-contents
    actions:
      - type: create-der-control
        parameters:
          start: $now
          duration_seconds: 300
          opModImpLimW: $(setMaxW / 2)
  wait-500:
    event:
      type: wait
      parameters:
        duration_seconds: 500
    actions:
      - type: finish-test
criteria:
  - type: all-steps-complete
`

func TestParsePreservesStepOrder(t *testing.T) {
	def, err := Parse([]byte(validProcedure), "ALL-01")
	require.NoError(t, err)

	assert.Equal(t, []string{"GET-dcap", "PUT-derc", "wait-500"}, def.StepOrder)
	assert.Equal(t, "Basic discovery flow", def.Description)
	require.NotNil(t, def.Preconditions)
	assert.True(t, def.Preconditions.ImmediateStart)
	require.Len(t, def.Criteria, 1)
	assert.Equal(t, types.CheckAllStepsComplete, def.Criteria[0].Type)

	step := def.Steps["PUT-derc"]
	assert.Equal(t, types.EventPUTRequestReceived, step.Event.Type)
	assert.Equal(t, "/edev/*/derp/1/derc", step.Event.Parameters["endpoint"])
	require.Len(t, step.Event.Checks, 1)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, "$(setMaxW / 2)", step.Actions[0].Parameters["opModImpLimW"])
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "no steps",
			yaml: "description: empty\nsteps: {}\n",
		},
		{
			name: "unknown event type",
			yaml: `
steps:
  s1:
    event:
      type: PATCH-request-received
      parameters: {endpoint: /dcap}
`,
		},
		{
			name: "request event without endpoint",
			yaml: `
steps:
  s1:
    event:
      type: GET-request-received
`,
		},
		{
			name: "wait event without duration",
			yaml: `
steps:
  s1:
    event:
      type: wait
`,
		},
		{
			name: "unknown action type",
			yaml: `
steps:
  s1:
    event:
      type: GET-request-received
      parameters: {endpoint: /dcap}
    actions:
      - type: launch-missiles
`,
		},
		{
			name: "unknown check type in criteria",
			yaml: `
steps:
  s1:
    event:
      type: GET-request-received
      parameters: {endpoint: /dcap}
criteria:
  - type: vibe-check
`,
		},
		{
			name: "malformed expression parameter",
			yaml: `
steps:
  s1:
    event:
      type: GET-request-received
      parameters: {endpoint: /dcap}
    actions:
      - type: create-der-control
        parameters:
          start: $now
          duration_seconds: 60
          opModImpLimW: "$(setMaxW *"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml), tc.name)
			assert.Error(t, err)
		})
	}
}

func TestLoadDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ALL-01.yaml"), []byte(validProcedure), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := LoadDirs([]string{dir}, log)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"ALL-01"}, r.Names())

	def, ok := r.Get("ALL-01")
	require.True(t, ok)
	assert.Len(t, def.StepOrder, 3)

	_, ok = r.Get("ALL-99")
	assert.False(t, ok)
}

func TestLoadDirsRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD-01.yaml"), []byte("steps: []\n"), 0o644))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := LoadDirs([]string{dir}, log)
	assert.Error(t, err)
}
