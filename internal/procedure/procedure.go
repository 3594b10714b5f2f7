// Package procedure loads and validates test-procedure definitions from
// YAML files. Step declaration order is significant (listeners match in
// order), so the loader preserves it rather than relying on map iteration.
package procedure

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banksia-harness/banksia/pkg/types"
)

// document mirrors the YAML layout. Steps stays a raw node so declaration
// order survives decoding.
type document struct {
	Description   string               `yaml:"description"`
	Category      string               `yaml:"category"`
	Classes       []string             `yaml:"classes"`
	Preconditions *types.Preconditions `yaml:"preconditions"`
	Steps         yaml.Node            `yaml:"steps"`
	Criteria      []types.Check        `yaml:"criteria"`
}

// Parse decodes one procedure definition.
func Parse(data []byte, name string) (*types.TestProcedure, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if doc.Steps.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing %s: steps must be a mapping", name)
	}

	def := &types.TestProcedure{
		Description:   doc.Description,
		Category:      doc.Category,
		Classes:       doc.Classes,
		Preconditions: doc.Preconditions,
		Steps:         make(map[string]types.Step, len(doc.Steps.Content)/2),
		Criteria:      doc.Criteria,
	}
	for i := 0; i+1 < len(doc.Steps.Content); i += 2 {
		stepName := doc.Steps.Content[i].Value
		var step types.Step
		if err := doc.Steps.Content[i+1].Decode(&step); err != nil {
			return nil, fmt.Errorf("parsing %s step %s: %w", name, stepName, err)
		}
		if _, dup := def.Steps[stepName]; dup {
			return nil, fmt.Errorf("parsing %s: duplicate step %s", name, stepName)
		}
		def.Steps[stepName] = step
		def.StepOrder = append(def.StepOrder, stepName)
	}

	if err := validate(def, name); err != nil {
		return nil, err
	}
	return def, nil
}

// validate rejects definitions the engines could not execute.
func validate(def *types.TestProcedure, name string) error {
	if len(def.StepOrder) == 0 {
		return fmt.Errorf("procedure %s declares no steps", name)
	}

	actionTypes := make(map[types.ActionType]bool, len(types.AllActionTypes))
	for _, t := range types.AllActionTypes {
		actionTypes[t] = true
	}
	checkTypes := make(map[types.CheckType]bool, len(types.AllCheckTypes))
	for _, t := range types.AllCheckTypes {
		checkTypes[t] = true
	}

	validateChecks := func(where string, checks []types.Check) error {
		for _, chk := range checks {
			if !checkTypes[chk.Type] {
				return fmt.Errorf("procedure %s: %s references unknown check type %q", name, where, chk.Type)
			}
			if err := validateParams(chk.Parameters); err != nil {
				return fmt.Errorf("procedure %s: %s: %w", name, where, err)
			}
		}
		return nil
	}
	validateActions := func(where string, actions []types.Action) error {
		for _, act := range actions {
			if !actionTypes[act.Type] {
				return fmt.Errorf("procedure %s: %s references unknown action type %q", name, where, act.Type)
			}
			if err := validateParams(act.Parameters); err != nil {
				return fmt.Errorf("procedure %s: %s: %w", name, where, err)
			}
		}
		return nil
	}

	for _, stepName := range def.StepOrder {
		step := def.Steps[stepName]
		where := "step " + stepName

		switch step.Event.Type {
		case types.EventWait:
			if _, ok := step.Event.Parameters["duration_seconds"]; !ok {
				return fmt.Errorf("procedure %s: %s declares a wait event without duration_seconds", name, stepName)
			}
		case types.EventGETRequestReceived, types.EventPOSTRequestReceived,
			types.EventPUTRequestReceived, types.EventDELETERequestReceived:
			if _, ok := step.Event.Parameters["endpoint"].(string); !ok {
				return fmt.Errorf("procedure %s: %s declares a request event without an endpoint", name, stepName)
			}
		default:
			return fmt.Errorf("procedure %s: %s declares unknown event type %q", name, stepName, step.Event.Type)
		}
		if err := validateParams(step.Event.Parameters); err != nil {
			return fmt.Errorf("procedure %s: %s: %w", name, where, err)
		}
		if err := validateChecks(where, step.Event.Checks); err != nil {
			return err
		}
		if err := validateActions(where, step.Actions); err != nil {
			return err
		}
	}

	if def.Preconditions != nil {
		if err := validateChecks("preconditions", def.Preconditions.Checks); err != nil {
			return err
		}
		if err := validateActions("preconditions", def.Preconditions.InitActions); err != nil {
			return err
		}
		if err := validateActions("preconditions", def.Preconditions.Actions); err != nil {
			return err
		}
	}
	return validateChecks("criteria", def.Criteria)
}

// validateParams parses every expression-valued parameter so a typo fails at
// load time instead of mid-run.
func validateParams(params map[string]any) error {
	for key, raw := range params {
		if !types.IsExpressionString(raw) {
			continue
		}
		if _, err := types.ParseExpression(raw.(string)); err != nil {
			return fmt.Errorf("parameter %s: %w", key, err)
		}
	}
	return nil
}

// Registry holds every loaded procedure definition by name.
type Registry struct {
	procedures map[string]*types.TestProcedure
}

// LoadDirs loads every .yaml file in the given directories. The file's base
// name (without extension) becomes the procedure name.
func LoadDirs(dirs []string, log *slog.Logger) (*Registry, error) {
	r := &Registry{procedures: make(map[string]*types.TestProcedure)}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading procedure directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ext)

			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("reading procedure %s: %w", name, err)
			}
			def, err := Parse(data, name)
			if err != nil {
				return nil, err
			}
			if _, dup := r.procedures[name]; dup {
				return nil, fmt.Errorf("procedure %s is defined more than once", name)
			}
			r.procedures[name] = def
			log.Debug("procedure loaded", "name", name, "steps", len(def.StepOrder))
		}
	}
	return r, nil
}

// Get returns the named procedure definition.
func (r *Registry) Get(name string) (*types.TestProcedure, bool) {
	def, ok := r.procedures[name]
	return def, ok
}

// Names returns all procedure names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.procedures))
	for name := range r.procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded procedures.
func (r *Registry) Len() int { return len(r.procedures) }
