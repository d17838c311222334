package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is an executable store scenario.
// It runs a sequence of store operations against a fresh store and asserts
// on the resulting notification trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is a CUE file or package directory holding store definitions.
	// Relative paths are resolved against the scenario file location.
	Spec string `yaml:"spec,omitempty"`

	// Store selects the store under `store:` in Spec.
	Store string `yaml:"store,omitempty"`

	// Setup steps run before Steps and are expected to succeed.
	// Their notifications are not part of the trace.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps are the operations under test.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// TxPrefix prefixes the sequential transaction IDs ("tx" when empty).
	TxPrefix string `yaml:"tx_prefix,omitempty"`
}

// Step is one store operation. Exactly one of the operation keys is set.
//
//	- commit: add          # Store.Commit
//	  args: [5]
//	- dispatch: addTwice   # Store.Dispatch
//	- set: label           # Store.Set
//	  value: taps
//	- reset: count         # Store.Reset ("" resets everything)
//	- flush: true          # Store.Flush(publish)
//	- rollback: false      # Store.Rollback(publish)
//	- get: plus            # Store.Get
//	  args: [1]
type Step struct {
	Commit   string  `yaml:"commit,omitempty"`
	Dispatch string  `yaml:"dispatch,omitempty"`
	Set      string  `yaml:"set,omitempty"`
	Reset    *string `yaml:"reset,omitempty"`
	Flush    *bool   `yaml:"flush,omitempty"`
	Rollback *bool   `yaml:"rollback,omitempty"`
	Get      string  `yaml:"get,omitempty"`

	// Args are passed to commit, dispatch and get.
	Args []any `yaml:"args,omitempty"`

	// Value is the value written by set. Absent means null.
	Value any `yaml:"value,omitempty"`

	// Expect validates the step outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is a store error code (e.g. "ILLEGAL_DIRECT_MUTATION") or a
	// substring of the error message. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Result is compared with the operation result when present.
	// An explicit `result: null` expects Null.
	Result yaml.Node `yaml:"result,omitempty"`
}

// HasResult reports whether the expect clause names a result.
func (e *Expect) HasResult() bool {
	return e != nil && e.Result.Kind != 0
}

// ResultValue decodes the expected result into plain Go data.
func (e *Expect) ResultValue() (any, error) {
	if !e.HasResult() {
		return nil, nil
	}
	var v any
	if err := e.Result.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Step operation names.
const (
	OpCommit   = "commit"
	OpDispatch = "dispatch"
	OpSet      = "set"
	OpReset    = "reset"
	OpFlush    = "flush"
	OpRollback = "rollback"
	OpGet      = "get"
)

// Op returns the operation this step runs and its target name.
// Returns an empty op when no operation key, or more than one, is set.
func (s Step) Op() (op, name string) {
	var ops []string
	if s.Commit != "" {
		ops = append(ops, OpCommit)
		name = s.Commit
	}
	if s.Dispatch != "" {
		ops = append(ops, OpDispatch)
		name = s.Dispatch
	}
	if s.Set != "" {
		ops = append(ops, OpSet)
		name = s.Set
	}
	if s.Reset != nil {
		ops = append(ops, OpReset)
		name = *s.Reset
	}
	if s.Flush != nil {
		ops = append(ops, OpFlush)
	}
	if s.Rollback != nil {
		ops = append(ops, OpRollback)
	}
	if s.Get != "" {
		ops = append(ops, OpGet)
		name = s.Get
	}
	if len(ops) != 1 {
		return "", ""
	}
	return ops[0], name
}

// Assertion validates the trace or the final store.
type Assertion struct {
	// Type is one of state, getter, event_count, event_order, status.
	Type string `yaml:"type"`

	// Expect holds expected field values (state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Name is the getter (getter) or the event name filter (event_count).
	Name string `yaml:"name,omitempty"`

	// Args are passed to a parameterized getter.
	Args []any `yaml:"args,omitempty"`

	// Equals is the expected getter value or status tag.
	Equals any `yaml:"equals,omitempty"`

	// Event is the event type counted by event_count.
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of matching events (event_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected relative order (event_order), each entry
	// "type" or "type:name".
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertState      = "state"
	AssertGetter     = "getter"
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
	AssertStatus     = "status"
)

// LoadScenario reads and parses a scenario YAML file.
// A relative Spec path is resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative Spec path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) && basePath != "" {
		scenario.Spec = filepath.Join(basePath, scenario.Spec)
	}
	if scenario.Spec != "" {
		if _, err := os.Stat(scenario.Spec); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: spec not found: %s", scenario.Spec)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Spec != "" && s.Store == "" {
		return fmt.Errorf("store is required when spec is set")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if op, _ := step.Op(); op == "" {
			return fmt.Errorf("setup[%d]: exactly one operation is required", i)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}

	for i, step := range s.Steps {
		op, _ := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one operation is required (commit, dispatch, set, reset, flush, rollback, get)", i)
		}
		if step.Value != nil && op != OpSet {
			return fmt.Errorf("steps[%d]: value is only allowed with set", i)
		}
		if len(step.Args) > 0 && op != OpCommit && op != OpDispatch && op != OpGet {
			return fmt.Errorf("steps[%d]: args are not allowed with %s", i, op)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertGetter:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for getter", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertStatus:
		if _, ok := a.Equals.(string); !ok {
			return fmt.Errorf("assertions[%d]: equals must be a status name for status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
