package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/statekeeper/internal/value"
)

// TraceSnapshot captures the complete outcome of a scenario execution.
// It serializes to canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Steps        []StepResult
	Trace        []TraceEvent
	State        value.Object
}

// toCanonicalMap converts the snapshot to plain data for value.MarshalCanonical.
// Empty optional members are left out so golden files stay small.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		m := map[string]any{
			"index": step.Index,
			"op":    step.Op,
		}
		if step.Name != "" {
			m["name"] = step.Name
		}
		if step.Result != nil {
			m["result"] = step.Result
		}
		if step.Error != "" {
			m["error"] = step.Error
		}
		steps[i] = m
	}

	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"seq":  event.Seq,
			"type": event.Type,
		}
		if event.TxID != "" {
			m["tx_id"] = event.TxID
		}
		if event.Name != "" {
			m["name"] = event.Name
		}
		if len(event.Args) > 0 {
			m["args"] = value.Array(event.Args)
		}
		if event.Value != nil {
			m["value"] = event.Value
		}
		if event.Previous != nil {
			m["previous"] = event.Previous
		}
		trace[i] = m
	}

	state := s.State
	if state == nil {
		state = value.Object{}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"trace":         trace,
		"state":         state,
	}
}

// Canonical serializes the snapshot as canonical JSON.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return value.MarshalCanonical(s.toCanonicalMap())
}

// Snapshot builds the trace snapshot of result under name.
func Snapshot(name string, result *Result) *TraceSnapshot {
	return &TraceSnapshot{
		ScenarioName: name,
		Steps:        result.Steps,
		Trace:        result.Trace,
		State:        result.State,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against the golden
// file named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
