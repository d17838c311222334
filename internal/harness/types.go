package harness

import (
	"github.com/roach88/statekeeper/internal/store"
	"github.com/roach88/statekeeper/internal/value"
)

// TraceEvent is one notification observed while running a scenario.
type TraceEvent struct {
	Seq      int64         `json:"seq"`
	TxID     string        `json:"tx_id,omitempty"`
	Type     string        `json:"type"`
	Name     string        `json:"name,omitempty"`
	Args     []value.Value `json:"args,omitempty"`
	Value    value.Value   `json:"value,omitempty"`
	Previous value.Value   `json:"previous,omitempty"`
}

// Key returns "type:name", or just the type for unnamed events.
// event_order assertions are written in this form.
func (e TraceEvent) Key() string {
	if e.Name == "" {
		return e.Type
	}
	return e.Type + ":" + e.Name
}

func traceEventFrom(ev store.Event) TraceEvent {
	return TraceEvent{
		Seq:      ev.Seq,
		TxID:     ev.TxID,
		Type:     string(ev.Type),
		Name:     ev.Name,
		Args:     ev.Args,
		Value:    ev.Value,
		Previous: ev.Previous,
	}
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index  int         `json:"index"`
	Op     string      `json:"op"`
	Name   string      `json:"name,omitempty"`
	Result value.Value `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Steps holds one entry per executed step, in order.
	Steps []StepResult `json:"steps"`

	// Trace contains every notification published by the steps, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the committed state after the last step.
	State value.Object `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  value.Object{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep records a step outcome.
func (r *Result) AddStep(sr StepResult) {
	r.Steps = append(r.Steps, sr)
}

// AddEvent appends a notification to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
