package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statekeeper/internal/value"
)

// To regenerate golden files:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden_TallyBasics(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/tally_basics.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestAssertGolden_ReusesResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/tally_basics.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "tally_basics", result))
}

func TestSnapshot_OmitsEmptyMembers(t *testing.T) {
	result := NewResult()
	result.AddStep(StepResult{Index: 0, Op: OpFlush})
	result.AddEvent(TraceEvent{Seq: 1, Type: "idle"})

	data, err := Snapshot("tiny", result).Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"tiny","state":{},"steps":[{"index":0,"op":"flush"}],"trace":[{"seq":1,"type":"idle"}]}`,
		string(data))
}

func TestSnapshot_KeepsNullValues(t *testing.T) {
	result := NewResult()
	result.AddEvent(TraceEvent{
		Seq:      3,
		TxID:     "tx-0002",
		Type:     "field",
		Name:     "last",
		Value:    value.String("x"),
		Previous: value.Null{},
	})

	data, err := Snapshot("nulls", result).Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(data),
		`{"name":"last","previous":null,"seq":3,"tx_id":"tx-0002","type":"field","value":"x"}`)
}
