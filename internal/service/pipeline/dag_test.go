package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-bi/internal/domain"
)

func planned(order int, alias string, inputs ...string) PlannedStep {
	return PlannedStep{Step: domain.Step{Order: order}, Alias: alias, Inputs: inputs}
}

func TestResolveExecutionOrder(t *testing.T) {
	tests := []struct {
		name       string
		steps      []PlannedStep
		wantLevels [][]int
		wantErr    bool
		errType    any // expected error type target for assert.ErrorAs
	}{
		{
			name:       "single_source",
			steps:      []PlannedStep{planned(0, "a")},
			wantLevels: [][]int{{0}},
		},
		{
			name: "linear_chain",
			steps: []PlannedStep{
				planned(0, "a"),
				planned(1, "b", "a"),
				planned(2, "c", "b"),
			},
			wantLevels: [][]int{{0}, {1}, {2}},
		},
		{
			name: "two_sources_then_join",
			steps: []PlannedStep{
				planned(0, "orders"),
				planned(1, "customers"),
				planned(2, "joined", "orders", "customers"),
			},
			wantLevels: [][]int{{0, 1}, {2}},
		},
		{
			name: "diamond",
			steps: []PlannedStep{
				planned(0, "src"),
				planned(1, "north", "src"),
				planned(2, "south", "src"),
				planned(3, "all", "north", "south"),
			},
			wantLevels: [][]int{{0}, {1, 2}, {3}},
		},
		{
			name: "self_join_counts_once",
			steps: []PlannedStep{
				planned(0, "a"),
				planned(1, "b", "a", "a"),
			},
			wantLevels: [][]int{{0}, {1}},
		},
		{
			name: "unknown_alias",
			steps: []PlannedStep{
				planned(0, "a", "nope"),
			},
			wantErr: true,
			errType: new(*domain.ValidationError),
		},
		{
			name: "cycle_detected",
			steps: []PlannedStep{
				planned(0, "a", "b"),
				planned(1, "b", "a"),
			},
			wantErr: true,
			errType: new(*domain.ValidationError),
		},
		{
			name:  "empty",
			steps: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := ResolveExecutionOrder(tt.steps)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorAs(t, err, tt.errType)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantLevels, levels)
		})
	}
}
