package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-bi/internal/domain"
)

func TestParseFilterFlag(t *testing.T) {
	tests := []struct {
		in   string
		want domain.QueryFilter
	}{
		{"region == North", domain.QueryFilter{DimensionID: "region", Operator: domain.OpEqual, Value: "North"}},
		{"region = North", domain.QueryFilter{DimensionID: "region", Operator: domain.OpEqual, Value: "North"}},
		{"amount >= 10", domain.QueryFilter{DimensionID: "amount", Operator: domain.OpGreaterEqual, Value: float64(10)}},
		{"amount<5", domain.QueryFilter{}},
		{"amount < 5", domain.QueryFilter{DimensionID: "amount", Operator: domain.OpLess, Value: float64(5)}},
		{"region != South", domain.QueryFilter{DimensionID: "region", Operator: domain.OpNotEqual, Value: "South"}},
		{`region in ["North", "East"]`, domain.QueryFilter{DimensionID: "region", Operator: domain.OpIn, Value: []any{"North", "East"}}},
		{`region NOT IN ["x"]`, domain.QueryFilter{DimensionID: "region", Operator: domain.OpNotIn, Value: []any{"x"}}},
		{"region contains or", domain.QueryFilter{DimensionID: "region", Operator: domain.OpContains, Value: "or"}},
		{"region is null", domain.QueryFilter{DimensionID: "region", Operator: domain.OpIsNull}},
		{"region is not null", domain.QueryFilter{DimensionID: "region", Operator: domain.OpIsNotNull}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFilterFlag(tt.in)
			if tt.want.DimensionID == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilterFlag_Errors(t *testing.T) {
	for _, in := range []string{"", "region", "region ~ x", "region ==", "region is null x", "region inside x"} {
		t.Run(in, func(t *testing.T) {
			_, err := parseFilterFlag(in)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}
