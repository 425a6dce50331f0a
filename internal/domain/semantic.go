package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Query limits.
const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 100000
)

// MeasureFunc is the closed set of SQL aggregate functions a measure may use.
type MeasureFunc string

// Measure functions.
const (
	MeasureSum           MeasureFunc = "SUM"
	MeasureAvg           MeasureFunc = "AVG"
	MeasureCount         MeasureFunc = "COUNT"
	MeasureCountDistinct MeasureFunc = "COUNT_DISTINCT"
	MeasureMin           MeasureFunc = "MIN"
	MeasureMax           MeasureFunc = "MAX"
)

// ParseMeasureFunc normalizes and validates a measure function name.
func ParseMeasureFunc(s string) (MeasureFunc, error) {
	f := MeasureFunc(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	switch f {
	case MeasureSum, MeasureAvg, MeasureCount, MeasureCountDistinct, MeasureMin, MeasureMax:
		return f, nil
	case "MEAN", "AVERAGE":
		return MeasureAvg, nil
	}
	return "", ErrValidation("unsupported measure function %q", s)
}

// UnmarshalJSON rejects unknown functions.
func (f *MeasureFunc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("aggregation_function must be a string: %w", err)
	}
	v, err := ParseMeasureFunc(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Entity is a business object mapped onto one table of a data source.
type Entity struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	DataSourceID string      `json:"data_source_id"`
	PrimaryTable string      `json:"primary_table"`
	Dimensions   []Dimension `json:"dimensions"`
	Measures     []Measure   `json:"measures"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Dimension is a groupable, filterable attribute of an entity.
type Dimension struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SQLColumn string `json:"sql_column"`
	DataType  string `json:"data_type,omitempty"`
}

// Measure is an aggregated numeric metric of an entity.
type Measure struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	AggregationFunction MeasureFunc `json:"aggregation_function"`
	BaseColumn          string      `json:"base_column"`
}

// Alias returns the output column name: the lower-cased measure name with
// spaces replaced by underscores.
func (m Measure) Alias() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m.Name)), " ", "_")
}

// Dimension returns the dimension with the given id.
func (e *Entity) Dimension(id string) (*Dimension, bool) {
	for i := range e.Dimensions {
		if e.Dimensions[i].ID == id {
			return &e.Dimensions[i], true
		}
	}
	return nil, false
}

// Measure returns the measure with the given id.
func (e *Entity) Measure(id string) (*Measure, bool) {
	for i := range e.Measures {
		if e.Measures[i].ID == id {
			return &e.Measures[i], true
		}
	}
	return nil, false
}

// QueryFilter restricts a semantic query on one dimension.
type QueryFilter struct {
	DimensionID string         `json:"dimension_id"`
	Operator    FilterOperator `json:"operator"`
	Value       any            `json:"value,omitempty"`
}

// QueryOrder orders a semantic query by a dimension or measure id.
type QueryOrder struct {
	FieldID    string `json:"field_id"`
	Descending bool   `json:"descending,omitempty"`
}

// QueryRequest selects dimensions and measures of an entity.
type QueryRequest struct {
	EntityID     string        `json:"entity_id"`
	DimensionIDs []string      `json:"dimension_ids,omitempty"`
	MeasureIDs   []string      `json:"measure_ids"`
	Filters      []QueryFilter `json:"filters,omitempty"`
	OrderBy      []QueryOrder  `json:"order_by,omitempty"`
	Limit        *int          `json:"limit,omitempty"`
}

// Validate checks that the request is well-formed.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.EntityID) == "" {
		return ErrValidation("entity_id is required")
	}
	if len(r.MeasureIDs) == 0 {
		return ErrValidation("at least one measure is required")
	}
	if r.Limit != nil && *r.Limit < 1 {
		return ErrValidation("limit must be positive")
	}
	for _, f := range r.Filters {
		if f.DimensionID == "" {
			return ErrValidation("filter dimension_id is required")
		}
		if f.Operator.IsListOp() && f.Value != nil {
			if _, ok := f.Value.([]any); !ok {
				return ErrValidation("operator %q requires a list value", f.Operator)
			}
		}
	}
	return nil
}

// CompiledQuery is a parameterized statement produced from a QueryRequest.
type CompiledQuery struct {
	SQL     string
	Args    []any
	Columns []string
	Limit   int
}

// QueryResponse is the caller-facing shape of a semantic query result.
type QueryResponse struct {
	Columns      []string         `json:"columns"`
	Data         []map[string]any `json:"data"`
	RowCount     int              `json:"row_count"`
	GeneratedSQL string           `json:"generated_sql"`
	EntityName   string           `json:"entity_name"`

	// ExecutionTime is the wall time of the query in seconds.
	ExecutionTime float64 `json:"execution_time"`
}

// ExplainResponse describes a compiled query without running it.
type ExplainResponse struct {
	SQL        string   `json:"sql"`
	Args       []any    `json:"args"`
	Columns    []string `json:"columns"`
	EntityName string   `json:"entity_name"`
	DataSource string   `json:"data_source_id"`
}

// CreateEntityRequest holds parameters for registering an entity.
type CreateEntityRequest struct {
	ID           string
	Name         string
	Description  string
	DataSourceID string
	PrimaryTable string
	Dimensions   []Dimension
	Measures     []Measure
}

// Validate checks that the request is well-formed.
func (r *CreateEntityRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("name is required")
	}
	if r.DataSourceID == "" {
		return ErrValidation("data_source_id is required")
	}
	if r.PrimaryTable == "" {
		return ErrValidation("primary_table is required")
	}
	for _, d := range r.Dimensions {
		if d.Name == "" || d.SQLColumn == "" {
			return ErrValidation("dimension requires name and sql_column")
		}
	}
	for _, m := range r.Measures {
		if m.Name == "" || m.BaseColumn == "" {
			return ErrValidation("measure requires name and base_column")
		}
		if _, err := ParseMeasureFunc(string(m.AggregationFunction)); err != nil {
			return err
		}
	}
	return nil
}
