package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StepType identifies the transformation a pipeline step performs.
type StepType string

// Step types.
const (
	StepSource    StepType = "source"
	StepFilter    StepType = "filter"
	StepJoin      StepType = "join"
	StepAggregate StepType = "aggregate"
	StepSelect    StepType = "select"
	StepSort      StepType = "sort"
	StepUnion     StepType = "union"
)

// PreviousAlias may be used as a join's left_source to mean the output of the
// step immediately before the join.
const PreviousAlias = "previous"

// Step is one node of a pipeline definition.
type Step struct {
	Order       int        `json:"order"`
	Type        StepType   `json:"type"`
	Name        string     `json:"name"`
	Config      StepConfig `json:"config"`
	OutputAlias string     `json:"output_alias,omitempty"`
}

// UnmarshalJSON decodes a step and its type-specific config.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		Order       *int            `json:"order"`
		Type        StepType        `json:"type"`
		Name        string          `json:"name"`
		Config      json.RawMessage `json:"config"`
		OutputAlias string          `json:"output_alias"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrValidation("invalid step: %v", err)
	}
	if raw.Order == nil {
		return ErrValidation("step %q: order is required", raw.Name)
	}
	cfg, err := ParseStepConfig(raw.Type, raw.Config)
	if err != nil {
		return ErrValidation("step %d (%s): %v", *raw.Order, raw.Name, err)
	}
	*s = Step{
		Order:       *raw.Order,
		Type:        raw.Type,
		Name:        raw.Name,
		Config:      cfg,
		OutputAlias: raw.OutputAlias,
	}
	return nil
}

// DisplayName returns the step name, falling back to "<type> <order>".
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s %d", s.Type, s.Order)
}

// StepConfig is the closed set of per-type step configurations.
// Implementations live in this package only.
type StepConfig interface {
	StepType() StepType
	// Problems returns every structural defect of the config.
	Problems() []string
	sealed()
}

// ParseStepConfig decodes raw into the config type selected by t. Unknown
// fields and unknown enum values are rejected; defaults are applied.
func ParseStepConfig(t StepType, raw json.RawMessage) (StepConfig, error) {
	var cfg StepConfig
	switch t {
	case StepSource:
		cfg = &SourceConfig{}
	case StepFilter:
		cfg = &FilterConfig{}
	case StepJoin:
		cfg = &JoinConfig{}
	case StepAggregate:
		cfg = &AggregateConfig{}
	case StepSelect:
		cfg = &SelectConfig{}
	case StepSort:
		cfg = &SortConfig{}
	case StepUnion:
		cfg = &UnionConfig{}
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", t, err)
	}
	if d, ok := cfg.(interface{ applyDefaults() }); ok {
		d.applyDefaults()
	}
	return cfg, nil
}

// SourceConfig loads a table or file from a data source.
type SourceConfig struct {
	DataSourceID string   `json:"data_source_id"`
	TableName    string   `json:"table_name"`
	SchemaName   string   `json:"schema_name,omitempty"`
	Columns      []string `json:"columns,omitempty"`
}

func (*SourceConfig) StepType() StepType { return StepSource }
func (*SourceConfig) sealed()            {}

// Problems implements StepConfig.
func (c *SourceConfig) Problems() []string {
	var p []string
	if strings.TrimSpace(c.DataSourceID) == "" {
		p = append(p, "data_source_id is required")
	}
	if strings.TrimSpace(c.TableName) == "" {
		p = append(p, "table_name is required")
	}
	return p
}

// FilterConfig keeps rows matching all (AND) or any (OR) conditions.
type FilterConfig struct {
	Input           string            `json:"input,omitempty"`
	Conditions      []FilterCondition `json:"conditions"`
	LogicalOperator LogicalOperator   `json:"logical_operator,omitempty"`
}

func (*FilterConfig) StepType() StepType { return StepFilter }
func (*FilterConfig) sealed()            {}

func (c *FilterConfig) applyDefaults() {
	if c.LogicalOperator == "" {
		c.LogicalOperator = LogicalAnd
	}
}

// Problems implements StepConfig.
func (c *FilterConfig) Problems() []string {
	var p []string
	if len(c.Conditions) == 0 {
		p = append(p, "at least one condition is required")
	}
	for _, cond := range c.Conditions {
		if err := cond.Check(); err != nil {
			p = append(p, err.Error())
		}
	}
	return p
}

// JoinType is the closed set of join kinds.
type JoinType string

// Join types.
const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinOuter JoinType = "outer"
)

// UnmarshalJSON accepts "full" as a synonym of "outer".
func (j *JoinType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("join_type must be a string: %w", err)
	}
	switch v := JoinType(strings.ToLower(strings.TrimSpace(s))); v {
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
		*j = v
	case "full", "full outer":
		*j = JoinOuter
	case "":
		*j = JoinInner
	default:
		return fmt.Errorf("unsupported join_type %q", s)
	}
	return nil
}

// JoinConfig joins two earlier datasets on a single key column each.
type JoinConfig struct {
	LeftSource  string   `json:"left_source"`
	RightSource string   `json:"right_source"`
	JoinType    JoinType `json:"join_type,omitempty"`
	LeftOn      string   `json:"left_on"`
	RightOn     string   `json:"right_on"`
	SuffixLeft  string   `json:"suffix_left,omitempty"`
	SuffixRight string   `json:"suffix_right,omitempty"`
}

func (*JoinConfig) StepType() StepType { return StepJoin }
func (*JoinConfig) sealed()            {}

func (c *JoinConfig) applyDefaults() {
	if c.JoinType == "" {
		c.JoinType = JoinInner
	}
	if c.SuffixLeft == "" {
		c.SuffixLeft = "_left"
	}
	if c.SuffixRight == "" {
		c.SuffixRight = "_right"
	}
}

// Problems implements StepConfig.
func (c *JoinConfig) Problems() []string {
	var p []string
	if strings.TrimSpace(c.LeftSource) == "" || strings.TrimSpace(c.RightSource) == "" {
		p = append(p, "join requires exactly two inputs: left_source and right_source")
	}
	if strings.TrimSpace(c.LeftOn) == "" || strings.TrimSpace(c.RightOn) == "" {
		p = append(p, "join requires left_on and right_on")
	}
	if c.SuffixLeft == c.SuffixRight {
		p = append(p, "suffix_left and suffix_right must differ")
	}
	return p
}

// AggFunc is the closed set of aggregate functions for pipeline steps.
type AggFunc string

// Aggregate functions.
const (
	AggSum    AggFunc = "sum"
	AggMean   AggFunc = "mean"
	AggMedian AggFunc = "median"
	AggMin    AggFunc = "min"
	AggMax    AggFunc = "max"
	AggCount  AggFunc = "count"
	AggStd    AggFunc = "std"
	AggVar    AggFunc = "var"
)

// UnmarshalJSON rejects unknown functions; "avg" is read as "mean".
func (f *AggFunc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("function must be a string: %w", err)
	}
	switch v := AggFunc(strings.ToLower(strings.TrimSpace(s))); v {
	case AggSum, AggMean, AggMedian, AggMin, AggMax, AggCount, AggStd, AggVar:
		*f = v
	case "avg":
		*f = AggMean
	default:
		return fmt.Errorf("unsupported aggregate function %q", s)
	}
	return nil
}

// Aggregation is one output column of an aggregate step.
type Aggregation struct {
	Column   string  `json:"column"`
	Function AggFunc `json:"function"`
	Alias    string  `json:"alias,omitempty"`
}

// OutputName returns the alias or the default "<column>_<function>".
func (a Aggregation) OutputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Column + "_" + string(a.Function)
}

// AggregateConfig groups rows and computes aggregations per group.
type AggregateConfig struct {
	Input        string        `json:"input,omitempty"`
	GroupBy      []string      `json:"group_by,omitempty"`
	Aggregations []Aggregation `json:"aggregations"`
}

func (*AggregateConfig) StepType() StepType { return StepAggregate }
func (*AggregateConfig) sealed()            {}

// Problems implements StepConfig.
func (c *AggregateConfig) Problems() []string {
	var p []string
	if len(c.Aggregations) == 0 {
		p = append(p, "at least one aggregation is required")
	}
	seen := make(map[string]bool, len(c.GroupBy)+len(c.Aggregations))
	for _, g := range c.GroupBy {
		seen[g] = true
	}
	for _, a := range c.Aggregations {
		if strings.TrimSpace(a.Column) == "" {
			p = append(p, "aggregation column is required")
			continue
		}
		if a.Function == "" {
			p = append(p, fmt.Sprintf("aggregation on %q is missing a function", a.Column))
		}
		name := a.OutputName()
		if seen[name] {
			p = append(p, fmt.Sprintf("duplicate output column %q", name))
		}
		seen[name] = true
	}
	return p
}

// SelectConfig projects and optionally renames columns.
type SelectConfig struct {
	Input   string            `json:"input,omitempty"`
	Columns []string          `json:"columns"`
	Rename  map[string]string `json:"rename,omitempty"`
}

func (*SelectConfig) StepType() StepType { return StepSelect }
func (*SelectConfig) sealed()            {}

// Problems implements StepConfig.
func (c *SelectConfig) Problems() []string {
	if len(c.Columns) == 0 {
		return []string{"at least one column is required"}
	}
	return nil
}

// SortConfig orders rows by one or more columns.
type SortConfig struct {
	Input     string   `json:"input,omitempty"`
	Columns   []string `json:"columns"`
	Ascending []bool   `json:"ascending,omitempty"`
}

func (*SortConfig) StepType() StepType { return StepSort }
func (*SortConfig) sealed()            {}

func (c *SortConfig) applyDefaults() {
	if len(c.Ascending) == 0 {
		c.Ascending = make([]bool, len(c.Columns))
		for i := range c.Ascending {
			c.Ascending[i] = true
		}
	}
}

// Problems implements StepConfig.
func (c *SortConfig) Problems() []string {
	var p []string
	if len(c.Columns) == 0 {
		p = append(p, "at least one sort column is required")
	}
	if len(c.Ascending) != len(c.Columns) {
		p = append(p, fmt.Sprintf("ascending has %d entries for %d columns", len(c.Ascending), len(c.Columns)))
	}
	return p
}

// UnionConfig concatenates two or more datasets with the same column set.
type UnionConfig struct {
	Sources          []string `json:"sources"`
	RemoveDuplicates *bool    `json:"remove_duplicates,omitempty"`
}

func (*UnionConfig) StepType() StepType { return StepUnion }
func (*UnionConfig) sealed()            {}

func (c *UnionConfig) applyDefaults() {
	if c.RemoveDuplicates == nil {
		v := true
		c.RemoveDuplicates = &v
	}
}

// Dedup reports whether exact duplicate rows are dropped.
func (c *UnionConfig) Dedup() bool {
	return c.RemoveDuplicates == nil || *c.RemoveDuplicates
}

// Problems implements StepConfig.
func (c *UnionConfig) Problems() []string {
	if len(c.Sources) < 2 {
		return []string{fmt.Sprintf("union requires at least two sources, got %d", len(c.Sources))}
	}
	return nil
}

// InputOf returns the explicit single input alias of a config, if it has one.
func InputOf(cfg StepConfig) string {
	switch c := cfg.(type) {
	case *FilterConfig:
		return c.Input
	case *AggregateConfig:
		return c.Input
	case *SelectConfig:
		return c.Input
	case *SortConfig:
		return c.Input
	}
	return ""
}
