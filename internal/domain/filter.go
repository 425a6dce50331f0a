package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FilterOperator is the closed set of comparison operators shared by pipeline
// filter steps and semantic query filters.
type FilterOperator string

// Supported filter operators.
const (
	OpEqual        FilterOperator = "=="
	OpNotEqual     FilterOperator = "!="
	OpGreater      FilterOperator = ">"
	OpGreaterEqual FilterOperator = ">="
	OpLess         FilterOperator = "<"
	OpLessEqual    FilterOperator = "<="
	OpIn           FilterOperator = "in"
	OpNotIn        FilterOperator = "not in"
	OpContains     FilterOperator = "contains"
	OpStartsWith   FilterOperator = "startswith"
	OpEndsWith     FilterOperator = "endswith"
	OpIsNull       FilterOperator = "is null"
	OpIsNotNull    FilterOperator = "is not null"
)

var filterOperators = map[FilterOperator]bool{
	OpEqual: true, OpNotEqual: true, OpGreater: true, OpGreaterEqual: true,
	OpLess: true, OpLessEqual: true, OpIn: true, OpNotIn: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpIsNull: true, OpIsNotNull: true,
}

// ParseFilterOperator normalizes and validates an operator string.
// "=" is accepted as an alias of "==".
func ParseFilterOperator(s string) (FilterOperator, error) {
	op := FilterOperator(strings.ToLower(strings.Join(strings.Fields(s), " ")))
	if op == "=" {
		op = OpEqual
	}
	if !filterOperators[op] {
		return "", ErrValidation("unsupported filter operator %q", s)
	}
	return op, nil
}

// UnmarshalJSON rejects operators outside the closed set.
func (o *FilterOperator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operator must be a string: %w", err)
	}
	op, err := ParseFilterOperator(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// NeedsValue reports whether the operator compares against a value.
func (o FilterOperator) NeedsValue() bool {
	return o != OpIsNull && o != OpIsNotNull
}

// IsListOp reports whether the operator takes a list value.
func (o FilterOperator) IsListOp() bool {
	return o == OpIn || o == OpNotIn
}

// IsStringOp reports whether the operator is a substring test.
func (o FilterOperator) IsStringOp() bool {
	return o == OpContains || o == OpStartsWith || o == OpEndsWith
}

// IsOrdering reports whether the operator is a range comparison.
func (o FilterOperator) IsOrdering() bool {
	return o == OpGreater || o == OpGreaterEqual || o == OpLess || o == OpLessEqual
}

// LogicalOperator combines all conditions of a filter step. Only a single flat
// AND or OR is supported; there is no per-condition grouping.
type LogicalOperator string

// Supported logical operators.
const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// UnmarshalJSON accepts "and"/"or" in any case.
func (l *LogicalOperator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("logical_operator must be a string: %w", err)
	}
	switch LogicalOperator(strings.ToUpper(strings.TrimSpace(s))) {
	case LogicalAnd, "":
		*l = LogicalAnd
	case LogicalOr:
		*l = LogicalOr
	default:
		return ErrValidation("logical_operator must be AND or OR, got %q", s)
	}
	return nil
}

// FilterCondition is one predicate of a filter step.
type FilterCondition struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value,omitempty"`
}

// Check verifies the condition is complete for its operator.
func (c FilterCondition) Check() error {
	if strings.TrimSpace(c.Column) == "" {
		return ErrValidation("filter condition column is required")
	}
	if !filterOperators[c.Operator] {
		return ErrValidation("unsupported filter operator %q", c.Operator)
	}
	if c.Operator.IsListOp() {
		if _, ok := c.Value.([]any); !ok {
			return ErrValidation("operator %q on column %q requires a list value", c.Operator, c.Column)
		}
	}
	if c.Operator.IsStringOp() {
		if _, ok := c.Value.(string); !ok {
			return ErrValidation("operator %q on column %q requires a string value", c.Operator, c.Column)
		}
	}
	return nil
}

// ColumnKind is the coarse type class used for operator checks.
type ColumnKind string

// Column kinds.
const (
	KindUnknown  ColumnKind = ""
	KindString   ColumnKind = "string"
	KindNumeric  ColumnKind = "numeric"
	KindBoolean  ColumnKind = "boolean"
	KindTemporal ColumnKind = "temporal"
)

// KindOf maps a declared SQL or catalog type name to a ColumnKind.
func KindOf(typeName string) ColumnKind {
	t := strings.ToLower(strings.TrimSpace(typeName))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "":
		return KindUnknown
	case "string", "text", "varchar", "char", "character", "character varying", "uuid", "enum", "name":
		return KindString
	case "int", "integer", "bigint", "smallint", "tinyint", "hugeint", "ubigint", "uinteger",
		"int2", "int4", "int8", "number", "numeric", "decimal", "real", "float", "float4", "float8",
		"double", "double precision", "serial", "bigserial":
		return KindNumeric
	case "bool", "boolean":
		return KindBoolean
	case "date", "time", "timestamp", "timestamptz", "datetime", "timestamp with time zone",
		"timestamp without time zone", "interval":
		return KindTemporal
	}
	return KindUnknown
}

// OperatorAllowed reports whether op may be applied to a column of kind k.
// Unknown kinds allow everything; the check is deferred to execution.
func OperatorAllowed(op FilterOperator, k ColumnKind) bool {
	switch k {
	case KindUnknown, KindString:
		return true
	case KindNumeric, KindTemporal:
		return !op.IsStringOp()
	case KindBoolean:
		return !op.IsStringOp() && !op.IsOrdering()
	}
	return true
}
