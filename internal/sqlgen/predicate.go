package sqlgen

import (
	"fmt"
	"math"
	"strings"

	"duck-bi/internal/domain"
)

var comparisonSQL = map[domain.FilterOperator]string{
	domain.OpEqual:        "=",
	domain.OpNotEqual:     "<>",
	domain.OpGreater:      ">",
	domain.OpGreaterEqual: ">=",
	domain.OpLess:         "<",
	domain.OpLessEqual:    "<=",
}

// Predicate renders the condition col <op> value, binding value into a.
// col must already be quoted. An empty in list matches nothing and an empty
// not in list matches everything. A comparison against a nil value matches
// nothing, following SQL null semantics.
func Predicate(a *Args, col string, op domain.FilterOperator, value any) (string, error) {
	switch op {
	case domain.OpIsNull:
		return col + " IS NULL", nil
	case domain.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case domain.OpIn, domain.OpNotIn:
		list, ok := value.([]any)
		if !ok && value != nil {
			return "", domain.ErrValidation("operator %q requires a list value", op)
		}
		if len(list) == 0 {
			if op == domain.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		marks := make([]string, len(list))
		for i, v := range list {
			marks[i] = a.Bind(BindValue(v))
		}
		kw := "IN"
		if op == domain.OpNotIn {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(marks, ", ")), nil
	case domain.OpContains, domain.OpStartsWith, domain.OpEndsWith:
		needle, ok := value.(string)
		if !ok {
			return "", domain.ErrValidation("operator %q requires a string value", op)
		}
		switch op {
		case domain.OpContains:
			return a.Dialect().Contains(col, a.Bind(needle)), nil
		case domain.OpStartsWith:
			n := a.Bind(needle)
			return fmt.Sprintf("substr(%s, 1, length(CAST(%s AS TEXT))) = %s", col, n, a.Bind(needle)), nil
		default:
			n := a.Bind(needle)
			return fmt.Sprintf("substr(%s, length(%s) - length(CAST(%s AS TEXT)) + 1) = %s", col, col, n, a.Bind(needle)), nil
		}
	}

	cmp, ok := comparisonSQL[op]
	if !ok {
		return "", domain.ErrValidation("unsupported filter operator %q", op)
	}
	if value == nil {
		return "1 = 0", nil
	}
	return col + " " + cmp + " " + a.Bind(BindValue(value)), nil
}

// BindValue turns whole JSON numbers into integers so integer columns compare
// exactly on every driver.
func BindValue(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}
