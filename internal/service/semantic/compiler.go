package semantic

import (
	"fmt"
	"strings"

	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// Compiler turns semantic query requests into one parameterized statement.
type Compiler struct {
	defaultLimit int
	maxLimit     int
}

// NewCompiler creates a Compiler. Non-positive limits fall back to the
// domain defaults.
func NewCompiler(defaultLimit, maxLimit int) *Compiler {
	if maxLimit <= 0 {
		maxLimit = domain.MaxQueryLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultQueryLimit
	}
	return &Compiler{defaultLimit: min(defaultLimit, maxLimit), maxLimit: maxLimit}
}

// Compile renders
//
//	SELECT dims, AGG(base) AS alias FROM <from> [WHERE ...] [GROUP BY dims] ORDER BY ... LIMIT n
//
// for the given entity. from is the already quoted relation the statement
// reads. Every filter value is bound as a parameter in dialect d.
func (c *Compiler) Compile(e *domain.Entity, req *domain.QueryRequest, d sqlgen.Dialect, from string) (*domain.CompiledQuery, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var selects, groupBy, columns []string
	seen := make(map[string]bool)
	addColumn := func(name string) error {
		if seen[name] {
			return domain.ErrValidation("duplicate output column %q", name)
		}
		seen[name] = true
		columns = append(columns, name)
		return nil
	}

	for _, id := range req.DimensionIDs {
		dim, ok := e.Dimension(id)
		if !ok {
			return nil, fieldNotFound(e, "dimension", id)
		}
		col := sqlgen.QuoteIdentifier(dim.SQLColumn)
		if err := addColumn(dim.SQLColumn); err != nil {
			return nil, err
		}
		selects = append(selects, col)
		groupBy = append(groupBy, col)
	}
	for _, id := range req.MeasureIDs {
		m, ok := e.Measure(id)
		if !ok {
			return nil, fieldNotFound(e, "measure", id)
		}
		expr, err := measureSQL(m)
		if err != nil {
			return nil, err
		}
		if err := addColumn(m.Alias()); err != nil {
			return nil, err
		}
		selects = append(selects, expr+" AS "+sqlgen.QuoteIdentifier(m.Alias()))
	}

	args := sqlgen.NewArgs(d)
	var where []string
	for _, f := range req.Filters {
		dim, ok := e.Dimension(f.DimensionID)
		if !ok {
			return nil, fieldNotFound(e, "filter dimension", f.DimensionID)
		}
		cond, err := filterSQL(dim, f, args)
		if err != nil {
			return nil, err
		}
		if cond != "" {
			where = append(where, cond)
		}
	}

	order, err := orderBy(e, req, groupBy)
	if err != nil {
		return nil, err
	}
	limit := c.limit(req.Limit)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(from)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}
	if len(order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)

	return &domain.CompiledQuery{
		SQL:     b.String(),
		Args:    args.Values(),
		Columns: columns,
		Limit:   limit,
	}, nil
}

func (c *Compiler) limit(requested *int) int {
	if requested == nil {
		return c.defaultLimit
	}
	return min(*requested, c.maxLimit)
}

func fieldNotFound(e *domain.Entity, kind, id string) error {
	return domain.ErrValidation("entity field not found: %s %q does not belong to entity %q", kind, id, e.Name)
}

func measureSQL(m *domain.Measure) (string, error) {
	col := "*"
	if strings.TrimSpace(m.BaseColumn) != "*" {
		col = sqlgen.QuoteIdentifier(m.BaseColumn)
	}
	switch m.AggregationFunction {
	case domain.MeasureCount:
		return "COUNT(" + col + ")", nil
	case domain.MeasureCountDistinct:
		if col == "*" {
			return "", domain.ErrValidation("measure %q: COUNT_DISTINCT requires a base column", m.Name)
		}
		return "COUNT(DISTINCT " + col + ")", nil
	case domain.MeasureSum, domain.MeasureAvg, domain.MeasureMin, domain.MeasureMax:
		if col == "*" {
			return "", domain.ErrValidation("measure %q: %s requires a base column", m.Name, m.AggregationFunction)
		}
		return string(m.AggregationFunction) + "(" + col + ")", nil
	}
	return "", domain.ErrValidation("measure %q: unsupported aggregation function %q", m.Name, m.AggregationFunction)
}

// filterSQL renders one WHERE fragment. An empty fragment means the filter
// has no value and is skipped.
func filterSQL(dim *domain.Dimension, f domain.QueryFilter, args *sqlgen.Args) (string, error) {
	if kind := domain.KindOf(dim.DataType); !domain.OperatorAllowed(f.Operator, kind) {
		return "", domain.ErrValidation("operator %q is not valid for %s dimension %q", f.Operator, kind, dim.Name)
	}
	if f.Value == nil && f.Operator.NeedsValue() {
		return "", nil
	}
	if _, ok := f.Value.(string); f.Operator.IsStringOp() && !ok {
		return "", domain.ErrValidation("operator %q on dimension %q requires a string value", f.Operator, dim.Name)
	}
	return sqlgen.Predicate(args, sqlgen.QuoteIdentifier(dim.SQLColumn), f.Operator, f.Value)
}

// orderBy resolves explicit orderings, defaulting to the grouped dimensions.
func orderBy(e *domain.Entity, req *domain.QueryRequest, dims []string) ([]string, error) {
	if len(req.OrderBy) == 0 {
		return dims, nil
	}
	selected := make(map[string]bool, len(req.DimensionIDs)+len(req.MeasureIDs))
	for _, id := range req.DimensionIDs {
		selected[id] = true
	}
	for _, id := range req.MeasureIDs {
		selected[id] = true
	}

	out := make([]string, 0, len(req.OrderBy))
	for _, o := range req.OrderBy {
		var expr string
		if dim, ok := e.Dimension(o.FieldID); ok {
			expr = sqlgen.QuoteIdentifier(dim.SQLColumn)
		} else if m, ok := e.Measure(o.FieldID); ok {
			expr = sqlgen.QuoteIdentifier(m.Alias())
		} else {
			return nil, fieldNotFound(e, "order_by field", o.FieldID)
		}
		if !selected[o.FieldID] {
			return nil, domain.ErrValidation("order_by field %q must also be selected", o.FieldID)
		}
		if o.Descending {
			expr += " DESC"
		}
		out = append(out, expr)
	}
	return out, nil
}
