package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// Relation is the unevaluated output of a pipeline step: a query on one
// backend plus the columns it yields. Columns are tracked as steps compose so
// column references fail before any SQL is sent.
type Relation struct {
	columns []domain.ColumnSchema
	on      Backend
	query   sqlgen.Relation
}

// Columns returns the output columns.
func (r *Relation) Columns() []domain.ColumnSchema { return r.columns }

// Backend returns the backend the relation runs on.
func (r *Relation) Backend() Backend { return r.on }

// Statement renders the relation for its backend.
func (r *Relation) Statement() Statement {
	q, args := sqlgen.Render(r.on.Dialect(), r.query)
	return Statement{SQL: q, Args: args}
}

// Materialize runs the relation and returns its rows.
func (r *Relation) Materialize(ctx context.Context) (*domain.Dataset, error) {
	return r.on.Query(ctx, r.Statement())
}

// Count runs the relation and returns its row count.
func (r *Relation) Count(ctx context.Context) (int, error) {
	q, args := sqlgen.Render(r.on.Dialect(), sqlgen.Count(r.query))
	ds, err := r.on.Query(ctx, Statement{SQL: q, Args: args})
	if err != nil {
		return 0, err
	}
	if ds.Len() != 1 || len(ds.Rows[0]) != 1 {
		return 0, fmt.Errorf("count returned %d rows", ds.Len())
	}
	switch n := ds.Rows[0][0].(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("count returned %T", ds.Rows[0][0])
}

func (r *Relation) names() []string {
	out := make([]string, len(r.columns))
	for i, c := range r.columns {
		out[i] = c.Name
	}
	return out
}

func (r *Relation) column(name string) (domain.ColumnSchema, error) {
	for _, c := range r.columns {
		if c.Name == name {
			return c, nil
		}
	}
	return domain.ColumnSchema{}, domain.ErrSchema("column %q not found; available columns: %v", name, r.names())
}

// Engine composes pipeline steps into SQL. A step whose inputs all run on one
// backend whose dialect can express it is pushed down to that backend. Any
// other step, such as a join across data sources, runs in a Local DuckDB that
// its inputs are copied into. An Engine serves one run; Close releases the
// Local database.
type Engine struct {
	mu    sync.Mutex
	local *Local
}

// NewEngine creates an Engine.
func NewEngine() *Engine { return &Engine{} }

// Close releases the Local database if one was opened.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return nil
	}
	err := e.local.Close()
	e.local = nil
	return err
}

func (e *Engine) localDB(ctx context.Context) (*Local, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		l, err := OpenLocal(ctx)
		if err != nil {
			return nil, err
		}
		e.local = l
	}
	return e.local, nil
}

// colocate returns a backend able to evaluate an operation over ins together
// with each input's query on that backend. supports reports whether a
// dialect can express the operation.
func (e *Engine) colocate(ctx context.Context, ins []*Relation, supports func(sqlgen.Dialect) bool) (Backend, []sqlgen.Relation, error) {
	queries := make([]sqlgen.Relation, len(ins))
	on := ins[0].on
	shared := true
	for _, in := range ins[1:] {
		if in.on != on {
			shared = false
			break
		}
	}
	if shared && supports(on.Dialect()) {
		for i, in := range ins {
			queries[i] = in.query
		}
		return on, queries, nil
	}

	local, err := e.localDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i, in := range ins {
		if in.on == Backend(local) {
			queries[i] = in.query
			continue
		}
		ds, err := in.Materialize(ctx)
		if err != nil {
			return nil, nil, err
		}
		name, err := local.Load(ctx, ds, in.columns)
		if err != nil {
			return nil, nil, err
		}
		queries[i] = sqlgen.Table(sqlgen.QuoteIdentifier(name))
	}
	return local, queries, nil
}

func always(sqlgen.Dialect) bool { return true }

// Source reads a table with the column projection and row limit pushed down.
func (e *Engine) Source(ctx context.Context, b Backend, req SourceRequest) (*Relation, error) {
	if req.Table == "" {
		return nil, domain.ErrValidation("table_name is required")
	}
	all, err := b.Describe(ctx, req.Schema, req.Table)
	if err != nil {
		return nil, err
	}
	src := &Relation{columns: all, on: b}
	cols := all
	if len(req.Columns) > 0 {
		cols = make([]domain.ColumnSchema, len(req.Columns))
		for i, name := range req.Columns {
			if cols[i], err = src.column(name); err != nil {
				return nil, err
			}
		}
		if err := checkUnique(req.Columns); err != nil {
			return nil, err
		}
	}
	src.columns = cols
	src.query = sqlgen.Scan(req.Columns, b.From(req.Schema, req.Table), req.Limit)
	return src, nil
}

// Filter keeps the rows matching all (AND) or any (OR) of the conditions.
// String operators are case-sensitive and apply to string columns only;
// applying them, or a range comparison, to an incompatible column is a
// SchemaError.
func (e *Engine) Filter(ctx context.Context, in *Relation, conds []domain.FilterCondition, logical domain.LogicalOperator) (*Relation, error) {
	for _, c := range conds {
		if err := c.Check(); err != nil {
			return nil, err
		}
		col, err := in.column(c.Column)
		if err != nil {
			return nil, err
		}
		if err := checkOperand(c, domain.KindOf(col.Type)); err != nil {
			return nil, err
		}
	}
	on, q, err := e.colocate(ctx, []*Relation{in}, always)
	if err != nil {
		return nil, err
	}
	where, err := sqlgen.Where(on.Dialect(), q[0], conds, logical)
	if err != nil {
		return nil, err
	}
	return &Relation{columns: in.columns, on: on, query: where}, nil
}

// checkOperand rejects conditions the column's kind cannot satisfy.
func checkOperand(c domain.FilterCondition, kind domain.ColumnKind) error {
	if !domain.OperatorAllowed(c.Operator, kind) {
		return domain.ErrSchema("operator %q cannot be applied to %s column %q", c.Operator, kind, c.Column)
	}
	if !c.Operator.IsOrdering() || c.Value == nil {
		return nil
	}
	var numeric bool
	switch c.Value.(type) {
	case float64, int64, int:
		numeric = true
	}
	if (kind == domain.KindNumeric && !numeric) || (kind == domain.KindString && numeric) {
		return domain.ErrSchema("operator %q cannot compare %s column %q with %v", c.Operator, kind, c.Column, c.Value)
	}
	return nil
}

// Join combines two relations on one key column each.
//
// Output columns are the left columns followed by the right columns. When
// both keys share a name the key appears once, holding whichever side's value
// is present. Any other name present on both sides is suffixed on both sides.
// Inner, left and outer joins follow left row order, and outer joins append
// unmatched right rows afterwards. Right joins follow right row order.
func (e *Engine) Join(ctx context.Context, left, right *Relation, c *domain.JoinConfig) (*Relation, error) {
	lk, err := left.column(c.LeftOn)
	if err != nil {
		return nil, err
	}
	if _, err := right.column(c.RightOn); err != nil {
		return nil, err
	}
	sharedKey := c.LeftOn == c.RightOn

	rightNames := make(map[string]bool, len(right.columns))
	for _, col := range right.columns {
		if sharedKey && col.Name == c.RightOn {
			continue
		}
		rightNames[col.Name] = true
	}
	leftNames := make(map[string]bool, len(left.columns))
	for _, col := range left.columns {
		leftNames[col.Name] = true
	}

	var (
		out     []domain.ColumnSchema
		outCols []sqlgen.JoinColumn
		names   []string
	)
	for _, col := range left.columns {
		jc := sqlgen.JoinColumn{Left: col.Name, As: col.Name}
		switch {
		case sharedKey && col.Name == lk.Name:
			jc.Right = c.RightOn
		case rightNames[col.Name]:
			jc.As += c.SuffixLeft
		}
		outCols = append(outCols, jc)
		out = append(out, domain.ColumnSchema{Name: jc.As, Type: col.Type})
		names = append(names, jc.As)
	}
	for _, col := range right.columns {
		if sharedKey && col.Name == c.RightOn {
			continue
		}
		jc := sqlgen.JoinColumn{Right: col.Name, As: col.Name}
		if leftNames[col.Name] {
			jc.As += c.SuffixRight
		}
		outCols = append(outCols, jc)
		out = append(out, domain.ColumnSchema{Name: jc.As, Type: col.Type})
		names = append(names, jc.As)
	}
	if err := checkUnique(names); err != nil {
		return nil, err
	}

	on, q, err := e.colocate(ctx, []*Relation{left, right}, always)
	if err != nil {
		return nil, err
	}
	return &Relation{
		columns: out,
		on:      on,
		query: sqlgen.Join(q[0], q[1], sqlgen.JoinSpec{
			Type:     c.JoinType,
			LeftKey:  c.LeftOn,
			RightKey: c.RightOn,
			Columns:  outCols,
		}),
	}, nil
}

// Aggregate groups rows by the groupBy columns and computes one output column
// per aggregation. Groups are emitted in ascending key order; null keys form
// their own group and sort last. Without groupBy the whole input is one group
// and exactly one row is produced.
//
// count counts every row of the group; the other functions skip nulls and
// return null when no non-null value remains. std and var use the sample
// estimator. Functions the input's engine lacks run in the Local database.
func (e *Engine) Aggregate(ctx context.Context, in *Relation, groupBy []string, aggs []domain.Aggregation) (*Relation, error) {
	var out []domain.ColumnSchema
	names := slices.Clone(groupBy)
	for _, g := range groupBy {
		col, err := in.column(g)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	for _, a := range aggs {
		col, err := in.column(a.Column)
		if err != nil {
			return nil, err
		}
		typ := "DOUBLE"
		switch a.Function {
		case domain.AggCount:
			typ = "BIGINT"
		case domain.AggMin, domain.AggMax:
			typ = col.Type
		default:
			if k := domain.KindOf(col.Type); k != domain.KindNumeric && k != domain.KindUnknown {
				return nil, domain.ErrSchema("%s of column %q requires numeric values, column is %s", a.Function, a.Column, k)
			}
		}
		out = append(out, domain.ColumnSchema{Name: a.OutputName(), Type: typ})
		names = append(names, a.OutputName())
	}
	if err := checkUnique(names); err != nil {
		return nil, err
	}

	supports := func(d sqlgen.Dialect) bool {
		for _, a := range aggs {
			if _, ok := d.Aggregate(a.Function, sqlgen.QuoteIdentifier(a.Column)); !ok {
				return false
			}
		}
		return true
	}
	on, q, err := e.colocate(ctx, []*Relation{in}, supports)
	if err != nil {
		return nil, err
	}
	measures := make([]sqlgen.Measure, len(aggs))
	for i, a := range aggs {
		expr, _ := on.Dialect().Aggregate(a.Function, sqlgen.QuoteIdentifier(a.Column))
		measures[i] = sqlgen.Measure{Expr: expr, Alias: a.OutputName()}
	}
	return &Relation{columns: out, on: on, query: sqlgen.GroupBy(q[0], groupBy, measures)}, nil
}

// Select projects columns in the given order and applies renames. Renaming a
// column that is not selected is a SchemaError.
func (e *Engine) Select(ctx context.Context, in *Relation, columns []string, rename map[string]string) (*Relation, error) {
	out := make([]domain.ColumnSchema, len(columns))
	proj := make([]sqlgen.Column, len(columns))
	names := make([]string, len(columns))
	selected := make(map[string]bool, len(columns))
	for i, c := range columns {
		col, err := in.column(c)
		if err != nil {
			return nil, err
		}
		names[i] = c
		if to, ok := rename[c]; ok && to != "" {
			names[i] = to
		}
		proj[i] = sqlgen.Column{Name: c, As: names[i]}
		out[i] = domain.ColumnSchema{Name: names[i], Type: col.Type}
		selected[c] = true
	}
	for from := range rename {
		if !selected[from] {
			return nil, domain.ErrSchema("rename refers to column %q which is not selected", from)
		}
	}
	if err := checkUnique(names); err != nil {
		return nil, err
	}
	on, q, err := e.colocate(ctx, []*Relation{in}, always)
	if err != nil {
		return nil, err
	}
	return &Relation{columns: out, on: on, query: sqlgen.Project(q[0], proj)}, nil
}

// Sort orders rows by the columns, each ascending or descending. The sort is
// stable and nulls are placed last in either direction.
func (e *Engine) Sort(ctx context.Context, in *Relation, columns []string, ascending []bool) (*Relation, error) {
	if len(ascending) != len(columns) {
		return nil, domain.ErrValidation("ascending has %d entries for %d columns", len(ascending), len(columns))
	}
	keys := make([]sqlgen.Order, len(columns))
	for i, c := range columns {
		if _, err := in.column(c); err != nil {
			return nil, err
		}
		keys[i] = sqlgen.Order{Column: c, Descending: !ascending[i]}
	}
	on, q, err := e.colocate(ctx, []*Relation{in}, always)
	if err != nil {
		return nil, err
	}
	return &Relation{columns: in.columns, on: on, query: sqlgen.OrderBy(q[0], in.names(), keys)}, nil
}

// Union concatenates relations that share the same set of column names.
// Column order follows the first relation. With dedup, exact duplicate rows
// after the first occurrence are dropped.
func (e *Engine) Union(ctx context.Context, ins []*Relation, dedup bool) (*Relation, error) {
	if len(ins) < 2 {
		return nil, domain.ErrValidation("union requires at least two sources, got %d", len(ins))
	}
	first := ins[0]
	for n, in := range ins {
		if len(in.columns) != len(first.columns) {
			return nil, domain.ErrSchema("union input %d has columns %v, expected %v", n, in.names(), first.names())
		}
		for _, c := range first.columns {
			if _, err := in.column(c.Name); err != nil {
				return nil, domain.ErrSchema("union input %d has columns %v, expected %v", n, in.names(), first.names())
			}
		}
	}
	on, q, err := e.colocate(ctx, ins, always)
	if err != nil {
		return nil, err
	}
	return &Relation{columns: first.columns, on: on, query: sqlgen.Union(q, first.names(), dedup)}, nil
}

func checkUnique(cols []string) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			return domain.ErrSchema("duplicate output column %q", c)
		}
		seen[c] = true
	}
	return nil
}
