package sqlgen

import (
	"strconv"
	"strings"

	"duck-bi/internal/domain"
)

// Relation renders a query, binding its arguments into a in textual order.
// Relations compose by rendering their inputs as subqueries, so the arguments
// of an input always precede those of the relation reading it.
type Relation func(a *Args) string

// Render renders r for dialect d.
func Render(d Dialect, r Relation) (string, []any) {
	a := NewArgs(d)
	q := r(a)
	return q, a.Values()
}

// Helper columns used to keep input order through window functions. They
// never appear in the output of a relation.
const (
	rowColumn   = "__duckbi_row"
	srcColumn   = "__duckbi_src"
	dupColumn   = "__duckbi_dup"
	leftColumn  = "__duckbi_l"
	rightColumn = "__duckbi_r"
)

func subquery(r Relation, a *Args, alias string) string {
	return "(" + r(a) + ") AS " + QuoteIdentifier(alias)
}

// numbered renders r with a row number column appended in input order.
func numbered(r Relation, a *Args, rowCol, alias string) string {
	return "(SELECT *, ROW_NUMBER() OVER () AS " + QuoteIdentifier(rowCol) + " FROM " + subquery(r, a, "t") + ") AS " + QuoteIdentifier(alias)
}

// Table reads every row of a table or table function expression.
func Table(from string) Relation {
	return func(*Args) string { return "SELECT * FROM " + from }
}

// Scan reads columns of from, at most limit rows when limit is positive.
func Scan(columns []string, from string, limit int) Relation {
	return func(*Args) string { return SelectFrom(columns, from, limit) }
}

// Count counts the rows of in.
func Count(in Relation) Relation {
	return func(a *Args) string {
		return "SELECT COUNT(*) AS " + QuoteIdentifier("n") + " FROM " + subquery(in, a, "t")
	}
}

// Where keeps the rows of in matching every condition, or any condition when
// logical is OR. Conditions are checked while building so that rendering
// cannot fail.
func Where(d Dialect, in Relation, conds []domain.FilterCondition, logical domain.LogicalOperator) (Relation, error) {
	for _, c := range conds {
		if _, err := Predicate(NewArgs(d), QuoteIdentifier(c.Column), c.Operator, c.Value); err != nil {
			return nil, err
		}
	}
	if len(conds) == 0 {
		return in, nil
	}
	sep := " AND "
	if logical == domain.LogicalOr {
		sep = " OR "
	}
	return func(a *Args) string {
		from := subquery(in, a, "t")
		parts := make([]string, len(conds))
		for i, c := range conds {
			p, _ := Predicate(a, QuoteIdentifier(c.Column), c.Operator, c.Value)
			parts[i] = "(" + p + ")"
		}
		return "SELECT * FROM " + from + " WHERE " + strings.Join(parts, sep)
	}, nil
}

// Measure is an aggregate expression and its output name.
type Measure struct {
	Expr  string
	Alias string
}

// GroupBy aggregates in by keys. Groups are ordered by key with nulls last.
// Without keys the whole input is one group.
func GroupBy(in Relation, keys []string, measures []Measure) Relation {
	selects := make([]string, 0, len(keys)+len(measures))
	order := make([]string, len(keys))
	for i, k := range keys {
		selects = append(selects, QuoteIdentifier(k))
		order[i] = QuoteIdentifier(k) + " NULLS LAST"
	}
	for _, m := range measures {
		selects = append(selects, m.Expr+" AS "+QuoteIdentifier(m.Alias))
	}
	return func(a *Args) string {
		q := "SELECT " + strings.Join(selects, ", ") + " FROM " + subquery(in, a, "t")
		if len(keys) > 0 {
			q += " GROUP BY " + ColumnList(keys) + " ORDER BY " + strings.Join(order, ", ")
		}
		return q
	}
}

// Column is one projected column. As renames it when set.
type Column struct {
	Name string
	As   string
}

// Project selects columns of in in the given order.
func Project(in Relation, cols []Column) Relation {
	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = QuoteIdentifier(c.Name)
		if c.As != "" && c.As != c.Name {
			selects[i] += " AS " + QuoteIdentifier(c.As)
		}
	}
	return func(a *Args) string {
		return "SELECT " + strings.Join(selects, ", ") + " FROM " + subquery(in, a, "t")
	}
}

// Order is one sort key.
type Order struct {
	Column     string
	Descending bool
}

// OrderBy sorts in by keys with nulls last in either direction. Rows with
// equal keys keep their input order. columns are the columns of in.
func OrderBy(in Relation, columns []string, keys []Order) Relation {
	order := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		dir := " ASC"
		if k.Descending {
			dir = " DESC"
		}
		order = append(order, QuoteIdentifier(k.Column)+dir+" NULLS LAST")
	}
	order = append(order, QuoteIdentifier(rowColumn))
	return func(a *Args) string {
		return "SELECT " + ColumnList(columns) + " FROM " + numbered(in, a, rowColumn, "t") +
			" ORDER BY " + strings.Join(order, ", ")
	}
}

// JoinColumn is one output column of a join. A column taken from both sides
// holds the left value, or the right value when the left row is missing.
type JoinColumn struct {
	Left  string
	Right string
	As    string
}

// JoinSpec configures Join.
type JoinSpec struct {
	Type     domain.JoinType
	LeftKey  string
	RightKey string
	Columns  []JoinColumn
}

var joinKeywords = map[domain.JoinType]string{
	domain.JoinInner: "INNER JOIN",
	domain.JoinLeft:  "LEFT JOIN",
	domain.JoinRight: "RIGHT JOIN",
	domain.JoinOuter: "FULL OUTER JOIN",
}

// Join combines left and right on one key column each. Rows follow left
// input order with matches in right input order and unmatched right rows
// last. Right joins follow right input order.
func Join(left, right Relation, spec JoinSpec) Relation {
	l, r := QuoteIdentifier("l"), QuoteIdentifier("r")
	selects := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		var expr string
		switch {
		case c.Left != "" && c.Right != "":
			expr = "COALESCE(" + l + "." + QuoteIdentifier(c.Left) + ", " + r + "." + QuoteIdentifier(c.Right) + ")"
		case c.Left != "":
			expr = l + "." + QuoteIdentifier(c.Left)
		default:
			expr = r + "." + QuoteIdentifier(c.Right)
		}
		selects[i] = expr + " AS " + QuoteIdentifier(c.As)
	}
	kw, ok := joinKeywords[spec.Type]
	if !ok {
		kw = joinKeywords[domain.JoinInner]
	}
	lRow := l + "." + QuoteIdentifier(leftColumn) + " NULLS LAST"
	rRow := r + "." + QuoteIdentifier(rightColumn) + " NULLS LAST"
	order := lRow + ", " + rRow
	if spec.Type == domain.JoinRight {
		order = rRow + ", " + lRow
	}
	on := l + "." + QuoteIdentifier(spec.LeftKey) + " = " + r + "." + QuoteIdentifier(spec.RightKey)
	return func(a *Args) string {
		return "SELECT " + strings.Join(selects, ", ") +
			" FROM " + numbered(left, a, leftColumn, "l") +
			" " + kw + " " + numbered(right, a, rightColumn, "r") +
			" ON " + on + " ORDER BY " + order
	}
}

// Union concatenates inputs in order, reading columns from each. With dedup,
// rows equal to an earlier row are dropped.
func Union(inputs []Relation, columns []string, dedup bool) Relation {
	cols := ColumnList(columns)
	order := " ORDER BY " + QuoteIdentifier(srcColumn) + ", " + QuoteIdentifier(rowColumn)
	return func(a *Args) string {
		parts := make([]string, len(inputs))
		for i, in := range inputs {
			parts[i] = "SELECT " + cols + ", " + strconv.Itoa(i) + " AS " + QuoteIdentifier(srcColumn) +
				", ROW_NUMBER() OVER () AS " + QuoteIdentifier(rowColumn) + " FROM " + subquery(in, a, "t")
		}
		all := "(" + strings.Join(parts, " UNION ALL ") + ") AS " + QuoteIdentifier("u")
		if !dedup {
			return "SELECT " + cols + " FROM " + all + order
		}
		return "SELECT " + cols + " FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY " + cols + order + ") AS " +
			QuoteIdentifier(dupColumn) + " FROM " + all + ") AS " + QuoteIdentifier("d") +
			" WHERE " + QuoteIdentifier(dupColumn) + " = 1" + order
	}
}
