package sqlgen

import (
	"fmt"
	"strconv"

	"duck-bi/internal/domain"
)

// Dialect captures the SQL differences between supported engines.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Contains renders a case-sensitive substring test of expr against a bound needle.
	Contains(expr, needle string) string
	// Aggregate renders fn over expr. ok is false when the engine has no
	// built-in equivalent.
	Aggregate(fn domain.AggFunc, expr string) (sql string, ok bool)
}

// commonAggregate covers the functions every engine provides.
func commonAggregate(fn domain.AggFunc, expr string) (string, bool) {
	switch fn {
	case domain.AggSum:
		return "SUM(" + expr + ")", true
	case domain.AggMean:
		return "AVG(" + expr + ")", true
	case domain.AggMin:
		return "MIN(" + expr + ")", true
	case domain.AggMax:
		return "MAX(" + expr + ")", true
	case domain.AggCount:
		return "COUNT(*)", true
	}
	return "", false
}

type qmarkDialect struct{ name string }

func (d qmarkDialect) Name() string { return d.name }

func (qmarkDialect) Placeholder(int) string { return "?" }

func (qmarkDialect) Contains(e, n string) string { return fmt.Sprintf("instr(%s, %s) > 0", e, n) }

func (d qmarkDialect) Aggregate(fn domain.AggFunc, e string) (string, bool) {
	if s, ok := commonAggregate(fn, e); ok {
		return s, true
	}
	if d.name != "duckdb" {
		return "", false
	}
	switch fn {
	case domain.AggMedian:
		return "median(" + e + ")", true
	case domain.AggStd:
		return "stddev_samp(" + e + ")", true
	case domain.AggVar:
		return "var_samp(" + e + ")", true
	}
	return "", false
}

type dollarDialect struct{}

func (dollarDialect) Name() string { return "postgresql" }

func (dollarDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (dollarDialect) Contains(e, n string) string { return fmt.Sprintf("strpos(%s, %s) > 0", e, n) }

func (dollarDialect) Aggregate(fn domain.AggFunc, e string) (string, bool) {
	if s, ok := commonAggregate(fn, e); ok {
		return s, true
	}
	switch fn {
	case domain.AggMedian:
		return "percentile_cont(0.5) WITHIN GROUP (ORDER BY " + e + ")", true
	case domain.AggStd:
		return "stddev_samp(" + e + ")", true
	case domain.AggVar:
		return "var_samp(" + e + ")", true
	}
	return "", false
}

// Dialects for the supported backends.
var (
	SQLite     Dialect = qmarkDialect{name: "sqlite"}
	DuckDB     Dialect = qmarkDialect{name: "duckdb"}
	PostgreSQL Dialect = dollarDialect{}
)

// Args accumulates bound arguments and hands out placeholders in order.
type Args struct {
	d    Dialect
	vals []any
}

// NewArgs creates an argument list for dialect d.
func NewArgs(d Dialect) *Args {
	return &Args{d: d}
}

// Bind appends v and returns its placeholder.
func (a *Args) Bind(v any) string {
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

// Values returns the bound arguments in placeholder order.
func (a *Args) Values() []any {
	return a.vals
}

// Dialect returns the dialect placeholders are rendered for.
func (a *Args) Dialect() Dialect {
	return a.d
}
