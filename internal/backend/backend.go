// Package backend runs pipeline steps and compiled queries against data
// sources.
//
// Relational data sources (sqlite, postgresql, duckdb database files) are
// served by SQLBackend, which pushes SQL down to the database. File data
// sources (csv, excel, parquet) are served by FileBackend, which evaluates the
// same SQL in an embedded DuckDB over the file. Pipeline steps are composed
// into SQL by Engine and run where their inputs live.
package backend

import (
	"context"

	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// SourceRequest describes a table read for a pipeline source step.
type SourceRequest struct {
	Schema  string
	Table   string
	Columns []string // empty selects every column
	Limit   int      // zero or less means no limit
}

// Statement is a compiled query. Table names the relation the statement reads
// so file backends can expose their file under that name.
type Statement struct {
	SQL   string
	Args  []any
	Table string
}

// Backend is the contract every data source strategy satisfies.
type Backend interface {
	// Type returns the data source type served.
	Type() domain.DataSourceType
	// Dialect returns the SQL dialect statements must be compiled for.
	Dialect() sqlgen.Dialect
	// From returns the FROM expression reading schema.table.
	From(schema, table string) string
	// Describe returns the columns of schema.table in declaration order.
	Describe(ctx context.Context, schema, table string) ([]domain.ColumnSchema, error)
	// Tables introspects every user table with its columns.
	Tables(ctx context.Context) ([]domain.TableSchema, error)
	// Query runs a compiled statement and materializes its result.
	Query(ctx context.Context, stmt Statement) (*domain.Dataset, error)
	Close() error
}
