package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver

	internaldb "duck-bi/internal/db"
	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// SQLBackend pushes queries down to a relational database.
type SQLBackend struct {
	typ     domain.DataSourceType
	db      *sql.DB
	dialect sqlgen.Dialect
	release func()
}

var _ Backend = (*SQLBackend)(nil)

// OpenSQLite opens a SQLite database file read-only.
func OpenSQLite(path string) (*SQLBackend, error) {
	db, err := internaldb.OpenSQLite(path, internaldb.ModeReadOnly, 4)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{typ: domain.DataSourceSQLite, db: db, dialect: sqlgen.SQLite}, nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := pingWithin(ctx, db, 5*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLBackend{typ: domain.DataSourcePostgreSQL, db: db, dialect: sqlgen.PostgreSQL}, nil
}

// OpenDuckDB opens a DuckDB database file read-only.
func OpenDuckDB(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := pingWithin(ctx, db, 5*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &SQLBackend{typ: domain.DataSourceDuckDB, db: db, dialect: sqlgen.DuckDB}, nil
}

func pingWithin(ctx context.Context, db *sql.DB, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return db.PingContext(ctx)
}

// Type implements Backend.
func (b *SQLBackend) Type() domain.DataSourceType { return b.typ }

// Dialect implements Backend.
func (b *SQLBackend) Dialect() sqlgen.Dialect { return b.dialect }

// From implements Backend.
func (b *SQLBackend) From(schema, table string) string {
	return sqlgen.QuoteQualified(schema, table)
}

// Describe implements Backend. SQLite reads PRAGMA table_info, PostgreSQL
// reads information_schema.columns and DuckDB describes the relation.
func (b *SQLBackend) Describe(ctx context.Context, schema, table string) ([]domain.ColumnSchema, error) {
	if table == "" {
		return nil, domain.ErrValidation("table_name is required")
	}
	var (
		q    string
		args []any
	)
	switch b.typ {
	case domain.DataSourceSQLite:
		prefix := ""
		if schema != "" {
			prefix = sqlgen.QuoteIdentifier(schema) + "."
		}
		q = "PRAGMA " + prefix + "table_info(" + sqlgen.QuoteIdentifier(table) + ")"
	case domain.DataSourcePostgreSQL:
		q = `SELECT column_name AS name, data_type AS type FROM information_schema.columns ` +
			`WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2 ` +
			`ORDER BY ordinal_position`
		args = []any{schema, table}
	default:
		q = sqlgen.DescribeSQL(b.From(schema, table))
	}
	ds, err := b.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	cols := columnSchemas(ds)
	if len(cols) == 0 {
		return nil, domain.ErrSchema("table %q not found", strings.TrimPrefix(schema+"."+table, "."))
	}
	return cols, nil
}

// Tables implements Backend. The default schema (main for sqlite and duckdb)
// is reported as an empty schema name.
func (b *SQLBackend) Tables(ctx context.Context) ([]domain.TableSchema, error) {
	q := `SELECT table_schema, table_name FROM information_schema.tables ` +
		`WHERE table_schema NOT IN ('information_schema', 'pg_catalog') ORDER BY table_schema, table_name`
	if b.typ == domain.DataSourceSQLite {
		q = `SELECT '' AS table_schema, name AS table_name FROM sqlite_master ` +
			`WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	ds, err := b.query(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TableSchema, 0, ds.Len())
	for _, row := range ds.Rows {
		schema, _ := row[0].(string)
		name, _ := row[1].(string)
		if b.typ != domain.DataSourcePostgreSQL && schema == "main" {
			schema = ""
		}
		cols, err := b.Describe(ctx, schema, name)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		out = append(out, domain.TableSchema{Name: name, Schema: schema, Columns: cols})
	}
	return out, nil
}

// Query implements Backend.
func (b *SQLBackend) Query(ctx context.Context, stmt Statement) (*domain.Dataset, error) {
	return b.query(ctx, stmt.SQL, stmt.Args)
}

func (b *SQLBackend) query(ctx context.Context, q string, args []any) (*domain.Dataset, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close() //nolint:errcheck

	ds, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return ds, nil
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	err := b.db.Close()
	if b.release != nil {
		b.release()
	}
	return err
}

// classify reports missing columns and relations as schema errors. Anything
// else is returned as an execution error.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "column") && strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "referenced column") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "table with name") && strings.Contains(msg, "does not exist"):
		return domain.ErrSchema("%v", err)
	}
	return fmt.Errorf("execute query: %w", err)
}
