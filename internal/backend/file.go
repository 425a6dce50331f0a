package backend

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
	"duck-bi/internal/storage"
)

// FileBackend evaluates queries over a single csv, excel or parquet
// file in an in-memory DuckDB. Temporary views are connection scoped, so the
// pool is pinned to one connection and access is serialized.
type FileBackend struct {
	typ   domain.DataSourceType
	scan  string
	table string
	file  *storage.LocalFile

	mu    sync.Mutex
	db    *sql.DB
	views map[string]bool
}

var _ Backend = (*FileBackend)(nil)

// OpenFile fetches the data source's file and prepares a DuckDB scan of it.
func OpenFile(ctx context.Context, ds *domain.DataSource, fetcher *storage.Fetcher) (*FileBackend, error) {
	format, ok := fileFormats[ds.Type]
	if !ok {
		return nil, fmt.Errorf("data source type %q is not file backed", ds.Type)
	}

	lf, err := fetcher.Fetch(ctx, ds.Config.Path)
	if err != nil {
		return nil, err
	}
	scan, err := sqlgen.FileScan(format, lf.Path, sqlgen.ScanOptions{
		Delimiter: ds.Config.Delimiter,
		Header:    ds.Config.Header(),
		Sheet:     ds.Config.Sheet,
	})
	if err != nil {
		lf.Release()
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		lf.Release()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if format == sqlgen.FormatExcel {
		if _, err := db.ExecContext(ctx, "INSTALL excel; LOAD excel;"); err != nil {
			_ = db.Close()
			lf.Release()
			return nil, fmt.Errorf("load excel extension: %w", err)
		}
	}

	return &FileBackend{
		typ:   ds.Type,
		scan:  scan,
		table: tableName(ds.Config.Path),
		file:  lf,
		db:    db,
		views: make(map[string]bool),
	}, nil
}

var fileFormats = map[domain.DataSourceType]sqlgen.FileFormat{
	domain.DataSourceCSV:     sqlgen.FormatCSV,
	domain.DataSourceExcel:   sqlgen.FormatExcel,
	domain.DataSourceParquet: sqlgen.FormatParquet,
}

// tableName derives a table name from a file path or URI.
func tableName(p string) string {
	base := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Type implements Backend.
func (b *FileBackend) Type() domain.DataSourceType { return b.typ }

// Dialect implements Backend.
func (b *FileBackend) Dialect() sqlgen.Dialect { return sqlgen.DuckDB }

// From implements Backend. A file holds exactly one table, so the requested
// table name is not used to locate data.
func (b *FileBackend) From(string, string) string { return b.scan }

// Describe implements Backend.
func (b *FileBackend) Describe(ctx context.Context, _, _ string) ([]domain.ColumnSchema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.query(ctx, sqlgen.DescribeSQL(b.scan), nil)
	if err != nil {
		return nil, err
	}
	return columnSchemas(ds), nil
}

// Tables implements Backend. The single table is named after the file.
func (b *FileBackend) Tables(ctx context.Context) ([]domain.TableSchema, error) {
	cols, err := b.Describe(ctx, "", b.table)
	if err != nil {
		return nil, err
	}
	return []domain.TableSchema{{Name: b.table, Columns: cols}}, nil
}

// Query implements Backend. The file is exposed as a view named stmt.Table.
func (b *FileBackend) Query(ctx context.Context, stmt Statement) (*domain.Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stmt.Table != "" && !b.views[stmt.Table] {
		ddl, err := sqlgen.CreateTempView(stmt.Table, b.scan)
		if err != nil {
			return nil, err
		}
		if _, err := b.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("register view %q: %w", stmt.Table, err)
		}
		b.views[stmt.Table] = true
	}
	return b.query(ctx, stmt.SQL, stmt.Args)
}

func (b *FileBackend) query(ctx context.Context, q string, args []any) (*domain.Dataset, error) {
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
func (b *FileBackend) Close() error {
	err := b.db.Close()
	b.file.Release()
	return err
}
