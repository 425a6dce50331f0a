package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// Local is an in-process DuckDB database. Step inputs that cannot be combined
// on their own backend are copied into it and evaluated there.
type Local struct {
	*SQLBackend

	mu     sync.Mutex
	tables int
}

// OpenLocal opens an empty in-memory DuckDB.
func OpenLocal(ctx context.Context) (*Local, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := pingWithin(ctx, db, 5*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Local{SQLBackend: &SQLBackend{typ: domain.DataSourceDuckDB, db: db, dialect: sqlgen.DuckDB}}, nil
}

// Load copies ds into a new table through the DuckDB appender and returns the
// table name. cols supplies the column types used when a column holds only
// nulls.
func (l *Local) Load(ctx context.Context, ds *domain.Dataset, cols []domain.ColumnSchema) (string, error) {
	l.mu.Lock()
	l.tables++
	name := fmt.Sprintf("step_input_%d", l.tables)
	l.mu.Unlock()

	types := make([]string, len(ds.Columns))
	defs := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		var kind domain.ColumnKind
		if i < len(cols) {
			kind = domain.KindOf(cols[i].Type)
		}
		types[i] = columnType(ds, i, kind)
		defs[i] = sqlgen.QuoteIdentifier(c) + " " + types[i]
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ddl := "CREATE TABLE " + sqlgen.QuoteIdentifier(name) + " (" + strings.Join(defs, ", ") + ")"
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}

	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		app, err := duckdb.NewAppenderFromConn(driverConn, "", name)
		if err != nil {
			return fmt.Errorf("create %s appender: %w", name, err)
		}
		vals := make([]driver.Value, len(types))
		for _, row := range ds.Rows {
			for i, v := range row {
				vals[i] = coerce(v, types[i])
			}
			if err := app.AppendRow(vals...); err != nil {
				_ = app.Close()
				return fmt.Errorf("append %s row: %w", name, err)
			}
		}
		if err := app.Close(); err != nil {
			return fmt.Errorf("flush %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// columnType picks the DuckDB type holding every value of column i. Integer
// and float values widen to DOUBLE; any other mix falls back to VARCHAR.
func columnType(ds *domain.Dataset, i int, kind domain.ColumnKind) string {
	typ := ""
	for _, row := range ds.Rows {
		var t string
		switch row[i].(type) {
		case nil:
			continue
		case int64:
			t = "BIGINT"
		case float64:
			t = "DOUBLE"
		case bool:
			t = "BOOLEAN"
		case time.Time:
			t = "TIMESTAMP"
		default:
			t = "VARCHAR"
		}
		switch {
		case typ == "" || typ == t:
			typ = t
		case (typ == "BIGINT" && t == "DOUBLE") || (typ == "DOUBLE" && t == "BIGINT"):
			typ = "DOUBLE"
		default:
			return "VARCHAR"
		}
	}
	if typ != "" {
		return typ
	}
	switch kind {
	case domain.KindNumeric:
		return "DOUBLE"
	case domain.KindBoolean:
		return "BOOLEAN"
	case domain.KindTemporal:
		return "TIMESTAMP"
	}
	return "VARCHAR"
}

func coerce(v any, typ string) driver.Value {
	if v == nil {
		return nil
	}
	switch typ {
	case "DOUBLE":
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case "VARCHAR":
		if s, ok := v.(string); ok {
			return s
		}
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
		return fmt.Sprint(v)
	}
	return v
}
