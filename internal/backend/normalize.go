package backend

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"duck-bi/internal/domain"
)

// scanRows materializes rows into a Dataset with normalized cell values.
func scanRows(rows *sql.Rows) (*domain.Dataset, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	ds := domain.NewDataset(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		ds.Rows = append(ds.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ds, nil
}

// normalize maps driver values onto nil, bool, int64, float64, string and
// time.Time so results from different engines compare uniformly.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, time.Time:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case interface{ Float64() float64 }:
		// DuckDB DECIMAL
		return x.Float64()
	case []any, map[string]any:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// columnSchemas reads column metadata from a PRAGMA table_info, DESCRIBE or
// information_schema result.
func columnSchemas(ds *domain.Dataset) []domain.ColumnSchema {
	nameIdx, typeIdx := -1, -1
	for _, c := range []string{"name", "column_name"} {
		if i := ds.ColumnIndex(c); i >= 0 {
			nameIdx = i
			break
		}
	}
	for _, c := range []string{"type", "column_type"} {
		if i := ds.ColumnIndex(c); i >= 0 {
			typeIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil
	}
	out := make([]domain.ColumnSchema, 0, ds.Len())
	for _, row := range ds.Rows {
		col := domain.ColumnSchema{Name: fmt.Sprint(row[nameIdx])}
		if typeIdx >= 0 && row[typeIdx] != nil {
			col.Type = fmt.Sprint(row[typeIdx])
		}
		out = append(out, col)
	}
	return out
}
