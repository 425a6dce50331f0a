package domain

// Dataset is a materialized table: column names in order and row values in the
// same order. Cell values are nil, bool, int64, float64, string or time.Time.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewDataset returns an empty dataset with the given columns.
func NewDataset(columns ...string) *Dataset {
	return &Dataset{Columns: columns, Rows: [][]any{}}
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// MustColumn returns the position of name or a SchemaError naming the
// available columns.
func (d *Dataset) MustColumn(name string) (int, error) {
	if i := d.ColumnIndex(name); i >= 0 {
		return i, nil
	}
	return -1, ErrSchema("column %q not found; available columns: %v", name, d.Columns)
}

// Records returns rows as column-keyed maps.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make(map[string]any, len(d.Columns))
		for i, c := range d.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}
