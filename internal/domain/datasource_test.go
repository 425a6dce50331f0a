package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceTable(t *testing.T) {
	db := &DataSource{Type: DataSourcePostgreSQL, Tables: []TableSchema{
		{Name: "sales", Schema: "public"},
		{Name: "sales", Schema: "archive"},
	}}
	csv := &DataSource{Type: DataSourceCSV, Tables: []TableSchema{{Name: "orders"}}}

	tests := []struct {
		name       string
		ds         *DataSource
		schema     string
		table      string
		wantSchema string
		wantOK     bool
	}{
		{"any schema", db, "", "SALES", "public", true},
		{"schema selects", db, "archive", "sales", "archive", true},
		{"unknown table", db, "", "orders", "", false},
		{"unknown schema", db, "staging", "sales", "", false},
		{"file source matches any name", csv, "", "sales", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.ds.Table(tt.schema, tt.table)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantSchema, got.Schema)
			}
		})
	}
}
