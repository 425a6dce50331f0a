package domain

import (
	"strings"
	"time"
)

// DataSourceType selects the backend strategy for a data source.
type DataSourceType string

// Data source types.
const (
	DataSourceSQLite     DataSourceType = "sqlite"
	DataSourcePostgreSQL DataSourceType = "postgresql"
	DataSourceDuckDB     DataSourceType = "duckdb"
	DataSourceCSV        DataSourceType = "csv"
	DataSourceExcel      DataSourceType = "excel"
	DataSourceParquet    DataSourceType = "parquet"
)

// IsFile reports whether the type is evaluated by the embedded analytical engine.
func (t DataSourceType) IsFile() bool {
	switch t {
	case DataSourceCSV, DataSourceExcel, DataSourceParquet:
		return true
	}
	return false
}

// Valid reports whether t is a known type.
func (t DataSourceType) Valid() bool {
	switch t {
	case DataSourceSQLite, DataSourcePostgreSQL, DataSourceDuckDB:
		return true
	}
	return t.IsFile()
}

// DataSourceConfig carries connection details. Path is a local file path or an
// s3://, gs:// or az:// URI; DSN is used by postgresql.
type DataSourceConfig struct {
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN       string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	HasHeader *bool  `json:"has_header,omitempty" yaml:"has_header,omitempty"`
	Sheet     string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
}

// Header reports whether CSV files carry a header row (default true).
func (c DataSourceConfig) Header() bool {
	return c.HasHeader == nil || *c.HasHeader
}

// ColumnSchema is cached column metadata.
type ColumnSchema struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TableSchema is cached table metadata used for static validation.
type TableSchema struct {
	Name    string         `json:"name" yaml:"name"`
	Schema  string         `json:"schema,omitempty" yaml:"schema,omitempty"`
	Columns []ColumnSchema `json:"columns" yaml:"columns"`
}

// DataSource is a backing store registered in the catalog.
type DataSource struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        DataSourceType   `json:"type"`
	Description string           `json:"description,omitempty"`
	Config      DataSourceConfig `json:"config"`
	Tables      []TableSchema    `json:"tables,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Table returns cached metadata for a table, matching case-insensitively.
// schema may be empty to match any schema. A file source holds a single
// table, which is returned for any name.
func (d *DataSource) Table(schema, name string) (*TableSchema, bool) {
	if d.Type.IsFile() && len(d.Tables) == 1 {
		return &d.Tables[0], true
	}
	for i := range d.Tables {
		t := &d.Tables[i]
		if !strings.EqualFold(t.Name, name) {
			continue
		}
		if schema != "" && t.Schema != "" && !strings.EqualFold(t.Schema, schema) {
			continue
		}
		return t, true
	}
	return nil, false
}

// CreateDataSourceRequest holds parameters for registering a data source.
type CreateDataSourceRequest struct {
	ID          string
	Name        string
	Type        DataSourceType
	Description string
	Config      DataSourceConfig
	Tables      []TableSchema
}

// Validate checks that the request is well-formed.
func (r *CreateDataSourceRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("name is required")
	}
	if !r.Type.Valid() {
		return ErrValidation("unsupported data source type %q", r.Type)
	}
	if r.Type == DataSourcePostgreSQL {
		if r.Config.DSN == "" {
			return ErrValidation("dsn is required for %s data sources", r.Type)
		}
	} else if r.Config.Path == "" {
		return ErrValidation("path is required for %s data sources", r.Type)
	}
	return nil
}
