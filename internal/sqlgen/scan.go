package sqlgen

import (
	"fmt"
	"strings"
)

// FileFormat is a file type the embedded engine can scan.
type FileFormat string

// Supported file formats.
const (
	FormatCSV     FileFormat = "csv"
	FormatExcel   FileFormat = "excel"
	FormatParquet FileFormat = "parquet"
)

// ScanOptions tunes a file scan. Zero values use the engine defaults.
type ScanOptions struct {
	Delimiter string
	Header    bool
	Sheet     string
}

// FileScan renders the table function reading path in the given format.
func FileScan(format FileFormat, path string, opts ScanOptions) (string, error) {
	if path == "" {
		return "", fmt.Errorf("source path is required")
	}
	switch format {
	case FormatCSV:
		args := []string{QuoteLiteral(path), fmt.Sprintf("header = %t", opts.Header)}
		if opts.Delimiter != "" {
			args = append(args, "delim = "+QuoteLiteral(opts.Delimiter))
		}
		return "read_csv_auto(" + strings.Join(args, ", ") + ")", nil
	case FormatParquet:
		return "read_parquet(" + QuoteLiteral(path) + ")", nil
	case FormatExcel:
		args := []string{QuoteLiteral(path), "header = true"}
		if opts.Sheet != "" {
			args = append(args, "sheet = "+QuoteLiteral(opts.Sheet))
		}
		return "read_xlsx(" + strings.Join(args, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported file format: %q", format)
}

// SelectFrom renders SELECT columns FROM from [LIMIT n]. A limit of zero or
// less means no limit.
func SelectFrom(columns []string, from string, limit int) string {
	q := "SELECT " + ColumnList(columns) + " FROM " + from
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

// CreateTempView renders a temporary view over a file scan.
func CreateTempView(name, scan string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("view name is required")
	}
	return fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM %s", QuoteIdentifier(name), scan), nil
}

// DescribeSQL renders a zero-row DESCRIBE of a relation expression.
func DescribeSQL(from string) string {
	return "DESCRIBE SELECT * FROM " + from + " LIMIT 0"
}
