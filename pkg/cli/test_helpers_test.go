package cli

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

// testEnv points configuration at a fresh metastore in a temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("META_DB_PATH", filepath.Join(dir, "meta.sqlite"))
	t.Setenv("DELIVERY_DIR", filepath.Join(dir, "deliveries"))
	t.Setenv("TEMP_DIR", dir)
	t.Setenv("ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	t.Setenv("DUCKBI_OUTPUT", "")
	t.Setenv("DUCKBI_ENV_FILE", "")
	return dir
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(openApp)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

// writeWorkspace seeds a SQLite sales database and a workspace file using it.
func writeWorkspace(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "sales.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sales (region TEXT, amount INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sales VALUES ('North', 100), ('South', 50), ('North', 50), ('East', 20)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ws := fmt.Sprintf(`
data_sources:
  - {id: shop, name: Shop, type: sqlite, config: {path: %q}}
entities:
  - id: sales
    name: Sales
    data_source_id: shop
    primary_table: sales
    dimensions:
      - {id: region, name: Region, sql_column: region, data_type: VARCHAR}
    measures:
      - {id: total, name: Total Sales, aggregation_function: SUM, base_column: amount}
pipelines:
  - id: by-region
    name: Sales by region
    steps:
      - {order: 0, type: source, name: load, config: {data_source_id: shop, table_name: sales}}
      - order: 1
        type: aggregate
        name: totals
        config:
          group_by: [region]
          aggregations: [{column: amount, function: sum, alias: total}]
      - {order: 2, type: sort, name: order, config: {columns: [region]}}
`, dbPath)
	path := filepath.Join(dir, "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ws), 0o600))
	return path
}
