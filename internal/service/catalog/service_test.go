package catalog

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-bi/internal/backend"
	"duck-bi/internal/domain"
	"duck-bi/internal/storage"
	"duck-bi/internal/testutil"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// newService serves the given sources and records the tables stored for each.
func newService(t *testing.T, stored map[string][]domain.TableSchema, sources ...*domain.DataSource) *Service {
	t.Helper()
	repo := testutil.StaticDataSources(sources...)
	repo.UpdateTablesFn = func(ctx context.Context, id string, tables []domain.TableSchema) (*domain.DataSource, error) {
		ds, err := repo.ResolveDataSourceFn(ctx, id)
		if err != nil {
			return nil, err
		}
		stored[id] = tables
		out := *ds
		out.Tables = tables
		return &out, nil
	}
	reg := backend.NewRegistry(repo, storage.NewFetcher(t.TempDir(), discardLogger()), discardLogger())
	t.Cleanup(func() { _ = reg.Close() })
	return NewService(repo, reg, discardLogger())
}

func TestRefreshSchema_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sales (region TEXT, amount INTEGER); CREATE TABLE customers (id INTEGER, name TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	stored := map[string][]domain.TableSchema{}
	svc := newService(t, stored, &domain.DataSource{ID: "shop", Type: domain.DataSourceSQLite, Config: domain.DataSourceConfig{Path: path}})

	ds, err := svc.RefreshSchema(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, ds.Tables, 2)
	assert.Equal(t, ds.Tables, stored["shop"])

	sales, ok := ds.Table("", "sales")
	require.True(t, ok)
	assert.Empty(t, sales.Schema)
	assert.Equal(t, []domain.ColumnSchema{{Name: "region", Type: "TEXT"}, {Name: "amount", Type: "INTEGER"}}, sales.Columns)
	assert.Equal(t, domain.KindNumeric, domain.KindOf(sales.Columns[1].Type))
}

func TestRefreshSchema_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("region,amount\nNorth,100\nSouth,50\n"), 0o600))

	stored := map[string][]domain.TableSchema{}
	svc := newService(t, stored, &domain.DataSource{ID: "orders", Type: domain.DataSourceCSV, Config: domain.DataSourceConfig{Path: path}})

	ds, err := svc.RefreshSchema(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, ds.Tables, 1)
	assert.Equal(t, "orders", ds.Tables[0].Name)

	// A file holds one table, found whatever name a step uses for it.
	tbl, ok := ds.Table("", "anything")
	require.True(t, ok)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, domain.KindString, domain.KindOf(tbl.Columns[0].Type))
	assert.Equal(t, domain.KindNumeric, domain.KindOf(tbl.Columns[1].Type))
}

func TestRefreshSchema_Errors(t *testing.T) {
	stored := map[string][]domain.TableSchema{}
	svc := newService(t, stored, &domain.DataSource{
		ID: "gone", Type: domain.DataSourceCSV, Config: domain.DataSourceConfig{Path: filepath.Join(t.TempDir(), "missing.csv")},
	})

	_, err := svc.RefreshSchema(context.Background(), "nope")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = svc.RefreshSchema(context.Background(), "gone")
	var dsErr *domain.DataSourceError
	require.ErrorAs(t, err, &dsErr)
	assert.Empty(t, stored)
}
