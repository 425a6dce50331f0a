package semantic

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-bi/internal/backend"
	"duck-bi/internal/config"
	"duck-bi/internal/domain"
	"duck-bi/internal/storage"
	"duck-bi/internal/testutil"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testLimits() config.ExecutionConfig {
	return config.ExecutionConfig{QueryDefaultLimit: 1000, QueryMaxLimit: 100000, RunTimeout: time.Minute}
}

func staticEntities(entities ...*domain.Entity) *testutil.MockEntityRepo {
	return &testutil.MockEntityRepo{
		GetEntityFn: func(_ context.Context, id string) (*domain.Entity, error) {
			for _, e := range entities {
				if e.ID == id {
					return e, nil
				}
			}
			return nil, domain.ErrNotFound("entity %q not found", id)
		},
	}
}

func seedSales(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sales (region TEXT, amount INTEGER, customer TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sales VALUES ('North', 100, 'a'), ('South', 50, 'b'), ('North', 50, 'b')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func newSQLiteService(t *testing.T, history *testutil.MockQueryHistoryRepo) *Service {
	t.Helper()
	ds := &domain.DataSource{ID: "db", Type: domain.DataSourceSQLite, Config: domain.DataSourceConfig{Path: seedSales(t)}}
	reg := backend.NewRegistry(testutil.StaticDataSources(ds), storage.NewFetcher(t.TempDir(), discardLogger()), discardLogger())
	t.Cleanup(func() { _ = reg.Close() })
	return NewService(staticEntities(salesEntity()), history, reg, testLimits(), discardLogger())
}

func TestService_ExecuteQuery_SQLite(t *testing.T) {
	history := &testutil.MockQueryHistoryRepo{}
	svc := newSQLiteService(t, history)

	resp, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{
		EntityID:     "sales",
		DimensionIDs: []string{"d-region"},
		MeasureIDs:   []string{"m-total"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Sales", resp.EntityName)
	assert.Equal(t, []string{"region", "total_sales"}, resp.Columns)
	assert.Equal(t, 2, resp.RowCount)
	assert.Equal(t, []map[string]any{
		{"region": "North", "total_sales": int64(150)},
		{"region": "South", "total_sales": int64(50)},
	}, resp.Data)
	assert.Contains(t, resp.GeneratedSQL, `GROUP BY "region"`)
	assert.Positive(t, resp.ExecutionTime)

	entry := history.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, domain.QueryStatusSuccess, entry.Status)
	assert.InDelta(t, entry.Duration.Seconds(), resp.ExecutionTime, 1e-9)
	assert.Equal(t, "sales", entry.EntityID)
	assert.Equal(t, 2, entry.RowCount)
	assert.Equal(t, resp.GeneratedSQL, entry.GeneratedSQL)
	assert.Nil(t, entry.ErrorMessage)
}

func TestService_ExecuteQuery_FiltersAndCounts(t *testing.T) {
	svc := newSQLiteService(t, &testutil.MockQueryHistoryRepo{})

	resp, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{
		EntityID:   "sales",
		MeasureIDs: []string{"m-orders", "m-customers"},
		Filters: []domain.QueryFilter{
			{DimensionID: "d-region", Operator: domain.OpEndsWith, Value: "rth"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"orders": int64(2), "customers": int64(2)}}, resp.Data)
}

func TestService_ExecuteQuery_SchemaFailureIsRecorded(t *testing.T) {
	history := &testutil.MockQueryHistoryRepo{}
	svc := newSQLiteService(t, history)

	entity := salesEntity()
	entity.ID = "broken"
	entity.Measures = append(entity.Measures, domain.Measure{ID: "m-bad", Name: "Bad", AggregationFunction: domain.MeasureSum, BaseColumn: "missing"})
	svc.entities = staticEntities(entity)

	_, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{EntityID: "broken", MeasureIDs: []string{"m-bad"}})
	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)

	entry := history.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, domain.QueryStatusFailed, entry.Status)
	require.NotNil(t, entry.ErrorMessage)
	assert.NotEmpty(t, entry.GeneratedSQL)
}

func TestService_ExecuteQuery_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("region,amount,customer\nNorth,100,a\nSouth,50,b\nNorth,50,b\n"), 0o600))

	ds := &domain.DataSource{ID: "db", Type: domain.DataSourceCSV, Config: domain.DataSourceConfig{Path: path}}
	reg := backend.NewRegistry(testutil.StaticDataSources(ds), storage.NewFetcher(dir, discardLogger()), discardLogger())
	t.Cleanup(func() { _ = reg.Close() })
	svc := NewService(staticEntities(salesEntity()), &testutil.MockQueryHistoryRepo{}, reg, testLimits(), discardLogger())

	resp, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{
		EntityID:     "sales",
		DimensionIDs: []string{"d-region"},
		MeasureIDs:   []string{"m-total"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "North", resp.Data[0]["region"])
	assert.EqualValues(t, 150, resp.Data[0]["total_sales"])
	assert.Equal(t, "South", resp.Data[1]["region"])
	assert.EqualValues(t, 50, resp.Data[1]["total_sales"])
}

type stubBackends struct {
	b   backend.Backend
	err error
}

func (s stubBackends) Backend(context.Context, string) (backend.Backend, error) {
	return s.b, s.err
}

func TestService_ExecuteQuery_Errors(t *testing.T) {
	t.Run("invalid request is not recorded", func(t *testing.T) {
		history := &testutil.MockQueryHistoryRepo{}
		svc := NewService(staticEntities(salesEntity()), history, stubBackends{}, testLimits(), discardLogger())

		_, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{EntityID: "sales"})
		var valErr *domain.ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Empty(t, history.Entries)
	})

	t.Run("unknown entity", func(t *testing.T) {
		history := &testutil.MockQueryHistoryRepo{}
		svc := NewService(staticEntities(), history, stubBackends{}, testLimits(), discardLogger())

		_, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{EntityID: "nope", MeasureIDs: []string{"m"}})
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
		require.NotNil(t, history.LastEntry())
		assert.Equal(t, domain.QueryStatusFailed, history.LastEntry().Status)
	})

	t.Run("data source unavailable", func(t *testing.T) {
		history := &testutil.MockQueryHistoryRepo{}
		backends := stubBackends{err: domain.ErrDataSource("db", errors.New("connection refused"))}
		svc := NewService(staticEntities(salesEntity()), history, backends, testLimits(), discardLogger())

		_, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{EntityID: "sales", MeasureIDs: []string{"m-total"}})
		var dsErr *domain.DataSourceError
		require.ErrorAs(t, err, &dsErr)
		assert.Equal(t, domain.QueryStatusFailed, history.LastEntry().Status)
	})

	t.Run("history failure does not fail the query", func(t *testing.T) {
		history := &testutil.MockQueryHistoryRepo{
			InsertFn: func(context.Context, *domain.QueryHistoryEntry) error { return errors.New("disk full") },
		}
		svc := newSQLiteService(t, history)
		_, err := svc.ExecuteQuery(context.Background(), domain.QueryRequest{EntityID: "sales", MeasureIDs: []string{"m-orders"}})
		require.NoError(t, err)
	})
}

func TestService_ExplainQuery(t *testing.T) {
	history := &testutil.MockQueryHistoryRepo{}
	svc := newSQLiteService(t, history)

	resp, err := svc.ExplainQuery(context.Background(), domain.QueryRequest{
		EntityID:   "sales",
		MeasureIDs: []string{"m-total"},
		Filters:    []domain.QueryFilter{{DimensionID: "d-region", Operator: domain.OpEqual, Value: "North"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT SUM("amount") AS "total_sales" FROM "sales" WHERE "region" = ? LIMIT 1000`, resp.SQL)
	assert.Equal(t, []any{"North"}, resp.Args)
	assert.Equal(t, "Sales", resp.EntityName)
	assert.Equal(t, "db", resp.DataSource)
	assert.Empty(t, history.Entries, "explain never executes")
}

func TestService_CreateEntityValidates(t *testing.T) {
	svc := NewService(&testutil.MockEntityRepo{}, &testutil.MockQueryHistoryRepo{}, stubBackends{}, testLimits(), discardLogger())
	_, err := svc.CreateEntity(context.Background(), domain.CreateEntityRequest{Name: "x"})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
}
