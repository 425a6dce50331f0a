package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duck-bi/internal/backend"
	"duck-bi/internal/config"
	"duck-bi/internal/domain"
	"duck-bi/internal/testutil"
)

// recordingBackend wraps a real backend, records every statement it runs and
// can be made to fail or to block until the context ends.
type recordingBackend struct {
	backend.Backend
	err   error
	block bool // wait for ctx cancellation before answering

	mu    sync.Mutex
	stmts []string
}

func (r *recordingBackend) interrupt(ctx context.Context) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

func (r *recordingBackend) Describe(ctx context.Context, schema, table string) ([]domain.ColumnSchema, error) {
	if err := r.interrupt(ctx); err != nil {
		return nil, err
	}
	return r.Backend.Describe(ctx, schema, table)
}

func (r *recordingBackend) Query(ctx context.Context, stmt backend.Statement) (*domain.Dataset, error) {
	r.mu.Lock()
	r.stmts = append(r.stmts, stmt.SQL)
	r.mu.Unlock()
	if err := r.interrupt(ctx); err != nil {
		return nil, err
	}
	return r.Backend.Query(ctx, stmt)
}

func (r *recordingBackend) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

type fakeBackends map[string]*recordingBackend

func (f fakeBackends) Backend(_ context.Context, id string) (backend.Backend, error) {
	b, ok := f[id]
	if !ok {
		return nil, domain.ErrDataSource(id, errors.New("connection refused"))
	}
	return b, nil
}

// seedSQLite creates a SQLite database from DDL and inserts and opens it as a
// recording backend.
func seedSQLite(t *testing.T, stmts ...string) *recordingBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	b, err := backend.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return &recordingBackend{Backend: b}
}

// salesDB holds sales: North 100, South 50, North 50, East 10.
func salesDB(t *testing.T) *recordingBackend {
	return seedSQLite(t,
		`CREATE TABLE sales (region VARCHAR, amount BIGINT)`,
		`INSERT INTO sales VALUES ('North', 100), ('South', 50), ('North', 50), ('East', 10)`,
	)
}

// regionsDB holds regions: North Ann, South Bo, West Cy.
func regionsDB(t *testing.T) *recordingBackend {
	return seedSQLite(t,
		`CREATE TABLE regions (region VARCHAR, manager VARCHAR)`,
		`INSERT INTO regions VALUES ('North', 'Ann'), ('South', 'Bo'), ('West', 'Cy')`,
	)
}

// salesTable is the materialized content of the sales table.
func salesTable() *domain.Dataset {
	return &domain.Dataset{
		Columns: []string{"region", "amount"},
		Rows: [][]any{
			{"North", int64(100)},
			{"South", int64(50)},
			{"North", int64(50)},
			{"East", int64(10)},
		},
	}
}

func salesSource() *domain.DataSource {
	return &domain.DataSource{
		ID:   "db",
		Name: "warehouse",
		Type: domain.DataSourceSQLite,
		Tables: []domain.TableSchema{{
			Name: "sales",
			Columns: []domain.ColumnSchema{
				{Name: "region", Type: "VARCHAR"},
				{Name: "amount", Type: "BIGINT"},
			},
		}},
	}
}

func regionsSource() *domain.DataSource {
	return &domain.DataSource{ID: "geo", Name: "geography", Type: domain.DataSourceSQLite}
}

// mustSteps decodes a JSON step list the way the metastore does.
func mustSteps(t *testing.T, raw string) []domain.Step {
	t.Helper()
	var steps []domain.Step
	require.NoError(t, json.Unmarshal([]byte(raw), &steps))
	return steps
}

func newPipeline(t *testing.T, id, raw string) *domain.PipelineDefinition {
	t.Helper()
	return &domain.PipelineDefinition{ID: id, Name: id, Steps: mustSteps(t, raw)}
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// regionTotals sources sales, keeps amounts >= 50 and sums them per region.
const regionTotals = `[
	{"order": 0, "type": "source", "name": "load sales", "config": {"data_source_id": "db", "table_name": "sales"}},
	{"order": 1, "type": "filter", "name": "big orders", "config": {"conditions": [{"column": "amount", "operator": ">=", "value": 50}]}},
	{"order": 2, "type": "aggregate", "name": "totals", "config": {"group_by": ["region"], "aggregations": [{"column": "amount", "function": "sum", "alias": "total"}]}}
]`

type testEnv struct {
	orch     *Orchestrator
	runs     *testutil.MockPipelineRunRepo
	backends fakeBackends
}

func newTestEnv(t *testing.T, limits func(*config.ExecutionConfig), pipelines ...*domain.PipelineDefinition) *testEnv {
	t.Helper()
	l := config.ExecutionConfig{
		QueryDefaultLimit: 1000,
		QueryMaxLimit:     100000,
		PreviewRowLimit:   1000,
		PreviewTimeout:    time.Minute,
		RunTimeout:        time.Minute,
		MaxConcurrentRuns: 2,
		StepParallelism:   4,
	}
	if limits != nil {
		limits(&l)
	}
	env := &testEnv{
		runs:     &testutil.MockPipelineRunRepo{},
		backends: fakeBackends{"db": salesDB(t), "geo": regionsDB(t)},
	}
	env.orch = NewOrchestrator(
		testutil.StaticPipelines(pipelines...),
		env.runs,
		testutil.StaticDataSources(salesSource(), regionsSource()),
		env.backends,
		l,
		discardLogger(),
	)
	t.Cleanup(env.orch.Close)
	return env
}
