package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-bi/internal/config"
	"duck-bi/internal/domain"
)

func TestOrchestrator_ExecutePipeline_Success(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))

	res, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)

	assert.Equal(t, []string{"region", "total"}, res.Data.Columns)
	assert.Equal(t, [][]any{{"North", int64(150)}, {"South", int64(50)}}, res.Data.Rows)
	assert.Equal(t, int64(2), res.RowsProcessed)
	require.Len(t, res.ExecutionLog, 3)
	for _, entry := range res.ExecutionLog {
		assert.Equal(t, domain.StepStatusSuccess, entry.Status)
	}
	assert.Equal(t, 4, res.ExecutionLog[1].RowsIn)
	assert.Equal(t, 3, res.ExecutionLog[1].RowsOut)

	run, err := env.orch.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, domain.TriggerManual, run.TriggerType)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.ErrorMessage)
	assert.Len(t, run.ExecutionLog, 3)
}

func TestOrchestrator_ValidationFailureCreatesNoRun(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "bad", `[
		{"order": 0, "type": "filter", "config": {"conditions": [{"column": "x", "operator": "is null"}]}}
	]`))

	_, err := env.orch.ExecutePipeline(context.Background(), "bad", domain.ExecuteOptions{})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.NotEmpty(t, valErr.Problems)
	assert.Equal(t, 0, env.runs.Count())

	_, err = env.orch.SubmitPipeline(context.Background(), "bad", domain.ExecuteOptions{})
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, 0, env.runs.Count())
}

func TestOrchestrator_UnknownPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.orch.ExecutePipeline(context.Background(), "nope", domain.ExecuteOptions{})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestOrchestrator_StepFailureRecordsStep(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "p", `[
		{"order": 0, "type": "source", "config": {"data_source_id": "db", "table_name": "sales"}},
		{"order": 1, "type": "select", "name": "pick", "config": {"columns": ["missing"]}},
		{"order": 2, "type": "sort", "config": {"columns": ["missing"]}}
	]`))

	res, err := env.orch.ExecutePipeline(context.Background(), "p", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.Nil(t, res.Data, "no partial output on failure")
	assert.Contains(t, res.ErrorMessage, "step 1 (pick)")
	assert.Contains(t, res.ErrorMessage, `column "missing" not found`)

	require.Len(t, res.ExecutionLog, 3)
	assert.Equal(t, domain.StepStatusSuccess, res.ExecutionLog[0].Status)
	assert.Equal(t, domain.StepStatusFailed, res.ExecutionLog[1].Status)
	assert.Equal(t, domain.StepStatusSkipped, res.ExecutionLog[2].Status)

	run, err := env.orch.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, res.ErrorMessage, *run.ErrorMessage)
}

func TestOrchestrator_DataSourceFailure(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))
	env.backends["db"].err = errors.New("authentication failed")

	res, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, "data source db")
	assert.Contains(t, res.ErrorMessage, "authentication failed")
}

func TestOrchestrator_Timeout(t *testing.T) {
	env := newTestEnv(t, func(c *config.ExecutionConfig) {
		c.RunTimeout = 20 * time.Millisecond
	}, newPipeline(t, "totals", regionTotals))
	env.backends["db"].block = true

	res, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.True(t, strings.HasPrefix(res.ErrorMessage, "execution timeout"), res.ErrorMessage)
	assert.Contains(t, res.ErrorMessage, "step 0")
}

func TestOrchestrator_PreviewLimitIsPushedDown(t *testing.T) {
	tests := []struct {
		name      string
		opts      domain.ExecuteOptions
		wantLimit int
		wantTrig  string
	}{
		{"preview default cap", domain.ExecuteOptions{PreviewMode: true}, 2, domain.TriggerPreview},
		{"preview caps larger limit", domain.ExecuteOptions{PreviewMode: true, Limit: 10}, 2, domain.TriggerPreview},
		{"preview keeps smaller limit", domain.ExecuteOptions{PreviewMode: true, Limit: 1}, 1, domain.TriggerPreview},
		{"explicit limit", domain.ExecuteOptions{Limit: 3}, 3, domain.TriggerManual},
		{"no limit", domain.ExecuteOptions{}, 0, domain.TriggerManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.ExecutionConfig) {
				c.PreviewRowLimit = 2
			}, newPipeline(t, "totals", regionTotals))

			res, err := env.orch.ExecutePipeline(context.Background(), "totals", tt.opts)
			require.NoError(t, err)
			require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)
			stmts := env.backends["db"].statements()
			require.NotEmpty(t, stmts)
			for _, stmt := range stmts {
				if tt.wantLimit > 0 {
					assert.Contains(t, stmt, fmt.Sprintf(`FROM "sales" LIMIT %d`, tt.wantLimit))
				} else {
					assert.NotContains(t, stmt, "LIMIT")
				}
			}

			run, err := env.orch.GetRun(context.Background(), res.RunID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrig, run.TriggerType)
			assert.Equal(t, tt.opts.PreviewMode, run.PreviewMode)
		})
	}
}

func TestOrchestrator_NegativeLimit(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))
	_, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{Limit: -1})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestOrchestrator_ReportDeliveryFailure(t *testing.T) {
	env := newTestEnv(t, nil,
		newPipeline(t, "totals", regionTotals),
		newPipeline(t, "broken", `[
			{"order": 0, "type": "source", "config": {"data_source_id": "db", "table_name": "missing"}}
		]`),
	)
	ctx := context.Background()

	ok, err := env.orch.ExecutePipeline(ctx, "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.NoError(t, env.orch.ReportDeliveryFailure(ctx, ok.RunID, "smtp unreachable"))

	run, err := env.orch.GetRun(ctx, ok.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "smtp unreachable")

	failed, err := env.orch.ExecutePipeline(ctx, "broken", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.RunFailed, failed.Status)
	var conflict *domain.ConflictError
	require.ErrorAs(t, env.orch.ReportDeliveryFailure(ctx, failed.RunID, "x"), &conflict)

	var valErr *domain.ValidationError
	require.ErrorAs(t, env.orch.ReportDeliveryFailure(ctx, ok.RunID, ""), &valErr)
}

func TestOrchestrator_SubmitPipeline(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))

	run, err := env.orch.SubmitPipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.Status)

	env.orch.Wait()
	got, err := env.orch.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, got.Status)
	assert.Equal(t, int64(2), got.RowsProcessed)

	runs, total, err := env.orch.ListRuns(context.Background(), domain.PipelineRunFilter{PipelineID: "totals"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, runs, 1)
}

func TestOrchestrator_ParallelLevelsAreDeterministic(t *testing.T) {
	const branches = `[
		{"order": 0, "type": "source", "output_alias": "a", "config": {"data_source_id": "db", "table_name": "sales"}},
		{"order": 1, "type": "source", "output_alias": "b", "config": {"data_source_id": "db", "table_name": "sales", "columns": ["amount", "region"]}},
		{"order": 2, "type": "filter", "output_alias": "north", "config": {"input": "a", "conditions": [{"column": "region", "operator": "==", "value": "North"}]}},
		{"order": 3, "type": "filter", "output_alias": "small", "config": {"input": "b", "conditions": [{"column": "amount", "operator": "<", "value": 60}]}},
		{"order": 4, "type": "union", "config": {"sources": ["north", "small"], "remove_duplicates": false}}
	]`

	var results []*domain.Dataset
	for _, parallelism := range []int{1, 4} {
		env := newTestEnv(t, func(c *config.ExecutionConfig) {
			c.StepParallelism = parallelism
		}, newPipeline(t, "branches", branches))
		res, err := env.orch.ExecutePipeline(context.Background(), "branches", domain.ExecuteOptions{})
		require.NoError(t, err)
		require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)
		results = append(results, res.Data)
	}
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 5, results[0].Len())
}

func TestOrchestrator_LowestOrderFailureWins(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "p", `[
		{"order": 0, "type": "source", "output_alias": "a", "config": {"data_source_id": "db", "table_name": "nope_a"}},
		{"order": 1, "type": "source", "output_alias": "b", "config": {"data_source_id": "db", "table_name": "nope_b"}},
		{"order": 2, "type": "union", "config": {"sources": ["a", "b"]}}
	]`))

	res, err := env.orch.ExecutePipeline(context.Background(), "p", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.True(t, strings.HasPrefix(res.ErrorMessage, "step 0 "), res.ErrorMessage)
}

func TestOrchestrator_Validate(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))
	report, err := env.orch.Validate(context.Background(), "totals")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, env.runs.Count(), "validation never creates runs")
}

func TestOrchestrator_StepsArePushedDownToTheSource(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))

	res, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)

	stmts := env.backends["db"].statements()
	require.NotEmpty(t, stmts)
	final := stmts[len(stmts)-1]
	assert.Contains(t, final, `WHERE ("amount" >= ?)`)
	assert.Contains(t, final, `GROUP BY "region"`)
	for _, stmt := range stmts {
		assert.NotEqual(t, `SELECT * FROM "sales"`, stmt, "the table is never read whole")
	}
}

func TestOrchestrator_CrossSourceJoinRunsLocally(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "managers", `[
		{"order": 0, "type": "source", "output_alias": "s", "config": {"data_source_id": "db", "table_name": "sales"}},
		{"order": 1, "type": "source", "output_alias": "r", "config": {"data_source_id": "geo", "table_name": "regions"}},
		{"order": 2, "type": "join", "config": {"left_source": "s", "right_source": "r", "join_type": "left", "left_on": "region", "right_on": "region"}},
		{"order": 3, "type": "filter", "config": {"conditions": [{"column": "amount", "operator": ">", "value": 20}]}}
	]`))

	res, err := env.orch.ExecutePipeline(context.Background(), "managers", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)

	assert.Equal(t, []string{"region", "amount", "manager"}, res.Data.Columns)
	assert.Equal(t, [][]any{
		{"North", int64(100), "Ann"},
		{"South", int64(50), "Bo"},
		{"North", int64(50), "Ann"},
	}, res.Data.Rows)
	assert.Equal(t, 4, res.ExecutionLog[2].RowsOut)
	assert.Equal(t, 4, res.ExecutionLog[3].RowsIn)

	for _, id := range []string{"db", "geo"} {
		for _, stmt := range env.backends[id].statements() {
			assert.NotContains(t, stmt, "JOIN", "join must not reach data source %s", id)
		}
	}
}

func TestOrchestrator_UnsupportedAggregateFallsBackToLocal(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "medians", `[
		{"order": 0, "type": "source", "config": {"data_source_id": "db", "table_name": "sales"}},
		{"order": 1, "type": "aggregate", "config": {"group_by": ["region"], "aggregations": [
			{"column": "amount", "function": "median", "alias": "mid"},
			{"column": "amount", "function": "count", "alias": "n"}
		]}}
	]`))

	res, err := env.orch.ExecutePipeline(context.Background(), "medians", domain.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, res.Status, res.ErrorMessage)

	require.Equal(t, 3, res.Data.Len())
	assert.Equal(t, []any{"East", "North", "South"}, []any{res.Data.Rows[0][0], res.Data.Rows[1][0], res.Data.Rows[2][0]})
	assert.EqualValues(t, 10, res.Data.Rows[0][1])
	assert.EqualValues(t, 75, res.Data.Rows[1][1])
	assert.EqualValues(t, 2, res.Data.Rows[1][2])
	for _, stmt := range env.backends["db"].statements() {
		assert.NotContains(t, stmt, "median")
	}
}

func TestOrchestrator_RunStartFailureFailsTheRun(t *testing.T) {
	env := newTestEnv(t, nil, newPipeline(t, "totals", regionTotals))
	env.runs.UpdateRunStartedFn = func(context.Context, string, time.Time) error {
		return errors.New("database is locked")
	}

	res, err := env.orch.ExecutePipeline(context.Background(), "totals", domain.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, "database is locked")

	run, err := env.orch.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status, "run must not stay queued")
	assert.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "database is locked")
}
