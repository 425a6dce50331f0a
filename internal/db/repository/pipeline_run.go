package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"duck-bi/internal/domain"
)

// Compile-time check.
var _ domain.PipelineRunRepository = (*PipelineRunRepo)(nil)

// PipelineRunRepo implements PipelineRunRepository using SQLite. Status
// transitions are guarded in the UPDATE predicates so a finished run cannot
// be completed twice.
type PipelineRunRepo struct {
	db *sql.DB
}

// NewPipelineRunRepo creates a new PipelineRunRepo.
func NewPipelineRunRepo(db *sql.DB) *PipelineRunRepo {
	return &PipelineRunRepo{db: db}
}

const pipelineRunColumns = `id, pipeline_id, status, trigger_type, preview_mode, rows_processed,
	execution_log, error_message, started_at, completed_at, created_at`

// CreateRun inserts a new run in the queued state.
func (r *PipelineRunRepo) CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	id := run.ID
	if id == "" {
		id = domain.NewID()
	}
	trigger := run.TriggerType
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, pipeline_id, status, trigger_type, preview_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, run.PipelineID, string(domain.RunQueued), trigger, boolToInt(run.PreviewMode), now())
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetRun(ctx, id)
}

// GetRun returns a run by id.
func (r *PipelineRunRepo) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pipelineRunColumns+` FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanPipelineRun(row)
	if err != nil {
		return nil, notFound(err, "run", id)
	}
	return run, nil
}

// ListRuns returns a filtered, paginated list of runs, newest first.
func (r *PipelineRunRepo) ListRuns(ctx context.Context, filter domain.PipelineRunFilter) ([]domain.PipelineRun, int64, error) {
	where := `WHERE (? = '' OR pipeline_id = ?) AND (? = '' OR status = ?)`
	args := []any{filter.PipelineID, filter.PipelineID, string(filter.Status), string(filter.Status)}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM pipeline_runs `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pipelineRunColumns+` FROM pipeline_runs `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// UpdateRunStarted moves a queued run to running.
func (r *PipelineRunRepo) UpdateRunStarted(ctx context.Context, id string, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(domain.RunRunning), startedAt.UTC(), id, string(domain.RunQueued))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransition(ctx, res, id, "start")
}

// UpdateRunFinished records the terminal outcome of a queued or running run.
func (r *PipelineRunRepo) UpdateRunFinished(ctx context.Context, id string, outcome domain.RunOutcome, completedAt time.Time) error {
	if outcome.Status != domain.RunSuccess && outcome.Status != domain.RunFailed {
		return domain.ErrValidation("run can only finish as success or failed, got %q", outcome.Status)
	}
	logJSON, err := marshalLog(outcome.ExecutionLog)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, rows_processed = ?, execution_log = ?, error_message = ?, completed_at = ?,
		     started_at = COALESCE(started_at, ?)
		 WHERE id = ? AND status IN (?, ?)`,
		string(outcome.Status), outcome.RowsProcessed, logJSON, nullStrFromPtr(outcome.ErrorMessage),
		completedAt.UTC(), completedAt.UTC(), id, string(domain.RunQueued), string(domain.RunRunning))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransition(ctx, res, id, "finish")
}

// MarkRunPartial records a downstream delivery failure on a successful run.
func (r *PipelineRunRepo) MarkRunPartial(ctx context.Context, id string, message string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, error_message = ? WHERE id = ? AND status = ?`,
		string(domain.RunPartial), "delivery failed: "+message, id, string(domain.RunSuccess))
	if err != nil {
		return mapDBError(err)
	}
	return r.checkTransition(ctx, res, id, "mark partial")
}

// FailInterruptedRuns finishes every queued or running run as failed. Only
// safe before any run is submitted, i.e. at process start.
func (r *PipelineRunRepo) FailInterruptedRuns(ctx context.Context, message string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, error_message = ?, completed_at = ?
		 WHERE status IN (?, ?)`,
		string(domain.RunFailed), message, at.UTC(), string(domain.RunQueued), string(domain.RunRunning))
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

// checkTransition distinguishes a missing run from a disallowed transition
// when an update matched no rows.
func (r *PipelineRunRepo) checkTransition(ctx context.Context, res sql.Result, id, action string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM pipeline_runs WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return notFound(err, "run", id)
	}
	return domain.ErrConflict("cannot %s run %s in status %s", action, id, status)
}

func marshalLog(log []domain.StepLog) (string, error) {
	if log == nil {
		log = []domain.StepLog{}
	}
	b, err := json.Marshal(log)
	if err != nil {
		return "", fmt.Errorf("marshal execution log: %w", err)
	}
	return string(b), nil
}

func scanPipelineRun(s rowScanner) (*domain.PipelineRun, error) {
	var (
		run       domain.PipelineRun
		status    string
		preview   int64
		logJSON   string
		errMsg    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := s.Scan(&run.ID, &run.PipelineID, &status, &run.TriggerType, &preview, &run.RowsProcessed,
		&logJSON, &errMsg, &started, &completed, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.PreviewMode = preview != 0
	run.ErrorMessage = ptrFromNullStr(errMsg)
	run.StartedAt = ptrFromNullTime(started)
	run.CompletedAt = ptrFromNullTime(completed)
	if err := json.Unmarshal([]byte(logJSON), &run.ExecutionLog); err != nil {
		return nil, fmt.Errorf("run %s: decode execution log: %w", run.ID, err)
	}
	return &run, nil
}
