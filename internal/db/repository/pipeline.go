package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duck-bi/internal/domain"
)

// Compile-time check.
var _ domain.PipelineRepository = (*PipelineRepo)(nil)

// PipelineRepo implements PipelineRepository using SQLite. Steps are stored
// as one JSON document and decoded through the strict step-config parser.
type PipelineRepo struct {
	db *sql.DB
}

// NewPipelineRepo creates a new PipelineRepo.
func NewPipelineRepo(db *sql.DB) *PipelineRepo {
	return &PipelineRepo{db: db}
}

const pipelineColumns = `id, name, description, steps_json, schedule_cron, created_at, updated_at`

// CreatePipeline inserts a pipeline definition.
func (r *PipelineRepo) CreatePipeline(ctx context.Context, req *domain.CreatePipelineRequest) (*domain.PipelineDefinition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	steps, err := json.Marshal(req.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	id := req.ID
	if id == "" {
		id = domain.NewID()
	}
	ts := now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pipelines (`+pipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, req.Name, req.Description, string(steps), req.ScheduleCron, ts, ts)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetPipeline(ctx, id)
}

// GetPipeline returns a pipeline definition by id.
func (r *PipelineRepo) GetPipeline(ctx context.Context, id string) (*domain.PipelineDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if err != nil {
		return nil, notFound(err, "pipeline", id)
	}
	return p, nil
}

// ListPipelines returns a paginated list of pipelines ordered by name.
func (r *PipelineRepo) ListPipelines(ctx context.Context, page domain.PageRequest) ([]domain.PipelineDefinition, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM pipelines`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck
	out, err := collectPipelines(rows)
	return out, total, err
}

// ListScheduledPipelines returns every pipeline with a cron schedule.
func (r *PipelineRepo) ListScheduledPipelines(ctx context.Context) ([]domain.PipelineDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE schedule_cron <> '' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	return collectPipelines(rows)
}

func collectPipelines(rows *sql.Rows) ([]domain.PipelineDefinition, error) {
	var out []domain.PipelineDefinition
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPipeline(s rowScanner) (*domain.PipelineDefinition, error) {
	var (
		p     domain.PipelineDefinition
		steps string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &steps, &p.ScheduleCron, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, fmt.Errorf("pipeline %s: decode steps: %w", p.ID, err)
	}
	return &p, nil
}
