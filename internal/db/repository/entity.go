package repository

import (
	"context"
	"database/sql"
	"fmt"

	"duck-bi/internal/domain"
)

// Compile-time check.
var _ domain.EntityRepository = (*EntityRepo)(nil)

// EntityRepo implements EntityRepository using SQLite.
type EntityRepo struct {
	db *sql.DB
}

// NewEntityRepo creates a new EntityRepo.
func NewEntityRepo(db *sql.DB) *EntityRepo {
	return &EntityRepo{db: db}
}

// CreateEntity inserts an entity with its dimensions and measures in one transaction.
func (r *EntityRepo) CreateEntity(ctx context.Context, req *domain.CreateEntityRequest) (*domain.Entity, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = domain.NewID()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (id, name, description, data_source_id, primary_table, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, req.Name, req.Description, req.DataSourceID, req.PrimaryTable, ts, ts); err != nil {
		return nil, mapDBError(err)
	}
	for i, d := range req.Dimensions {
		did := d.ID
		if did == "" {
			did = domain.NewID()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_dimensions (id, entity_id, name, sql_column, data_type, display_order)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			did, id, d.Name, d.SQLColumn, d.DataType, i); err != nil {
			return nil, mapDBError(err)
		}
	}
	for i, m := range req.Measures {
		mid := m.ID
		if mid == "" {
			mid = domain.NewID()
		}
		fn, err := domain.ParseMeasureFunc(string(m.AggregationFunction))
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_measures (id, entity_id, name, aggregation_function, base_column, display_order)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			mid, id, m.Name, string(fn), m.BaseColumn, i); err != nil {
			return nil, mapDBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetEntity(ctx, id)
}

// GetEntity returns an entity with its dimensions and measures.
func (r *EntityRepo) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	var e domain.Entity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, data_source_id, primary_table, created_at, updated_at
		 FROM entities WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.Description, &e.DataSourceID, &e.PrimaryTable, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "entity", id)
	}
	if err := r.loadFields(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntities returns a paginated list of entities ordered by name.
func (r *EntityRepo) ListEntities(ctx context.Context, page domain.PageRequest) ([]domain.Entity, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM entities`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM entities ORDER BY name LIMIT ? OFFSET ?`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck,gosec
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, 0, err
	}

	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := r.GetEntity(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, nil
}

func (r *EntityRepo) loadFields(ctx context.Context, e *domain.Entity) error {
	drows, err := r.db.QueryContext(ctx,
		`SELECT id, name, sql_column, data_type FROM entity_dimensions
		 WHERE entity_id = ? ORDER BY display_order`, e.ID)
	if err != nil {
		return err
	}
	defer drows.Close() //nolint:errcheck
	for drows.Next() {
		var d domain.Dimension
		if err := drows.Scan(&d.ID, &d.Name, &d.SQLColumn, &d.DataType); err != nil {
			return err
		}
		e.Dimensions = append(e.Dimensions, d)
	}
	if err := drows.Err(); err != nil {
		return err
	}

	mrows, err := r.db.QueryContext(ctx,
		`SELECT id, name, aggregation_function, base_column FROM entity_measures
		 WHERE entity_id = ? ORDER BY display_order`, e.ID)
	if err != nil {
		return err
	}
	defer mrows.Close() //nolint:errcheck
	for mrows.Next() {
		var (
			m  domain.Measure
			fn string
		)
		if err := mrows.Scan(&m.ID, &m.Name, &fn, &m.BaseColumn); err != nil {
			return err
		}
		m.AggregationFunction = domain.MeasureFunc(fn)
		e.Measures = append(e.Measures, m)
	}
	return mrows.Err()
}
