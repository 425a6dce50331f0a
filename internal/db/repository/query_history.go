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
var _ domain.QueryHistoryRepository = (*QueryHistoryRepo)(nil)

// QueryHistoryRepo implements QueryHistoryRepository using SQLite.
type QueryHistoryRepo struct {
	db *sql.DB
}

// NewQueryHistoryRepo creates a new QueryHistoryRepo.
func NewQueryHistoryRepo(db *sql.DB) *QueryHistoryRepo {
	return &QueryHistoryRepo{db: db}
}

// Insert records a query execution.
func (r *QueryHistoryRepo) Insert(ctx context.Context, e *domain.QueryHistoryEntry) error {
	req, err := json.Marshal(e.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO query_history (id, entity_id, request_json, generated_sql, row_count, duration_ms, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, string(req), e.GeneratedSQL, e.RowCount, e.Duration.Milliseconds(),
		e.Status, nullStrFromPtr(e.ErrorMessage), e.CreatedAt)
	return mapDBError(err)
}

// List returns a filtered, paginated list of history entries, newest first.
func (r *QueryHistoryRepo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	where := `WHERE (? = '' OR entity_id = ?) AND (? = '' OR status = ?)`
	args := []any{filter.EntityID, filter.EntityID, filter.Status, filter.Status}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM query_history `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, request_json, generated_sql, row_count, duration_ms, status, error_message, created_at
		 FROM query_history `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.QueryHistoryEntry
	for rows.Next() {
		var (
			e          domain.QueryHistoryEntry
			req        string
			durationMs int64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &req, &e.GeneratedSQL, &e.RowCount, &durationMs,
			&e.Status, &errMsg, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(req), &e.Request); err != nil {
			return nil, 0, fmt.Errorf("history %s: decode request: %w", e.ID, err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.ErrorMessage = ptrFromNullStr(errMsg)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
