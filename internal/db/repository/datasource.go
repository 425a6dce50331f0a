package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duck-bi/internal/db/crypto"
	"duck-bi/internal/domain"
)

// Compile-time check.
var _ domain.DataSourceRepository = (*DataSourceRepo)(nil)

// DataSourceRepo implements DataSourceRepository using SQLite. Connection
// configs are sealed with the metastore encryption key.
type DataSourceRepo struct {
	db  *sql.DB
	enc *crypto.Encryptor
}

// NewDataSourceRepo creates a new DataSourceRepo.
func NewDataSourceRepo(db *sql.DB, enc *crypto.Encryptor) *DataSourceRepo {
	return &DataSourceRepo{db: db, enc: enc}
}

const dataSourceColumns = `id, name, type, description, config_sealed, tables_json, created_at, updated_at`

// CreateDataSource registers a data source.
func (r *DataSourceRepo) CreateDataSource(ctx context.Context, req *domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sealed, err := r.enc.SealJSON(req.Config)
	if err != nil {
		return nil, fmt.Errorf("seal connection config: %w", err)
	}
	tables := req.Tables
	if tables == nil {
		tables = []domain.TableSchema{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("marshal tables: %w", err)
	}
	id := req.ID
	if id == "" {
		id = domain.NewID()
	}
	ts := now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO data_sources (`+dataSourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.Name, string(req.Type), req.Description, sealed, string(tablesJSON), ts, ts)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.ResolveDataSource(ctx, id)
}

// ResolveDataSource returns a data source by id with its connection config opened.
func (r *DataSourceRepo) ResolveDataSource(ctx context.Context, id string) (*domain.DataSource, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = ?`, id)
	ds, err := r.scan(row)
	if err != nil {
		return nil, notFound(err, "data source", id)
	}
	return ds, nil
}

// ListDataSources returns a paginated list of data sources ordered by name.
func (r *DataSourceRepo) ListDataSources(ctx context.Context, page domain.PageRequest) ([]domain.DataSource, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM data_sources`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dataSourceColumns+` FROM data_sources ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.DataSource
	for rows.Next() {
		ds, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *ds)
	}
	return out, total, rows.Err()
}

// UpdateTables replaces the cached table metadata of a data source.
func (r *DataSourceRepo) UpdateTables(ctx context.Context, id string, tables []domain.TableSchema) (*domain.DataSource, error) {
	if tables == nil {
		tables = []domain.TableSchema{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("marshal tables: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE data_sources SET tables_json = ?, updated_at = ? WHERE id = ?`,
		string(tablesJSON), now(), id)
	if err != nil {
		return nil, mapDBError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, domain.ErrNotFound("data source %q not found", id)
	}
	return r.ResolveDataSource(ctx, id)
}

func (r *DataSourceRepo) scan(s rowScanner) (*domain.DataSource, error) {
	var (
		ds            domain.DataSource
		typ           string
		sealed, table string
	)
	if err := s.Scan(&ds.ID, &ds.Name, &typ, &ds.Description, &sealed, &table, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	ds.Type = domain.DataSourceType(typ)
	if err := r.enc.OpenJSON(sealed, &ds.Config); err != nil {
		return nil, fmt.Errorf("data source %s: open connection config: %w", ds.ID, err)
	}
	if err := json.Unmarshal([]byte(table), &ds.Tables); err != nil {
		return nil, fmt.Errorf("data source %s: decode tables: %w", ds.ID, err)
	}
	return &ds, nil
}
