package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"duck-bi/internal/domain"
	"duck-bi/internal/storage"
)

// DataSourceResolver looks up data sources from the catalog.
type DataSourceResolver interface {
	ResolveDataSource(ctx context.Context, id string) (*domain.DataSource, error)
}

// Registry opens backends by data source id and keeps them open for reuse.
type Registry struct {
	sources DataSourceResolver
	fetcher *storage.Fetcher
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]Backend
}

// NewRegistry creates a Registry.
func NewRegistry(sources DataSourceResolver, fetcher *storage.Fetcher, logger *slog.Logger) *Registry {
	return &Registry{
		sources: sources,
		fetcher: fetcher,
		logger:  logger,
		open:    make(map[string]Backend),
	}
}

// Backend returns the backend for a data source, opening it on first use.
// Catalog lookup errors are returned unchanged; connection failures are
// wrapped in a DataSourceError.
func (r *Registry) Backend(ctx context.Context, dataSourceID string) (Backend, error) {
	r.mu.Lock()
	if b, ok := r.open[dataSourceID]; ok {
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	ds, err := r.sources.ResolveDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	b, err := r.Open(ctx, ds)
	if err != nil {
		return nil, domain.ErrDataSource(ds.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.open[dataSourceID]; ok {
		// Lost a race with another opener.
		_ = b.Close()
		return existing, nil
	}
	r.open[dataSourceID] = b
	r.logger.Info("opened data source backend", "data_source_id", ds.ID, "type", ds.Type)
	return b, nil
}

// Open creates an uncached backend for ds.
func (r *Registry) Open(ctx context.Context, ds *domain.DataSource) (Backend, error) {
	if ds.Type.IsFile() {
		return OpenFile(ctx, ds, r.fetcher)
	}
	switch ds.Type {
	case domain.DataSourcePostgreSQL:
		return OpenPostgres(ctx, ds.Config.DSN)
	case domain.DataSourceSQLite, domain.DataSourceDuckDB:
		lf, err := r.fetcher.Fetch(ctx, ds.Config.Path)
		if err != nil {
			return nil, err
		}
		var b *SQLBackend
		if ds.Type == domain.DataSourceSQLite {
			b, err = OpenSQLite(lf.Path)
		} else {
			b, err = OpenDuckDB(ctx, lf.Path)
		}
		if err != nil {
			lf.Release()
			return nil, err
		}
		b.release = lf.Release
		return b, nil
	}
	return nil, domain.ErrValidation("unsupported data source type %q", ds.Type)
}

// Close closes every open backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, b := range r.open {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.open, id)
	}
	return errors.Join(errs...)
}
