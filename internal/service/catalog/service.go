// Package catalog keeps the cached table metadata of data sources in step
// with the sources themselves.
package catalog

import (
	"context"
	"errors"
	"log/slog"

	"duck-bi/internal/backend"
	"duck-bi/internal/domain"
)

// BackendProvider hands out the backend serving a data source.
type BackendProvider interface {
	Backend(ctx context.Context, dataSourceID string) (backend.Backend, error)
}

// Service introspects data sources and stores what it finds.
type Service struct {
	sources  domain.DataSourceRepository
	backends BackendProvider
	logger   *slog.Logger
}

// NewService creates a catalog Service.
func NewService(sources domain.DataSourceRepository, backends BackendProvider, logger *slog.Logger) *Service {
	return &Service{sources: sources, backends: backends, logger: logger}
}

// RefreshSchema reads every table and its columns from the data source and
// replaces the cached metadata used by static pipeline validation.
func (s *Service) RefreshSchema(ctx context.Context, dataSourceID string) (*domain.DataSource, error) {
	ds, err := s.sources.ResolveDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	b, err := s.backends.Backend(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	tables, err := b.Tables(ctx)
	if err != nil {
		var dsErr *domain.DataSourceError
		if !errors.As(err, &dsErr) && ctx.Err() == nil {
			err = domain.ErrDataSource(ds.ID, err)
		}
		return nil, err
	}
	updated, err := s.sources.UpdateTables(ctx, ds.ID, tables)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "data source schema refreshed", "data_source_id", ds.ID, "tables", len(tables))
	return updated, nil
}
