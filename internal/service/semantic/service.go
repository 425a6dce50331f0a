package semantic

import (
	"context"
	"log/slog"
	"time"

	"duck-bi/internal/config"
	"duck-bi/internal/domain"
)

// Service provides entity management and semantic query execution.
type Service struct {
	entities domain.EntityRepository
	history  domain.QueryHistoryRepository
	backends BackendProvider
	compiler *Compiler
	timeout  time.Duration
	logger   *slog.Logger
}

// NewService creates a new semantic Service.
func NewService(
	entities domain.EntityRepository,
	history domain.QueryHistoryRepository,
	backends BackendProvider,
	limits config.ExecutionConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		entities: entities,
		history:  history,
		backends: backends,
		compiler: NewCompiler(limits.QueryDefaultLimit, limits.QueryMaxLimit),
		timeout:  limits.RunTimeout,
		logger:   logger,
	}
}

// CreateEntity registers an entity with its dimensions and measures.
func (s *Service) CreateEntity(ctx context.Context, req domain.CreateEntityRequest) (*domain.Entity, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.entities.CreateEntity(ctx, &req)
}

// GetEntity retrieves an entity by id.
func (s *Service) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	return s.entities.GetEntity(ctx, id)
}

// ListEntities lists entities.
func (s *Service) ListEntities(ctx context.Context, page domain.PageRequest) ([]domain.Entity, int64, error) {
	return s.entities.ListEntities(ctx, page)
}

// ListHistory lists recorded query executions, newest first.
func (s *Service) ListHistory(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	return s.history.List(ctx, filter)
}
