// Package app provides application-level wiring and dependency injection
// for the duck-bi server and CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"duck-bi/internal/api"
	"duck-bi/internal/backend"
	"duck-bi/internal/config"
	"duck-bi/internal/db/crypto"
	"duck-bi/internal/db/repository"
	"duck-bi/internal/middleware"
	"duck-bi/internal/service/catalog"
	"duck-bi/internal/service/pipeline"
	"duck-bi/internal/service/semantic"
	"duck-bi/internal/storage"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	MetaDB *sql.DB
	Logger *slog.Logger
}

// Repositories groups the metastore repositories.
type Repositories struct {
	Pipelines   *repository.PipelineRepo
	DataSources *repository.DataSourceRepo
	Entities    *repository.EntityRepo
	Runs        *repository.PipelineRunRepo
	History     *repository.QueryHistoryRepo
}

// Services groups the services the API handler, scheduler and CLI use.
type Services struct {
	Pipelines *pipeline.Orchestrator
	Semantic  *semantic.Service
	Scheduler *pipeline.Scheduler
	Catalog   *catalog.Service
}

// App holds the fully-wired application.
type App struct {
	Repos    Repositories
	Services Services
	Backends *backend.Registry
	Limiter  *middleware.RateLimiter

	cfg    *config.Config
	logger *slog.Logger
}

// New wires repositories, backends and services from the provided deps.
// Runs left unfinished by a previous process are failed before the
// orchestrator is created.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	repos := Repositories{
		Pipelines:   repository.NewPipelineRepo(deps.MetaDB),
		DataSources: repository.NewDataSourceRepo(deps.MetaDB, encryptor),
		Entities:    repository.NewEntityRepo(deps.MetaDB),
		Runs:        repository.NewPipelineRunRepo(deps.MetaDB),
		History:     repository.NewQueryHistoryRepo(deps.MetaDB),
	}

	if err := restoreInterruptedRuns(ctx, repos.Runs, deps.Logger); err != nil {
		return nil, err
	}

	fetcher := storage.NewFetcherFromConfig(cfg, deps.Logger.With("component", "storage"))
	backends := backend.NewRegistry(repos.DataSources, fetcher, deps.Logger.With("component", "backend"))

	orchestrator := pipeline.NewOrchestrator(
		repos.Pipelines, repos.Runs, repos.DataSources, backends,
		cfg.Execution, deps.Logger.With("component", "pipeline"),
	)
	semanticSvc := semantic.NewService(
		repos.Entities, repos.History, backends,
		cfg.Execution, deps.Logger.With("component", "semantic"),
	)
	scheduler := pipeline.NewScheduler(
		orchestrator, repos.Pipelines, pipeline.NewCSVDeliverer(cfg.DeliveryDir),
		deps.Logger.With("component", "scheduler"),
	)

	catalogSvc := catalog.NewService(repos.DataSources, backends, deps.Logger.With("component", "catalog"))

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	return &App{
		Repos: repos,
		Services: Services{
			Pipelines: orchestrator,
			Semantic:  semanticSvc,
			Scheduler: scheduler,
			Catalog:   catalogSvc,
		},
		Backends: backends,
		Limiter:  limiter,
		cfg:      cfg,
		logger:   deps.Logger,
	}, nil
}

// Handler returns the HTTP handler serving the REST API.
func (a *App) Handler() http.Handler {
	h := api.NewHandler(a.Services.Pipelines, a.Services.Semantic, a.Services.Catalog, a.logger.With("component", "api"))
	return api.NewRouter(h, api.RouterConfig{
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		RateLimiter:    a.Limiter,
		Logger:         a.logger,
	})
}

// Close waits for background runs and closes every open backend.
func (a *App) Close() error {
	a.Services.Pipelines.Close()
	return a.Backends.Close()
}
