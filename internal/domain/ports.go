package domain

import (
	"context"
	"time"
)

// PipelineRepository stores pipeline definitions.
type PipelineRepository interface {
	CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*PipelineDefinition, error)
	GetPipeline(ctx context.Context, id string) (*PipelineDefinition, error)
	ListPipelines(ctx context.Context, page PageRequest) ([]PipelineDefinition, int64, error)
	ListScheduledPipelines(ctx context.Context) ([]PipelineDefinition, error)
}

// DataSourceRepository stores registered data sources.
type DataSourceRepository interface {
	CreateDataSource(ctx context.Context, req *CreateDataSourceRequest) (*DataSource, error)
	ResolveDataSource(ctx context.Context, id string) (*DataSource, error)
	ListDataSources(ctx context.Context, page PageRequest) ([]DataSource, int64, error)
	// UpdateTables replaces the cached table metadata of a data source.
	UpdateTables(ctx context.Context, id string, tables []TableSchema) (*DataSource, error)
}

// EntityRepository stores semantic entities with their dimensions and measures.
type EntityRepository interface {
	CreateEntity(ctx context.Context, req *CreateEntityRequest) (*Entity, error)
	GetEntity(ctx context.Context, id string) (*Entity, error)
	ListEntities(ctx context.Context, page PageRequest) ([]Entity, int64, error)
}

// PipelineRunRepository stores run records. UpdateRunFinished is the single
// completion mutation; MarkRunPartial only applies to successful runs.
type PipelineRunRepository interface {
	CreateRun(ctx context.Context, run *PipelineRun) (*PipelineRun, error)
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	ListRuns(ctx context.Context, filter PipelineRunFilter) ([]PipelineRun, int64, error)
	UpdateRunStarted(ctx context.Context, id string, startedAt time.Time) error
	UpdateRunFinished(ctx context.Context, id string, outcome RunOutcome, completedAt time.Time) error
	MarkRunPartial(ctx context.Context, id string, message string) error
}

// QueryHistoryRepository records semantic query executions.
type QueryHistoryRepository interface {
	Insert(ctx context.Context, e *QueryHistoryEntry) error
	List(ctx context.Context, filter QueryHistoryFilter) ([]QueryHistoryEntry, int64, error)
}
