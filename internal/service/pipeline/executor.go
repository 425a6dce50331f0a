package pipeline

import (
	"context"
	"errors"
	"fmt"

	"duck-bi/internal/backend"
	"duck-bi/internal/domain"
)

// BackendProvider hands out the backend serving a data source.
type BackendProvider interface {
	Backend(ctx context.Context, dataSourceID string) (backend.Backend, error)
}

// Executor turns planned steps into relations.
type Executor struct {
	backends BackendProvider
}

// NewExecutor creates an Executor reading sources through backends.
func NewExecutor(backends BackendProvider) *Executor {
	return &Executor{backends: backends}
}

// Execute builds the relation of one step from its input relations, given in
// the order of ps.Inputs. limit caps rows read by source steps; zero means no
// cap. Nothing runs until the relation is counted or materialized.
func (e *Executor) Execute(ctx context.Context, engine *backend.Engine, ps PlannedStep, inputs []*backend.Relation, limit int) (*backend.Relation, error) {
	if len(inputs) != len(ps.Inputs) {
		return nil, fmt.Errorf("step %d expects %d inputs, got %d", ps.Step.Order, len(ps.Inputs), len(inputs))
	}

	switch c := ps.Step.Config.(type) {
	case *domain.SourceConfig:
		return e.source(ctx, engine, c, limit)
	case *domain.FilterConfig:
		return engine.Filter(ctx, inputs[0], c.Conditions, c.LogicalOperator)
	case *domain.JoinConfig:
		return engine.Join(ctx, inputs[0], inputs[1], c)
	case *domain.AggregateConfig:
		return engine.Aggregate(ctx, inputs[0], c.GroupBy, c.Aggregations)
	case *domain.SelectConfig:
		return engine.Select(ctx, inputs[0], c.Columns, c.Rename)
	case *domain.SortConfig:
		return engine.Sort(ctx, inputs[0], c.Columns, c.Ascending)
	case *domain.UnionConfig:
		return engine.Union(ctx, inputs, c.Dedup())
	}
	return nil, domain.ErrValidation("unsupported step type %q", ps.Step.Type)
}

func (e *Executor) source(ctx context.Context, engine *backend.Engine, c *domain.SourceConfig, limit int) (*backend.Relation, error) {
	b, err := e.backends.Backend(ctx, c.DataSourceID)
	if err != nil {
		return nil, err
	}
	rel, err := engine.Source(ctx, b, backend.SourceRequest{
		Schema:  c.SchemaName,
		Table:   c.TableName,
		Columns: c.Columns,
		Limit:   limit,
	})
	if err != nil {
		var schemaErr *domain.SchemaError
		var valErr *domain.ValidationError
		if errors.As(err, &schemaErr) || errors.As(err, &valErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, domain.ErrDataSource(c.DataSourceID, err)
	}
	return rel, nil
}
