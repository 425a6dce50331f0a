// Package semantic compiles entity, dimension and measure selections into a
// single SQL statement and runs it against the entity's data source.
package semantic

import (
	"context"

	"duck-bi/internal/backend"
	"duck-bi/internal/domain"
)

// BackendProvider returns the open backend for a data source id.
type BackendProvider interface {
	Backend(ctx context.Context, dataSourceID string) (backend.Backend, error)
}

// QueryPlan captures a compiled request and where it runs.
type QueryPlan struct {
	Entity   *domain.Entity
	Backend  backend.Backend
	Compiled *domain.CompiledQuery
	// Relation is the table name file backends expose the source file under.
	Relation string
}
