package semantic

import (
	"context"
	"errors"
	"strings"
	"time"

	"duck-bi/internal/backend"
	"duck-bi/internal/domain"
	"duck-bi/internal/sqlgen"
)

// ExplainQuery compiles a request without executing it.
func (s *Service) ExplainQuery(ctx context.Context, req domain.QueryRequest) (*domain.ExplainResponse, error) {
	plan, err := s.plan(ctx, &req)
	if err != nil {
		return nil, err
	}
	args := plan.Compiled.Args
	if args == nil {
		args = []any{}
	}
	return &domain.ExplainResponse{
		SQL:        plan.Compiled.SQL,
		Args:       args,
		Columns:    plan.Compiled.Columns,
		EntityName: plan.Entity.Name,
		DataSource: plan.Entity.DataSourceID,
	}, nil
}

// ExecuteQuery compiles a request, runs the single resulting statement on the
// entity's data source and records the execution in the query history.
func (s *Service) ExecuteQuery(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	plan, err := s.plan(ctx, &req)
	if err != nil {
		s.record(ctx, req, "", 0, time.Since(start), err)
		return nil, err
	}

	queryCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	ds, err := plan.Backend.Query(queryCtx, backend.Statement{
		SQL:   plan.Compiled.SQL,
		Args:  plan.Compiled.Args,
		Table: plan.Relation,
	})
	if err != nil {
		err = s.classify(ctx, queryCtx, plan.Entity.DataSourceID, err)
		s.record(ctx, req, plan.Compiled.SQL, 0, time.Since(start), err)
		return nil, err
	}

	elapsed := time.Since(start)
	s.record(ctx, req, plan.Compiled.SQL, ds.Len(), elapsed, nil)
	s.logger.Info("semantic query executed",
		"entity", plan.Entity.Name,
		"rows", ds.Len(),
		"duration", elapsed,
	)

	return &domain.QueryResponse{
		Columns:       ds.Columns,
		Data:          ds.Records(),
		RowCount:      ds.Len(),
		GeneratedSQL:  plan.Compiled.SQL,
		EntityName:    plan.Entity.Name,
		ExecutionTime: elapsed.Seconds(),
	}, nil
}

// plan resolves the entity and its backend and compiles the request for the
// backend's dialect.
func (s *Service) plan(ctx context.Context, req *domain.QueryRequest) (*QueryPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entity, err := s.entities.GetEntity(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	b, err := s.backends.Backend(ctx, entity.DataSourceID)
	if err != nil {
		return nil, err
	}

	relation := ""
	var from string
	if b.Type().IsFile() {
		relation = entity.PrimaryTable
		from = sqlgen.QuoteIdentifier(relation)
	} else {
		schema, table, found := strings.Cut(entity.PrimaryTable, ".")
		if !found {
			schema, table = "", entity.PrimaryTable
		}
		from = sqlgen.QuoteQualified(schema, table)
	}

	compiled, err := s.compiler.Compile(entity, req, b.Dialect(), from)
	if err != nil {
		return nil, err
	}
	return &QueryPlan{Entity: entity, Backend: b, Compiled: compiled, Relation: relation}, nil
}

func (s *Service) classify(ctx, queryCtx context.Context, dataSourceID string, err error) error {
	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &domain.TimeoutError{Budget: s.timeout.String()}
	}
	var schemaErr *domain.SchemaError
	var dsErr *domain.DataSourceError
	if errors.As(err, &schemaErr) || errors.As(err, &dsErr) || ctx.Err() != nil {
		return err
	}
	return domain.ErrDataSource(dataSourceID, err)
}

// record stores one history entry. History failures are logged, never
// returned to the caller.
func (s *Service) record(ctx context.Context, req domain.QueryRequest, sql string, rows int, d time.Duration, execErr error) {
	entry := &domain.QueryHistoryEntry{
		ID:           domain.NewID(),
		EntityID:     req.EntityID,
		Request:      req,
		GeneratedSQL: sql,
		RowCount:     rows,
		Duration:     d,
		Status:       domain.QueryStatusSuccess,
		CreatedAt:    time.Now().UTC(),
	}
	if execErr != nil {
		msg := execErr.Error()
		entry.Status = domain.QueryStatusFailed
		entry.ErrorMessage = &msg
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record query history", "entity_id", req.EntityID, "error", err)
	}
}
