// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"duck-bi/internal/domain"
)

// === Pipeline Repository Mock ===

// MockPipelineRepo implements domain.PipelineRepository for testing.
type MockPipelineRepo struct {
	CreatePipelineFn         func(ctx context.Context, req *domain.CreatePipelineRequest) (*domain.PipelineDefinition, error)
	GetPipelineFn            func(ctx context.Context, id string) (*domain.PipelineDefinition, error)
	ListPipelinesFn          func(ctx context.Context, page domain.PageRequest) ([]domain.PipelineDefinition, int64, error)
	ListScheduledPipelinesFn func(ctx context.Context) ([]domain.PipelineDefinition, error)
}

// CreatePipeline implements the interface method for testing.
func (m *MockPipelineRepo) CreatePipeline(ctx context.Context, req *domain.CreatePipelineRequest) (*domain.PipelineDefinition, error) {
	if m.CreatePipelineFn != nil {
		return m.CreatePipelineFn(ctx, req)
	}
	panic("unexpected call to MockPipelineRepo.CreatePipeline")
}

// GetPipeline implements the interface method for testing.
func (m *MockPipelineRepo) GetPipeline(ctx context.Context, id string) (*domain.PipelineDefinition, error) {
	if m.GetPipelineFn != nil {
		return m.GetPipelineFn(ctx, id)
	}
	panic("unexpected call to MockPipelineRepo.GetPipeline")
}

// ListPipelines implements the interface method for testing.
func (m *MockPipelineRepo) ListPipelines(ctx context.Context, page domain.PageRequest) ([]domain.PipelineDefinition, int64, error) {
	if m.ListPipelinesFn != nil {
		return m.ListPipelinesFn(ctx, page)
	}
	panic("unexpected call to MockPipelineRepo.ListPipelines")
}

// ListScheduledPipelines implements the interface method for testing.
func (m *MockPipelineRepo) ListScheduledPipelines(ctx context.Context) ([]domain.PipelineDefinition, error) {
	if m.ListScheduledPipelinesFn != nil {
		return m.ListScheduledPipelinesFn(ctx)
	}
	panic("unexpected call to MockPipelineRepo.ListScheduledPipelines")
}

// StaticPipelines returns a MockPipelineRepo serving the given definitions by id.
func StaticPipelines(defs ...*domain.PipelineDefinition) *MockPipelineRepo {
	byID := make(map[string]*domain.PipelineDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &MockPipelineRepo{
		GetPipelineFn: func(_ context.Context, id string) (*domain.PipelineDefinition, error) {
			if d, ok := byID[id]; ok {
				return d, nil
			}
			return nil, domain.ErrNotFound("pipeline %q not found", id)
		},
		ListScheduledPipelinesFn: func(_ context.Context) ([]domain.PipelineDefinition, error) {
			var out []domain.PipelineDefinition
			for _, d := range defs {
				if d.ScheduleCron != "" {
					out = append(out, *d)
				}
			}
			return out, nil
		},
	}
}

// === Data Source Repository Mock ===

// MockDataSourceRepo implements domain.DataSourceRepository for testing.
type MockDataSourceRepo struct {
	CreateDataSourceFn  func(ctx context.Context, req *domain.CreateDataSourceRequest) (*domain.DataSource, error)
	ResolveDataSourceFn func(ctx context.Context, id string) (*domain.DataSource, error)
	ListDataSourcesFn   func(ctx context.Context, page domain.PageRequest) ([]domain.DataSource, int64, error)
	UpdateTablesFn      func(ctx context.Context, id string, tables []domain.TableSchema) (*domain.DataSource, error)
}

// CreateDataSource implements the interface method for testing.
func (m *MockDataSourceRepo) CreateDataSource(ctx context.Context, req *domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	if m.CreateDataSourceFn != nil {
		return m.CreateDataSourceFn(ctx, req)
	}
	panic("unexpected call to MockDataSourceRepo.CreateDataSource")
}

// ResolveDataSource implements the interface method for testing.
func (m *MockDataSourceRepo) ResolveDataSource(ctx context.Context, id string) (*domain.DataSource, error) {
	if m.ResolveDataSourceFn != nil {
		return m.ResolveDataSourceFn(ctx, id)
	}
	panic("unexpected call to MockDataSourceRepo.ResolveDataSource")
}

// ListDataSources implements the interface method for testing.
func (m *MockDataSourceRepo) ListDataSources(ctx context.Context, page domain.PageRequest) ([]domain.DataSource, int64, error) {
	if m.ListDataSourcesFn != nil {
		return m.ListDataSourcesFn(ctx, page)
	}
	panic("unexpected call to MockDataSourceRepo.ListDataSources")
}

// UpdateTables implements the interface method for testing.
func (m *MockDataSourceRepo) UpdateTables(ctx context.Context, id string, tables []domain.TableSchema) (*domain.DataSource, error) {
	if m.UpdateTablesFn != nil {
		return m.UpdateTablesFn(ctx, id, tables)
	}
	panic("unexpected call to MockDataSourceRepo.UpdateTables")
}

// StaticDataSources returns a MockDataSourceRepo resolving the given sources by id.
func StaticDataSources(sources ...*domain.DataSource) *MockDataSourceRepo {
	byID := make(map[string]*domain.DataSource, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	return &MockDataSourceRepo{
		ResolveDataSourceFn: func(_ context.Context, id string) (*domain.DataSource, error) {
			if s, ok := byID[id]; ok {
				return s, nil
			}
			return nil, domain.ErrNotFound("data source %q not found", id)
		},
	}
}

// === Entity Repository Mock ===

// MockEntityRepo implements domain.EntityRepository for testing.
type MockEntityRepo struct {
	CreateEntityFn func(ctx context.Context, req *domain.CreateEntityRequest) (*domain.Entity, error)
	GetEntityFn    func(ctx context.Context, id string) (*domain.Entity, error)
	ListEntitiesFn func(ctx context.Context, page domain.PageRequest) ([]domain.Entity, int64, error)
}

// CreateEntity implements the interface method for testing.
func (m *MockEntityRepo) CreateEntity(ctx context.Context, req *domain.CreateEntityRequest) (*domain.Entity, error) {
	if m.CreateEntityFn != nil {
		return m.CreateEntityFn(ctx, req)
	}
	panic("unexpected call to MockEntityRepo.CreateEntity")
}

// GetEntity implements the interface method for testing.
func (m *MockEntityRepo) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	if m.GetEntityFn != nil {
		return m.GetEntityFn(ctx, id)
	}
	panic("unexpected call to MockEntityRepo.GetEntity")
}

// ListEntities implements the interface method for testing.
func (m *MockEntityRepo) ListEntities(ctx context.Context, page domain.PageRequest) ([]domain.Entity, int64, error) {
	if m.ListEntitiesFn != nil {
		return m.ListEntitiesFn(ctx, page)
	}
	panic("unexpected call to MockEntityRepo.ListEntities")
}

// === Pipeline Run Repository Mock ===

// MockPipelineRunRepo implements domain.PipelineRunRepository for testing.
// Without overrides it keeps runs in memory and enforces the run lifecycle.
type MockPipelineRunRepo struct {
	CreateRunFn         func(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error)
	UpdateRunStartedFn  func(ctx context.Context, id string, startedAt time.Time) error
	UpdateRunFinishedFn func(ctx context.Context, id string, outcome domain.RunOutcome, completedAt time.Time) error

	mu   sync.Mutex
	runs map[string]*domain.PipelineRun
	// Order records run ids in creation order.
	Order []string
}

// CreateRun implements the interface method for testing.
func (m *MockPipelineRunRepo) CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	if m.CreateRunFn != nil {
		return m.CreateRunFn(ctx, run)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]*domain.PipelineRun)
	}
	cp := *run
	if cp.ID == "" {
		cp.ID = domain.NewID()
	}
	cp.Status = domain.RunQueued
	cp.CreatedAt = time.Now()
	m.runs[cp.ID] = &cp
	m.Order = append(m.Order, cp.ID)
	out := cp
	return &out, nil
}

// GetRun implements the interface method for testing.
func (m *MockPipelineRunRepo) GetRun(_ context.Context, id string) (*domain.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound("pipeline run %q not found", id)
	}
	out := *r
	return &out, nil
}

// ListRuns implements the interface method for testing.
func (m *MockPipelineRunRepo) ListRuns(_ context.Context, filter domain.PipelineRunFilter) ([]domain.PipelineRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PipelineRun
	for _, id := range m.Order {
		r := m.runs[id]
		if filter.PipelineID != "" && r.PipelineID != filter.PipelineID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

// UpdateRunStarted implements the interface method for testing.
func (m *MockPipelineRunRepo) UpdateRunStarted(ctx context.Context, id string, startedAt time.Time) error {
	if m.UpdateRunStartedFn != nil {
		return m.UpdateRunStartedFn(ctx, id, startedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound("pipeline run %q not found", id)
	}
	if r.Status != domain.RunQueued {
		return domain.ErrConflict("cannot start run %s in status %s", id, r.Status)
	}
	r.Status = domain.RunRunning
	r.StartedAt = &startedAt
	return nil
}

// UpdateRunFinished implements the interface method for testing.
func (m *MockPipelineRunRepo) UpdateRunFinished(ctx context.Context, id string, outcome domain.RunOutcome, completedAt time.Time) error {
	if m.UpdateRunFinishedFn != nil {
		return m.UpdateRunFinishedFn(ctx, id, outcome, completedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound("pipeline run %q not found", id)
	}
	if r.Status.Terminal() {
		return domain.ErrConflict("cannot finish run %s in status %s", id, r.Status)
	}
	r.Status = outcome.Status
	r.RowsProcessed = outcome.RowsProcessed
	r.ExecutionLog = outcome.ExecutionLog
	r.ErrorMessage = outcome.ErrorMessage
	r.CompletedAt = &completedAt
	return nil
}

// MarkRunPartial implements the interface method for testing.
func (m *MockPipelineRunRepo) MarkRunPartial(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound("pipeline run %q not found", id)
	}
	if r.Status != domain.RunSuccess {
		return domain.ErrConflict("cannot mark run %s partial in status %s", id, r.Status)
	}
	r.Status = domain.RunPartial
	msg := "delivery failed: " + message
	r.ErrorMessage = &msg
	return nil
}

// Count returns the number of runs created.
func (m *MockPipelineRunRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Order)
}

// === Query History Repository Mock ===

// MockQueryHistoryRepo implements domain.QueryHistoryRepository for testing.
type MockQueryHistoryRepo struct {
	InsertFn func(ctx context.Context, e *domain.QueryHistoryEntry) error
	ListFn   func(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error)

	mu      sync.Mutex
	Entries []*domain.QueryHistoryEntry // collected entries for assertions
}

// Insert implements the interface method for testing.
func (m *MockQueryHistoryRepo) Insert(ctx context.Context, e *domain.QueryHistoryEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockQueryHistoryRepo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockQueryHistoryRepo.List")
}

// LastEntry returns the last collected history entry, or nil if none.
func (m *MockQueryHistoryRepo) LastEntry() *domain.QueryHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// Compile-time interface checks.
var (
	_ domain.PipelineRepository     = (*MockPipelineRepo)(nil)
	_ domain.DataSourceRepository   = (*MockDataSourceRepo)(nil)
	_ domain.EntityRepository       = (*MockEntityRepo)(nil)
	_ domain.PipelineRunRepository  = (*MockPipelineRunRepo)(nil)
	_ domain.QueryHistoryRepository = (*MockQueryHistoryRepo)(nil)
)
