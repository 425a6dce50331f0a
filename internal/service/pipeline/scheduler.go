package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"duck-bi/internal/domain"
)

// Runner is the part of the Orchestrator the scheduler drives.
type Runner interface {
	ExecutePipeline(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.ExecutionResult, error)
	ReportDeliveryFailure(ctx context.Context, runID, message string) error
}

// Scheduler manages cron-based pipeline execution and delivers the results.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	pipelines domain.PipelineRepository
	deliverer Deliverer
	logger    *slog.Logger
	mu        sync.Mutex
	entries   map[string]cron.EntryID // pipeline ID → cron entry
}

// NewScheduler creates a new pipeline scheduler.
func NewScheduler(runner Runner, pipelines domain.PipelineRepository, deliverer Deliverer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		runner:    runner,
		pipelines: pipelines,
		deliverer: deliverer,
		logger:    logger,
		entries:   make(map[string]cron.EntryID),
	}
}

// Start loads all scheduled pipelines and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("pipeline scheduler started")
	return nil
}

// Stop stops the cron scheduler and waits for running triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("pipeline scheduler stopped")
}

// Reload clears all cron entries and reloads from the metastore.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	pipelines, err := s.pipelines.ListScheduledPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		if p.ScheduleCron == "" {
			continue
		}
		def := p
		entryID, err := s.cron.AddFunc(def.ScheduleCron, func() {
			s.RunScheduled(context.Background(), &def)
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"pipeline", def.Name,
				"schedule", def.ScheduleCron,
				"error", err,
			)
			continue
		}
		s.entries[def.ID] = entryID
		s.logger.Info("scheduled pipeline", "pipeline", def.Name, "schedule", def.ScheduleCron)
	}
	return nil
}

// Scheduled returns the number of pipelines with an active schedule.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunScheduled executes one scheduled trigger of p and delivers its result.
// A failed delivery turns the successful run partial.
func (s *Scheduler) RunScheduled(ctx context.Context, p *domain.PipelineDefinition) {
	logger := s.logger.With("pipeline", p.Name, "pipeline_id", p.ID)
	res, err := s.runner.ExecutePipeline(ctx, p.ID, domain.ExecuteOptions{TriggerType: domain.TriggerScheduled})
	if err != nil {
		logger.Warn("scheduled trigger failed", "error", err)
		return
	}
	if res.Status != domain.RunSuccess {
		logger.Warn("scheduled run failed", "run_id", res.RunID, "error", res.ErrorMessage)
		return
	}
	if s.deliverer == nil {
		return
	}
	if err := s.deliverer.Deliver(ctx, p, res); err != nil {
		if rerr := s.runner.ReportDeliveryFailure(ctx, res.RunID, err.Error()); rerr != nil {
			logger.Error("failed to record delivery failure", "run_id", res.RunID, "error", rerr)
		}
		return
	}
	logger.Info("scheduled run delivered", "run_id", res.RunID, "rows", res.RowsProcessed)
}

// Compile-time check that Orchestrator can drive the scheduler.
var _ Runner = (*Orchestrator)(nil)
