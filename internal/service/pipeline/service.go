package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"duck-bi/internal/backend"
	"duck-bi/internal/config"
	"duck-bi/internal/domain"
)

// Orchestrator validates pipelines, executes them step by step and records
// every execution as a run.
type Orchestrator struct {
	pipelines domain.PipelineRepository
	runs      domain.PipelineRunRepository
	validator *Validator
	executor  *Executor
	limits    config.ExecutionConfig
	logger    *slog.Logger

	pool *semaphore.Weighted
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	pipelines domain.PipelineRepository,
	runs domain.PipelineRunRepository,
	sources domain.DataSourceRepository,
	backends BackendProvider,
	limits config.ExecutionConfig,
	logger *slog.Logger,
) *Orchestrator {
	if limits.MaxConcurrentRuns <= 0 {
		limits.MaxConcurrentRuns = 1
	}
	if limits.StepParallelism <= 0 {
		limits.StepParallelism = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		pipelines: pipelines,
		runs:      runs,
		validator: NewValidator(sources),
		executor:  NewExecutor(backends),
		limits:    limits,
		logger:    logger,
		pool:      semaphore.NewWeighted(int64(limits.MaxConcurrentRuns)),
		base:      base,
		stop:      stop,
	}
}

// Close cancels runs submitted in the background and waits for them to
// record their outcome.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Validate checks a stored pipeline without executing it.
func (o *Orchestrator) Validate(ctx context.Context, pipelineID string) (*domain.ValidationReport, error) {
	p, err := o.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	_, report, err := o.validator.Validate(ctx, p)
	return report, err
}

// ExecutePipeline validates and runs a pipeline synchronously. Validation
// failures return a ValidationError and create no run. Once a run exists the
// error is nil and failures are reported through the result's status and
// message, matching the stored run.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.ExecutionResult, error) {
	p, plan, err := o.prepare(ctx, pipelineID, opts)
	if err != nil {
		return nil, err
	}
	run, err := o.createRun(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run, plan, opts), nil
}

// SubmitPipeline validates a pipeline and queues a run on the bounded run
// pool. It returns the queued run immediately.
func (o *Orchestrator) SubmitPipeline(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.PipelineRun, error) {
	p, plan, err := o.prepare(ctx, pipelineID, opts)
	if err != nil {
		return nil, err
	}
	run, err := o.createRun(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.pool.Acquire(o.base, 1); err != nil {
			msg := "canceled before start: " + err.Error()
			o.finish(o.base, run.ID, domain.RunOutcome{Status: domain.RunFailed, ErrorMessage: &msg}, o.logger)
			return
		}
		defer o.pool.Release(1)
		o.execute(o.base, run, plan, opts)
	}()
	return run, nil
}

// ReportDeliveryFailure marks a successful run partial: its data was produced
// but could not be delivered downstream.
func (o *Orchestrator) ReportDeliveryFailure(ctx context.Context, runID, message string) error {
	if message == "" {
		return domain.ErrValidation("message is required")
	}
	if err := o.runs.MarkRunPartial(ctx, runID, message); err != nil {
		return err
	}
	o.logger.Warn("pipeline run delivery failed", "run_id", runID, "error", message)
	return nil
}

// GetRun returns one run record.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	return o.runs.GetRun(ctx, runID)
}

// ListRuns returns run records, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, filter domain.PipelineRunFilter) ([]domain.PipelineRun, int64, error) {
	return o.runs.ListRuns(ctx, filter)
}

func (o *Orchestrator) prepare(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.PipelineDefinition, *Plan, error) {
	if opts.Limit < 0 {
		return nil, nil, domain.ErrValidation("limit must not be negative")
	}
	p, err := o.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, nil, err
	}
	plan, report, err := o.validator.Validate(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !report.Valid {
		return nil, nil, domain.ErrValidationProblems(report.Errors)
	}
	return p, plan, nil
}

func (o *Orchestrator) createRun(ctx context.Context, p *domain.PipelineDefinition, opts domain.ExecuteOptions) (*domain.PipelineRun, error) {
	trigger := opts.TriggerType
	if trigger == "" {
		trigger = domain.TriggerManual
		if opts.PreviewMode {
			trigger = domain.TriggerPreview
		}
	}
	return o.runs.CreateRun(ctx, &domain.PipelineRun{
		ID:          domain.NewID(),
		PipelineID:  p.ID,
		Status:      domain.RunQueued,
		TriggerType: trigger,
		PreviewMode: opts.PreviewMode,
	})
}

// sourceLimit is the row cap pushed to every source step.
func (o *Orchestrator) sourceLimit(opts domain.ExecuteOptions) int {
	limit := opts.Limit
	if opts.PreviewMode {
		maxRows := o.limits.PreviewRowLimit
		if maxRows > 0 && (limit == 0 || limit > maxRows) {
			limit = maxRows
		}
	}
	return limit
}

// execute runs a created run to completion and records its single outcome.
func (o *Orchestrator) execute(ctx context.Context, run *domain.PipelineRun, plan *Plan, opts domain.ExecuteOptions) (result *domain.ExecutionResult) {
	logger := o.logger.With("run_id", run.ID, "pipeline_id", run.PipelineID)
	start := time.Now()
	result = &domain.ExecutionResult{RunID: run.ID, Status: domain.RunFailed}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			logger.Error("pipeline run panicked", "error", msg)
			o.finish(ctx, run.ID, domain.RunOutcome{Status: domain.RunFailed, ErrorMessage: &msg}, logger)
			result.Status = domain.RunFailed
			result.ErrorMessage = msg
			result.Data = nil
		}
	}()

	if err := o.runs.UpdateRunStarted(ctx, run.ID, start); err != nil {
		logger.Error("failed to update run started", "error", err)
		msg := fmt.Sprintf("record run start: %v", err)
		o.finish(ctx, run.ID, domain.RunOutcome{Status: domain.RunFailed, ErrorMessage: &msg}, logger)
		result.ErrorMessage = msg
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		return result
	}

	budget := o.limits.RunTimeout
	if opts.PreviewMode {
		budget = o.limits.PreviewTimeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	logger.Info("pipeline run started", "plan", plan.describe(), "preview", opts.PreviewMode)
	data, stepLogs, err := o.runSteps(runCtx, plan, o.sourceLimit(opts), logger)

	outcome := domain.RunOutcome{Status: domain.RunSuccess, ExecutionLog: stepLogs}
	if err != nil {
		msg := err.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			msg = (&domain.TimeoutError{Budget: budget.String()}).Error()
			var stepErr *domain.StepError
			if errors.As(err, &stepErr) {
				msg += fmt.Sprintf(" during step %d (%s)", stepErr.Order, stepErr.Name)
			}
		}
		outcome.Status = domain.RunFailed
		outcome.ErrorMessage = &msg
		result.ErrorMessage = msg
	} else {
		outcome.RowsProcessed = int64(data.Len())
		result.Data = data
	}
	o.finish(ctx, run.ID, outcome, logger)

	result.Status = outcome.Status
	result.RowsProcessed = outcome.RowsProcessed
	result.ExecutionLog = stepLogs
	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	logger.Info("pipeline run finished",
		"status", result.Status,
		"rows", result.RowsProcessed,
		"duration", time.Since(start),
	)
	return result
}

// finish records a run outcome even when ctx has been canceled.
func (o *Orchestrator) finish(ctx context.Context, runID string, outcome domain.RunOutcome, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.runs.UpdateRunFinished(ctx, runID, outcome, time.Now()); err != nil {
		logger.Error("failed to record run outcome", "status", outcome.Status, "error", err)
	}
}

// runSteps executes the plan level by level and returns the output dataset.
// Steps compose into SQL on a run-scoped Engine.
// On failure the error of the lowest-order failing step is returned.
func (o *Orchestrator) runSteps(ctx context.Context, plan *Plan, limit int, logger *slog.Logger) (*domain.Dataset, []domain.StepLog, error) {
	logs := make([]domain.StepLog, len(plan.Steps))
	for i, ps := range plan.Steps {
		logs[i] = domain.StepLog{
			Order:  ps.Step.Order,
			Type:   ps.Step.Type,
			Name:   ps.Step.DisplayName(),
			Alias:  ps.Alias,
			Inputs: ps.Inputs,
			Status: domain.StepStatusSkipped,
		}
	}

	levels := plan.Levels
	if o.limits.StepParallelism <= 1 {
		levels = make([][]int, len(plan.Steps))
		for i := range plan.Steps {
			levels[i] = []int{i}
		}
	}

	engine := backend.NewEngine()
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("failed to close local engine", "error", err)
		}
	}()

	var (
		mu     sync.Mutex
		output *domain.Dataset
	)
	relations := make(map[string]*backend.Relation, len(plan.Steps))
	counts := make(map[string]int, len(plan.Steps))

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, logs, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.limits.StepParallelism)
		errs := make([]error, len(level))
		for i, order := range level {
			g.Go(func() (err error) {
				ps := plan.Steps[order]
				entry := &logs[order]
				defer func() {
					if r := recover(); r != nil {
						entry.Status = domain.StepStatusFailed
						entry.Error = fmt.Sprintf("panic: %v", r)
						errs[i] = &domain.StepError{Order: ps.Step.Order, Name: ps.Step.DisplayName(), Err: errors.New(entry.Error)}
						err = errs[i]
					}
				}()

				mu.Lock()
				inputs := make([]*backend.Relation, len(ps.Inputs))
				for j, alias := range ps.Inputs {
					inputs[j] = relations[alias]
					entry.RowsIn += counts[alias]
				}
				mu.Unlock()

				started := time.Now()
				rows, data, execErr := o.evaluate(gctx, engine, ps, inputs, limit, ps.Alias == plan.Output)
				entry.DurationMs = time.Since(started).Milliseconds()
				if execErr != nil {
					if errors.Is(execErr, context.Canceled) && ctx.Err() == nil {
						// A sibling failed first.
						entry.Status = domain.StepStatusSkipped
					} else {
						entry.Status = domain.StepStatusFailed
						entry.Error = execErr.Error()
					}
					errs[i] = &domain.StepError{Order: ps.Step.Order, Name: ps.Step.DisplayName(), Err: execErr}
					logger.Warn("pipeline step failed", "order", ps.Step.Order, "step", ps.Step.DisplayName(), "error", execErr)
					return errs[i]
				}
				entry.Status = domain.StepStatusSuccess
				entry.RowsOut = rows.count

				mu.Lock()
				relations[ps.Alias] = rows.rel
				counts[ps.Alias] = rows.count
				if data != nil {
					output = data
				}
				mu.Unlock()
				logger.Debug("pipeline step finished",
					"order", ps.Step.Order,
					"rows", rows.count,
					"backend", rows.rel.Backend().Type(),
					"duration_ms", entry.DurationMs,
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, logs, firstFailure(errs, err)
		}
	}
	return output, logs, nil
}

type stepRows struct {
	rel   *backend.Relation
	count int
}

// evaluate builds a step's relation and runs it: the output step is
// materialized, every other step is only counted.
func (o *Orchestrator) evaluate(ctx context.Context, engine *backend.Engine, ps PlannedStep, inputs []*backend.Relation, limit int, final bool) (stepRows, *domain.Dataset, error) {
	rel, err := o.executor.Execute(ctx, engine, ps, inputs, limit)
	if err != nil {
		return stepRows{}, nil, err
	}
	if !final {
		n, err := rel.Count(ctx)
		return stepRows{rel: rel, count: n}, nil, err
	}
	data, err := rel.Materialize(ctx)
	if err != nil {
		return stepRows{}, nil, err
	}
	return stepRows{rel: rel, count: data.Len()}, data, nil
}

// firstFailure returns the lowest-order step error that was not caused by a
// sibling's cancellation. errs is indexed in ascending step order.
func firstFailure(errs []error, fallback error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return fallback
}
