package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run statuses. Runs move queued -> running -> success|failed; partial is only
// reachable from success through a delivery failure report.
const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunPartial RunStatus = "partial"
)

// Terminal reports whether no further execution transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunPartial
}

// Trigger types.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerPreview   = "preview"
)

// StepLog records the outcome of one executed step.
type StepLog struct {
	Order      int      `json:"order"`
	Type       StepType `json:"type"`
	Name       string   `json:"name"`
	Alias      string   `json:"output_alias"`
	Inputs     []string `json:"inputs,omitempty"`
	RowsIn     int      `json:"rows_in"`
	RowsOut    int      `json:"rows_out"`
	DurationMs int64    `json:"duration_ms"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
}

// Step log statuses.
const (
	StepStatusSuccess = "success"
	StepStatusFailed  = "failed"
	StepStatusSkipped = "skipped"
)

// PipelineRun is the audit record of one pipeline execution.
type PipelineRun struct {
	ID            string     `json:"id"`
	PipelineID    string     `json:"pipeline_id"`
	Status        RunStatus  `json:"status"`
	TriggerType   string     `json:"trigger_type"`
	PreviewMode   bool       `json:"preview_mode"`
	RowsProcessed int64      `json:"rows_processed"`
	ExecutionLog  []StepLog  `json:"execution_log"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RunOutcome is the single completion mutation of a run.
type RunOutcome struct {
	Status        RunStatus
	RowsProcessed int64
	ExecutionLog  []StepLog
	ErrorMessage  *string
}

// PipelineRunFilter holds filter parameters for listing runs.
type PipelineRunFilter struct {
	PipelineID string
	Status     RunStatus
	Page       PageRequest
}

// ExecuteOptions tunes a synchronous pipeline execution. Limit caps rows read
// by each source step; zero means no cap. PreviewMode applies the preview row
// cap and the shorter preview timeout.
type ExecuteOptions struct {
	Limit       int    `json:"limit,omitempty"`
	PreviewMode bool   `json:"preview_mode,omitempty"`
	TriggerType string `json:"-"`
}

// ExecutionResult is returned by a synchronous pipeline execution.
type ExecutionResult struct {
	RunID                string    `json:"run_id"`
	Status               RunStatus `json:"status"`
	RowsProcessed        int64     `json:"rows_processed"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	Data                 *Dataset  `json:"data,omitempty"`
	ExecutionLog         []StepLog `json:"execution_log"`
	ErrorMessage         string    `json:"error_message,omitempty"`
}

// ValidationReport is the outcome of a step graph validation.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Query history statuses.
const (
	QueryStatusSuccess = "success"
	QueryStatusFailed  = "failed"
)

// QueryHistoryEntry records one semantic query execution.
type QueryHistoryEntry struct {
	ID           string        `json:"id"`
	EntityID     string        `json:"entity_id"`
	Request      QueryRequest  `json:"request"`
	GeneratedSQL string        `json:"generated_sql,omitempty"`
	RowCount     int           `json:"row_count"`
	Duration     time.Duration `json:"duration"`
	Status       string        `json:"status"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// QueryHistoryFilter holds filter parameters for listing query history.
type QueryHistoryFilter struct {
	EntityID string
	Status   string
	Page     PageRequest
}
