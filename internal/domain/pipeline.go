package domain

import (
	"sort"
	"time"
)

// PipelineDefinition is an ordered list of transformation steps. It is read
// once at run start and treated as an immutable snapshot during execution.
type PipelineDefinition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Steps        []Step    `json:"steps"`
	ScheduleCron string    `json:"schedule_cron,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SortedSteps returns a copy of the steps ordered by Order.
func (p *PipelineDefinition) SortedSteps() []Step {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// CreatePipelineRequest holds parameters for storing a pipeline definition.
type CreatePipelineRequest struct {
	ID           string
	Name         string
	Description  string
	Steps        []Step
	ScheduleCron string
}

// Validate checks that the request is well-formed. Step graph checks are the
// validator's job and are not repeated here.
func (r *CreatePipelineRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("name is required")
	}
	if len(r.Steps) == 0 {
		return ErrValidation("at least one step is required")
	}
	return nil
}
