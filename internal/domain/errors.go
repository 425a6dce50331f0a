// Package domain defines core types, interfaces, and errors for the BI execution engine.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates an invalid request or a malformed step graph.
// Problems carries every individual finding when more than one was collected.
type ValidationError struct {
	Message  string
	Problems []string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource or a finished run).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// DataSourceError indicates a connection, authentication or missing-file problem
// with a backing data source.
type DataSourceError struct {
	DataSourceID string
	Err          error
}

func (e *DataSourceError) Error() string {
	if e.DataSourceID == "" {
		return fmt.Sprintf("data source: %v", e.Err)
	}
	return fmt.Sprintf("data source %s: %v", e.DataSourceID, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// SchemaError indicates a column referenced at execution time is absent or has
// an incompatible type.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

// StepError attributes a failure to a single pipeline step.
type StepError struct {
	Order int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Order, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// TimeoutError indicates a run exceeded its time budget.
type TimeoutError struct {
	Budget string
}

func (e *TimeoutError) Error() string {
	return "execution timeout: run exceeded " + e.Budget
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidationProblems folds a list of findings into one ValidationError.
func ErrValidationProblems(problems []string) *ValidationError {
	return &ValidationError{
		Message:  "pipeline is invalid: " + strings.Join(problems, "; "),
		Problems: problems,
	}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrSchema creates a SchemaError with a formatted message.
func ErrSchema(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// ErrDataSource wraps err as a DataSourceError for the given data source.
func ErrDataSource(id string, err error) *DataSourceError {
	return &DataSourceError{DataSourceID: id, Err: err}
}
