package store

import (
	"time"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
	StatusPassed    RunStatus = "passed"
)

func (s RunStatus) Finished() bool {
	return s == StatusCancelled || s == StatusFailed || s == StatusPassed
}

type Run struct {
	RunID        string     `json:"run_id" param:"run_id"`
	Workflow     string     `json:"workflow"`
	TriggeredBy  string     `json:"triggered_by"`
	Status       RunStatus  `json:"status"`
	Output       *string    `json:"-"`
	CriticalPath *string    `json:"critical_path,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	CreatedOn    time.Time  `json:"created_on"`
	StartedOn    *time.Time `json:"started_on,omitempty"`
	EndedOn      *time.Time `json:"ended_on,omitempty"`
}

// JobResult is the persisted summary of one job of a run. Artifacts holds
// a JSON array of staging-relative paths.
type JobResult struct {
	JobResultRunID  string  `json:"run_id"`
	Name            string  `json:"name"`
	Outcome         string  `json:"outcome"`
	FailedStep      *string `json:"failed_step,omitempty"`
	FailedStepIndex int64   `json:"failed_step_index"`
	ExitCode        int64   `json:"exit_code"`
	DurationMs      int64   `json:"duration_ms"`
	Artifacts       string  `json:"artifacts"`
	Error           *string `json:"error,omitempty"`
}
