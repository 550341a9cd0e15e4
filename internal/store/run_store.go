package store

import (
	"context"
	"time"
)

type RunStore interface {
	CreateRun(ctx context.Context, runID, workflow, trigger string) (*Run, error)
	ReadRunByID(ctx context.Context, runID string) (*Run, error)
	UpdateRunStartedOn(ctx context.Context, runID string, status RunStatus, startedOn *time.Time) error
	UpdateRunEndedOn(ctx context.Context, runID string, status RunStatus, criticalPath *string, durationMs int64, endedOn *time.Time) error
	AppendRunOutput(ctx context.Context, runID, out string) error
	FailUnfinishedRuns(ctx context.Context, endedOn *time.Time) (int64, error)
	DeleteRun(ctx context.Context, runID string) error
	DeleteRunsBefore(ctx context.Context, before time.Time) ([]string, error)
	ListRunsPaginated(ctx context.Context, workflow string, limit, offset int64) ([]Run, error)
	CountRuns(ctx context.Context, workflow string) (int64, error)
	SaveJobResult(ctx context.Context, jr *JobResult) error
	ListJobResults(ctx context.Context, runID string) ([]JobResult, error)
}
