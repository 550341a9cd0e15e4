package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/multici/internal"
)

type RunSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLiteStore(rdb, rwdb *sql.DB) *RunSQLiteStore {
	return &RunSQLiteStore{rdb, rwdb}
}

func (store *RunSQLiteStore) CreateRun(
	ctx context.Context,
	runID, workflow, trigger string,
) (*Run, error) {
	r := &Run{
		RunID:       runID,
		Workflow:    workflow,
		TriggeredBy: trigger,
		Status:      StatusQueued,
		CreatedOn:   time.Now().UTC().Truncate(time.Second),
	}
	query := `insert into runs (
		run_id,
		workflow,
		triggered_by,
		status,
		created_on
	)
	values ($1, $2, $3, $4, $5)`
	if _, err := store.rwdb.ExecContext(
		ctx, query,
		r.RunID,
		r.Workflow,
		r.TriggeredBy,
		r.Status,
		r.CreatedOn.Format(internal.DBTimestampLayout),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) ReadRunByID(ctx context.Context, runID string) (*Run, error) {
	r := &Run{}
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, runID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) UpdateRunStartedOn(
	ctx context.Context,
	runID string,
	status RunStatus,
	startedOn *time.Time,
) error {
	query := `update runs
	set status = $1,
		started_on = $2
	where run_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		startedOn.UTC().Format(internal.DBTimestampLayout),
		runID,
	)
	return err
}

func (store *RunSQLiteStore) UpdateRunEndedOn(
	ctx context.Context,
	runID string,
	status RunStatus,
	criticalPath *string,
	durationMs int64,
	endedOn *time.Time,
) error {
	query := `update runs
	set status = $1,
		critical_path = $2,
		duration_ms = $3,
		ended_on = $4
	where run_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		criticalPath,
		durationMs,
		endedOn.UTC().Format(internal.DBTimestampLayout),
		runID,
	)
	return err
}

func (store *RunSQLiteStore) AppendRunOutput(ctx context.Context, runID, out string) error {
	query := `update runs
	set output = coalesce(output, '') || $1
	where run_id = $2`
	res, err := store.rwdb.ExecContext(ctx, query, out, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FailUnfinishedRuns marks runs left queued or running by a previous
// process as failed.
func (store *RunSQLiteStore) FailUnfinishedRuns(ctx context.Context, endedOn *time.Time) (int64, error) {
	query := `update runs
	set status = $1,
		ended_on = $2
	where status in ($3, $4)`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		StatusFailed,
		endedOn.UTC().Format(internal.DBTimestampLayout),
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (store *RunSQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	query := "delete from runs where run_id = $1"
	_, err := store.rwdb.ExecContext(ctx, query, runID)
	return err
}

// DeleteRunsBefore removes finished runs created before the given time and
// returns their ids.
func (store *RunSQLiteStore) DeleteRunsBefore(ctx context.Context, before time.Time) ([]string, error) {
	query := `delete from runs
	where created_on < $1
	and status in ($2, $3, $4)
	returning run_id`
	ids := make([]string, 0)
	err := sqlscan.Select(
		ctx, store.rwdb, &ids, query,
		before.UTC().Format(internal.DBTimestampLayout),
		StatusCancelled,
		StatusFailed,
		StatusPassed,
	)
	return ids, err
}

// ListRunsPaginated lists runs newest first. An empty workflow lists runs
// of every workflow.
func (store *RunSQLiteStore) ListRunsPaginated(
	ctx context.Context,
	workflow string,
	limit, offset int64,
) ([]Run, error) {
	query := `select
		run_id,
		workflow,
		triggered_by,
		status,
		critical_path,
		duration_ms,
		created_on,
		started_on,
		ended_on
	from runs
	where ($1 = '' or workflow = $1)
	order by created_on desc, rowid desc limit $2 offset $3`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, workflow, limit, offset)
	return runs, err
}

func (store *RunSQLiteStore) CountRuns(ctx context.Context, workflow string) (int64, error) {
	var count int64
	query := `select count(*) from runs where ($1 = '' or workflow = $1)`
	err := sqlscan.Get(ctx, store.rdb, &count, query, workflow)
	return count, err
}

func (store *RunSQLiteStore) SaveJobResult(ctx context.Context, jr *JobResult) error {
	query := `insert into job_results (
		job_result_run_id,
		name,
		outcome,
		failed_step,
		failed_step_index,
		exit_code,
		duration_ms,
		artifacts,
		error
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	on conflict (job_result_run_id, name) do update set
		outcome = excluded.outcome,
		failed_step = excluded.failed_step,
		failed_step_index = excluded.failed_step_index,
		exit_code = excluded.exit_code,
		duration_ms = excluded.duration_ms,
		artifacts = excluded.artifacts,
		error = excluded.error`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		jr.JobResultRunID,
		jr.Name,
		jr.Outcome,
		jr.FailedStep,
		jr.FailedStepIndex,
		jr.ExitCode,
		jr.DurationMs,
		jr.Artifacts,
		jr.Error,
	)
	return err
}

func (store *RunSQLiteStore) ListJobResults(ctx context.Context, runID string) ([]JobResult, error) {
	query := `select * from job_results
	where job_result_run_id = $1
	order by name`
	results := make([]JobResult, 0)
	err := sqlscan.Select(ctx, store.rdb, &results, query, runID)
	return results, err
}
