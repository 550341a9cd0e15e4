package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/store"
	"github.com/haatos/multici/internal/types"
)

type RunWriter interface {
	CreateRun(ctx context.Context, runID, workflow, trigger string) (*store.Run, error)
	UpdateRunStartedOn(ctx context.Context, runID string, status store.RunStatus, startedOn *time.Time) error
	UpdateRunEndedOn(ctx context.Context, runID string, status store.RunStatus, criticalPath *string, durationMs int64, endedOn *time.Time) error
	AppendRunOutput(ctx context.Context, runID, out string) error
	FailUnfinishedRuns(ctx context.Context, endedOn *time.Time) (int64, error)
	DeleteRun(ctx context.Context, runID string) error
	DeleteRunsBefore(ctx context.Context, before time.Time) ([]string, error)
	SaveJobResult(ctx context.Context, jr *store.JobResult) error
}

type RunReader interface {
	ReadRunByID(ctx context.Context, runID string) (*store.Run, error)
	ListRunsPaginated(ctx context.Context, workflow string, limit, offset int64) ([]store.Run, error)
	CountRuns(ctx context.Context, workflow string) (int64, error)
	ListJobResults(ctx context.Context, runID string) ([]store.JobResult, error)
}

type RunStore interface {
	RunWriter
	RunReader
}

// RunPurger removes whatever a provider kept on disk for a run.
type RunPurger interface {
	PurgeRun(runID string) error
}

type logDeleter interface {
	DeleteRun(ctx context.Context, runID string) error
}

type WorkflowServiceConfig struct {
	QueueSize       int64
	MaxParallelJobs int
	Retention       time.Duration
}

type WorkflowInfo struct {
	Name     string              `json:"name"`
	Jobs     []string            `json:"jobs"`
	Requires map[string][]string `json:"requires,omitempty"`
	Schedule string              `json:"schedule,omitempty"`
}

// WorkflowService triggers, executes and records workflow runs of one
// loaded pipeline.
type WorkflowService struct {
	pipeline    *types.Pipeline
	registry    *CommandRegistry
	runStore    RunStore
	provider    Provider
	executor    *StepExecutor
	reporter    Reporter
	archive     LogArchive
	purgers     []RunPurger
	maxParallel int
	retention   time.Duration

	queue *RunQueue
}

func NewWorkflowService(
	pipeline *types.Pipeline,
	runStore RunStore,
	provider Provider,
	executor *StepExecutor,
	reporter Reporter,
	cfg WorkflowServiceConfig,
) (*WorkflowService, error) {
	registry, err := NewRegistryFromPipeline(pipeline)
	if err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	s := &WorkflowService{
		pipeline:    pipeline,
		registry:    registry,
		runStore:    runStore,
		provider:    provider,
		executor:    executor,
		reporter:    reporter,
		maxParallel: cfg.MaxParallelJobs,
		retention:   cfg.Retention,
	}
	s.queue = NewRunQueue(s, max(1, cfg.QueueSize))
	return s, nil
}

func (s *WorkflowService) SetLogArchive(archive LogArchive) {
	s.archive = archive
}

func (s *WorkflowService) AddRunPurger(p RunPurger) {
	s.purgers = append(s.purgers, p)
}

func (s *WorkflowService) StartRunQueue(workers int) {
	go s.queue.Run(workers)
}

func (s *WorkflowService) Shutdown() {
	s.queue.Shutdown()
}

func (s *WorkflowService) ListWorkflows() []WorkflowInfo {
	names := s.pipeline.WorkflowNames()
	out := make([]WorkflowInfo, 0, len(names))
	for _, name := range names {
		wf := s.pipeline.Workflows[name]
		out = append(out, WorkflowInfo{
			Name:     wf.Name,
			Jobs:     wf.Jobs,
			Requires: wf.Requires,
			Schedule: wf.Schedule,
		})
	}
	return out
}

func (s *WorkflowService) Plan(workflow string) (*WorkflowPlan, error) {
	return PlanWorkflow(s.pipeline, s.registry, workflow)
}

// TriggerRun plans the workflow, records a queued run and enqueues it.
// Planning errors abort before anything is recorded.
func (s *WorkflowService) TriggerRun(ctx context.Context, workflow, trigger string) (*store.Run, error) {
	plan, err := s.Plan(workflow)
	if err != nil {
		return nil, err
	}
	r, err := s.runStore.CreateRun(ctx, plan.RunID, workflow, trigger)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(plan); err != nil {
		if delErr := s.runStore.DeleteRun(ctx, r.RunID); delErr != nil {
			return nil, errors.Join(err, delErr)
		}
		return nil, err
	}
	slog.Info("run queued", "run_id", r.RunID, "workflow", workflow, "trigger", trigger)
	return r, nil
}

// ExecuteRun runs a planned workflow and records its progress in the run
// store. The returned error only reports failures to record the run.
func (s *WorkflowService) ExecuteRun(ctx context.Context, plan *WorkflowPlan) (WorkflowResult, error) {
	persistCtx := context.WithoutCancel(ctx)
	startedOn := time.Now().UTC()
	if err := s.runStore.UpdateRunStartedOn(persistCtx, plan.RunID, store.StatusRunning, &startedOn); err != nil {
		return WorkflowResult{}, fmt.Errorf("error updating run started on: %w", err)
	}

	rec := newRunRecorder(ctx, plan.RunID, s.runStore)
	runner := NewJobRunner(s.provider, s.executor, MultiReporter{s.reporter, rec})
	result := NewWorkflowScheduler(runner, s.maxParallel).Run(ctx, plan)

	for _, jr := range result.Jobs {
		if jr.Outcome == OutcomeSkipped || (jr.Outcome == OutcomeCancelled && len(jr.Steps) == 0) {
			rec.JobFinished(jr)
		}
	}
	s.archiveLogs(persistCtx, plan.RunID, rec.jobLogs())

	var criticalPath *string
	if len(result.CriticalPath) > 0 {
		cp := strings.Join(result.CriticalPath, ",")
		criticalPath = &cp
	}
	endedOn := time.Now().UTC()
	if err := s.runStore.UpdateRunEndedOn(
		persistCtx,
		plan.RunID,
		runStatus(result.Outcome),
		criticalPath,
		result.Duration.Milliseconds(),
		&endedOn,
	); err != nil {
		return result, fmt.Errorf("error updating run ended on: %w", err)
	}
	return result, nil
}

func (s *WorkflowService) archiveLogs(ctx context.Context, runID string, logs map[string][]byte) {
	if s.archive == nil {
		return
	}
	for job, data := range logs {
		if err := s.archive.PutJobLog(ctx, runID, job, data); err != nil {
			slog.Warn("error archiving job log", "run_id", runID, "job", job, "error", err)
		}
	}
}

// CancelRun cancels a queued or executing run.
func (s *WorkflowService) CancelRun(ctx context.Context, runID string) error {
	if s.queue.CancelRun(runID) {
		slog.Info("run cancelled", "run_id", runID)
		return nil
	}
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return err
	}
	return RunNotActiveError{RunID: runID, Status: string(r.Status)}
}

func (s *WorkflowService) GetRunByID(ctx context.Context, runID string) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, runID)
}

func (s *WorkflowService) ListRunsPaginated(
	ctx context.Context,
	workflow string,
	limit, offset int64,
) ([]store.Run, int64, error) {
	runs, err := s.runStore.ListRunsPaginated(ctx, workflow, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.runStore.CountRuns(ctx, workflow)
	if err != nil {
		return nil, 0, err
	}
	return runs, count, nil
}

func (s *WorkflowService) ListJobResults(ctx context.Context, runID string) ([]store.JobResult, error) {
	if _, err := s.runStore.ReadRunByID(ctx, runID); err != nil {
		return nil, err
	}
	return s.runStore.ListJobResults(ctx, runID)
}

func (s *WorkflowService) GetJobLog(ctx context.Context, runID, job string) ([]byte, error) {
	if s.archive == nil {
		return nil, ErrLogArchiveDisabled
	}
	return s.archive.GetJobLog(ctx, runID, job)
}

// RecoverRuns fails runs that a previous process left queued or running.
func (s *WorkflowService) RecoverRuns(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	return s.runStore.FailUnfinishedRuns(ctx, &now)
}

// CleanUp deletes finished runs older than the retention period together
// with their workspaces and archived logs.
func (s *WorkflowService) CleanUp(ctx context.Context, now time.Time) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	ids, err := s.runStore.DeleteRunsBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, id := range ids {
		for _, p := range s.purgers {
			if err := p.PurgeRun(id); err != nil {
				errs = append(errs, fmt.Errorf("run %s: %w", id, err))
			}
		}
		if d, ok := s.archive.(logDeleter); ok {
			if err := d.DeleteRun(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("run %s: %w", id, err))
			}
		}
	}
	return len(ids), errors.Join(errs...)
}

// ScheduleWorkflows registers a cron job for every workflow that declares
// a schedule.
func (s *WorkflowService) ScheduleWorkflows(scheduler gocron.Scheduler) error {
	for _, name := range s.pipeline.WorkflowNames() {
		wf := s.pipeline.Workflows[name]
		if wf.Schedule == "" {
			continue
		}
		if _, err := scheduler.NewJob(
			gocron.CronJob(wf.Schedule, false),
			gocron.NewTask(func() {
				if _, err := s.TriggerRun(context.Background(), name, internal.TriggerSchedule); err != nil {
					slog.Error("error triggering scheduled run", "workflow", name, "error", err)
				}
			}),
			gocron.WithName(name),
		); err != nil {
			return fmt.Errorf("error scheduling workflow %q: %w", name, err)
		}
		slog.Info("workflow scheduled", "workflow", name, "schedule", wf.Schedule)
	}
	return nil
}

func (s *WorkflowService) ScheduleDailyCleanUp(scheduler gocron.Scheduler) error {
	_, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			n, err := s.CleanUp(context.Background(), time.Now().UTC())
			if err != nil {
				slog.Error("error cleaning up runs", "error", err)
			}
			if n > 0 {
				slog.Info("expired runs deleted", "count", n)
			}
		}),
		gocron.WithName("cleanup"),
	)
	return err
}
