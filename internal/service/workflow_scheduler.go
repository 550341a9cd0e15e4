package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobExecutor runs one planned job to a terminal result.
type JobExecutor interface {
	Run(ctx context.Context, runID string, job PlannedJob) JobResult
}

type WorkflowResult struct {
	RunID                string        `json:"run_id"`
	Workflow             string        `json:"workflow"`
	Outcome              Outcome       `json:"outcome"`
	Jobs                 []JobResult   `json:"jobs"`
	Duration             time.Duration `json:"duration"`
	CriticalPath         []string      `json:"critical_path"`
	CriticalPathDuration time.Duration `json:"critical_path_duration"`
}

// ExitCode is the process exit status for the workflow.
func (r WorkflowResult) ExitCode() int {
	if r.Outcome == OutcomeSuccess {
		return 0
	}
	return 1
}

func (r WorkflowResult) Job(name string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}

// WorkflowScheduler runs the layers of a plan one after another and the jobs
// of a layer concurrently. A failing job never cancels its siblings.
type WorkflowScheduler struct {
	jobs        JobExecutor
	maxParallel int
}

// NewWorkflowScheduler returns a scheduler running at most maxParallel jobs
// at once. Zero or less means no limit.
func NewWorkflowScheduler(jobs JobExecutor, maxParallel int) *WorkflowScheduler {
	return &WorkflowScheduler{jobs: jobs, maxParallel: maxParallel}
}

func (s *WorkflowScheduler) Run(ctx context.Context, plan *WorkflowPlan) WorkflowResult {
	start := time.Now()
	results := make(map[string]JobResult, len(plan.Jobs))
	var mu sync.Mutex

	for i, layer := range plan.Layers {
		slog.Debug("starting layer", "workflow", plan.Workflow, "layer", i, "jobs", layer)

		var g errgroup.Group
		if s.maxParallel > 0 {
			g.SetLimit(s.maxParallel)
		}
		for _, name := range layer {
			job, _ := plan.Job(name)

			mu.Lock()
			blocked := blockedBy(job, results)
			if len(blocked) > 0 {
				results[name] = SkippedResult(name, blocked)
			}
			mu.Unlock()
			if len(blocked) > 0 {
				continue
			}
			if ctx.Err() != nil {
				mu.Lock()
				results[name] = cancelledResult(name)
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				res := s.jobs.Run(ctx, plan.RunID, job)
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	wr := WorkflowResult{
		RunID:    plan.RunID,
		Workflow: plan.Workflow,
		Outcome:  OutcomeSuccess,
		Jobs:     make([]JobResult, 0, len(plan.Jobs)),
	}
	for _, job := range plan.Jobs {
		res := results[job.Name]
		wr.Jobs = append(wr.Jobs, res)
		if !res.Succeeded() {
			wr.Outcome = OutcomeFailed
		}
	}
	if wr.Outcome != OutcomeSuccess && ctx.Err() != nil {
		wr.Outcome = OutcomeCancelled
	}
	wr.CriticalPath, wr.CriticalPathDuration = criticalPath(plan, results)
	wr.Duration = time.Since(start)
	return wr
}

func blockedBy(job PlannedJob, results map[string]JobResult) []string {
	var blocked []string
	for _, req := range job.Requires {
		if res, ok := results[req]; !ok || !res.Succeeded() {
			blocked = append(blocked, req)
		}
	}
	return blocked
}

func cancelledResult(job string) JobResult {
	err := RunCancelError{Message: "run cancelled before job started"}
	return JobResult{
		Name:            job,
		Outcome:         OutcomeCancelled,
		FailedStepIndex: -1,
		Steps:           []StepLog{},
		Artifacts:       []string{},
		Err:             err,
		Error:           err.Error(),
	}
}
