package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haatos/multici/internal/types"
)

// CheckoutStepName names the implicit first step of every job.
const CheckoutStepName = "checkout"

const releaseTimeout = time.Minute

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailed           Outcome = "failed"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeEnvironmentError Outcome = "environment_error"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeSkipped          Outcome = "skipped"
)

type StepLog struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// JobResult describes one job invocation. FailedStepIndex counts user steps
// from 1, the checkout step is 0 and -1 means no step failed.
type JobResult struct {
	Name            string        `json:"name"`
	Outcome         Outcome       `json:"outcome"`
	FailedStep      string        `json:"failed_step,omitempty"`
	FailedStepIndex int           `json:"failed_step_index"`
	ExitCode        int           `json:"exit_code"`
	Steps           []StepLog     `json:"steps"`
	Artifacts       []string      `json:"artifacts"`
	StagingDir      string        `json:"staging_dir,omitempty"`
	Duration        time.Duration `json:"duration"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
}

func (r JobResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// PlannedJob is a job whose command references have been fully resolved.
type PlannedJob struct {
	Name        string
	Environment types.Environment
	Source      types.Source
	Steps       []types.ShellStep
	Env         map[string]string
	StepTimeout time.Duration
	Requires    []string
}

type JobRunner struct {
	provider Provider
	executor *StepExecutor
	reporter Reporter
}

func NewJobRunner(provider Provider, executor *StepExecutor, reporter Reporter) *JobRunner {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &JobRunner{provider: provider, executor: executor, reporter: reporter}
}

// Run executes job from checkout to its last step, stopping at the first
// failure. The environment is always released before Run returns.
func (r *JobRunner) Run(ctx context.Context, runID string, job PlannedJob) JobResult {
	start := time.Now()
	r.reporter.JobStarted(job.Name)

	result := r.run(ctx, runID, job)
	result.Duration = time.Since(start)
	if result.Err != nil {
		result.Error = result.Err.Error()
	}

	r.reporter.JobFinished(result)
	return result
}

func (r *JobRunner) run(ctx context.Context, runID string, job PlannedJob) (result JobResult) {
	result = JobResult{
		Name:            job.Name,
		Outcome:         OutcomeSuccess,
		FailedStepIndex: -1,
		Steps:           []StepLog{},
		Artifacts:       []string{},
	}

	env := job.Environment.WithDefaults()
	h, err := r.provider.Acquire(ctx, AcquireRequest{Environment: env, JobName: job.Name, RunID: runID})
	if err != nil {
		result.Outcome = OutcomeEnvironmentError
		result.Err = EnvironmentError{Err: err}
		return result
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.provider.Release(releaseCtx, h); err != nil {
			slog.Warn("releasing environment", "job", job.Name, "handle", h.ID(), "error", err)
		}
	}()

	if err := h.Prepare(ctx); err != nil {
		result.Outcome = OutcomeEnvironmentError
		result.Err = EnvironmentError{Err: fmt.Errorf("preparing workspace: %w", err)}
		return result
	}
	ws := h.Workspace()
	result.StagingDir = ws.StagingDir

	defer func() {
		artifacts, err := h.ListArtifacts(context.WithoutCancel(ctx))
		if err != nil {
			slog.Warn("listing artifacts", "job", job.Name, "error", err)
			return
		}
		result.Artifacts = artifacts
	}()

	vars := NewEnvVars(job.Env).Merge(map[string]string{
		"MULTICI_JOB":           job.Name,
		"MULTICI_RUN_ID":        runID,
		"MULTICI_WORKDIR":       ws.Workdir,
		"MULTICI_STAGING_DIR":   ws.StagingDir,
		"MULTICI_RESOURCE_TIER": env.ResourceTier,
		"MULTICI_SHELL":         string(env.Shell),
	})

	steps := make([]types.ShellStep, 0, len(job.Steps)+1)
	steps = append(steps, checkoutStep(job.Source, env.Shell))
	steps = append(steps, job.Steps...)

	for i, step := range steps {
		step.Name = stepName(i, step)
		if step.Timeout <= 0 {
			step.Timeout = job.StepTimeout
		}

		r.reporter.StepStarted(job.Name, i, step.Name)
		stream := newLineWriter(func(line string) {
			r.reporter.StepOutput(job.Name, step.Name, line)
		})
		res, err := r.executor.Execute(ctx, step, h, ws.Workdir, vars, stream)

		stepLog := StepLog{
			Index:    i,
			Name:     step.Name,
			Outcome:  OutcomeSuccess,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Duration: res.Duration,
		}
		outcome, stepErr := classifyStep(i, step.Name, res, err)
		if outcome == OutcomeSuccess {
			result.Steps = append(result.Steps, stepLog)
			r.reporter.StepFinished(job.Name, stepLog)
			vars = vars.Merge(res.Delta)
			continue
		}

		stepLog.Outcome = outcome
		result.Steps = append(result.Steps, stepLog)
		r.reporter.StepFinished(job.Name, stepLog)

		result.Outcome = outcome
		result.FailedStep = step.Name
		result.FailedStepIndex = i
		result.ExitCode = res.ExitCode
		result.Err = stepErr

		for j := i + 1; j < len(steps); j++ {
			skipped := StepLog{Index: j, Name: stepName(j, steps[j]), Outcome: OutcomeSkipped}
			result.Steps = append(result.Steps, skipped)
			r.reporter.StepFinished(job.Name, skipped)
		}
		return result
	}
	return result
}

// classifyStep maps a step result to an outcome. Any failure of the checkout
// step other than cancellation is an environment error.
func classifyStep(index int, name string, res StepResult, err error) (Outcome, error) {
	var timeoutErr TimeoutError
	var cancelErr RunCancelError
	switch {
	case err == nil && res.ExitCode == 0:
		return OutcomeSuccess, nil
	case errors.As(err, &cancelErr):
		return OutcomeCancelled, err
	case index == 0 && err == nil:
		return OutcomeEnvironmentError, EnvironmentError{Step: name, Err: StepFailure{Step: name, ExitCode: res.ExitCode}}
	case index == 0:
		return OutcomeEnvironmentError, EnvironmentError{Step: name, Err: err}
	case errors.As(err, &timeoutErr):
		return OutcomeTimedOut, err
	case err != nil:
		return OutcomeEnvironmentError, err
	}
	return OutcomeFailed, StepFailure{Step: name, ExitCode: res.ExitCode}
}

func stepName(index int, step types.ShellStep) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step %d", index)
}

// SkippedResult is the result of a job that never started because one of
// its requirements did not succeed.
func SkippedResult(job string, blockedBy []string) JobResult {
	return JobResult{
		Name:            job,
		Outcome:         OutcomeSkipped,
		FailedStepIndex: -1,
		Steps:           []StepLog{},
		Artifacts:       []string{},
		Error:           fmt.Sprintf("required jobs did not succeed: %v", blockedBy),
	}
}
