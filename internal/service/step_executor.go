package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haatos/multici/internal/types"
)

type StepResult struct {
	Name     string
	ExitCode int
	Output   string
	Delta    map[string]string
	Duration time.Duration
}

// StepExecutor runs a single shell step inside a bound environment.
type StepExecutor struct {
	defaultTimeout time.Duration
}

// NewStepExecutor returns an executor that applies defaultTimeout to steps
// that carry no timeout of their own. Zero means no limit.
func NewStepExecutor(defaultTimeout time.Duration) *StepExecutor {
	return &StepExecutor{defaultTimeout: defaultTimeout}
}

// Execute runs step with base overlaid by the step env. A non-zero exit is
// reported through StepResult.ExitCode, not as an error. Errors are
// TimeoutError, RunCancelError or EnvironmentError.
func (e *StepExecutor) Execute(
	ctx context.Context,
	step types.ShellStep,
	h Handle,
	cwd string,
	base EnvVars,
	stream io.Writer,
) (StepResult, error) {
	shell := h.Environment().WithDefaults().Shell
	env := base.Merge(step.Env)

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	stepCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var captured bytes.Buffer
	var sink io.Writer = &captured
	if stream != nil {
		sink = io.MultiWriter(&captured, stream)
	}
	out := &lockedWriter{w: sink}

	start := time.Now()
	res, err := h.Exec(stepCtx, ExecRequest{
		Body:    step.Run,
		Shell:   shell,
		Workdir: joinWorkdir(shell, cwd, step.Workdir),
		Env:     env.Environ(),
		Output:  out,
	})
	if f, ok := stream.(interface{ Flush() }); ok {
		f.Flush()
	}

	result := StepResult{
		Name:     step.Name,
		ExitCode: res.ExitCode,
		Output:   captured.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return result, RunCancelError{Message: fmt.Sprintf("step %q cancelled", step.Name)}
		case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
			return result, TimeoutError{Step: step.Name, Timeout: timeout}
		default:
			return result, EnvironmentError{Step: step.Name, Err: err}
		}
	}
	result.Delta = ParseEnvDelta(result.Output)
	return result, nil
}
