package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/loader"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/settings"
	"github.com/haatos/multici/internal/types"
	"github.com/haatos/multici/internal/util"
)

// RunCmd is the 'multici run' command.
type RunCmd struct {
	File        string `arg:"" help:"Pipeline file (.yml, .yaml or .hcl)." type:"existingfile"`
	Workflow    string `short:"w" help:"Workflow to run. Required when the file declares more than one." placeholder:"NAME"`
	JSON        bool   `help:"Print the workflow result as JSON on stdout."`
	MaxParallel int    `short:"p" help:"Maximum number of concurrent jobs, zero for no limit." default:"-1" placeholder:"N"`
}

// Run executes the workflow to completion. A failed workflow is reported
// through ExitError so the process exits with the workflow status.
func (c *RunCmd) Run(ctx context.Context) error {
	if err := loadConfiguration(); err != nil {
		return err
	}
	p, err := loader.Load(c.File)
	if err != nil {
		return err
	}
	workflow, err := pickWorkflow(p, c.Workflow)
	if err != nil {
		return err
	}

	envs, err := newEnvironments(internal.Config, settings.Settings)
	if err != nil {
		return err
	}
	defer envs.Close()

	maxParallel := internal.Config.MaxParallelJobs
	if c.MaxParallel >= 0 {
		maxParallel = c.MaxParallel
	}

	var reporter service.Reporter = service.NewLogReporter(slog.Default())
	if !RootCmd.Quiet && !c.JSON {
		reporter = service.MultiReporter{reporter, newConsoleReporter(os.Stderr)}
	}

	result, err := runWorkflow(ctx, p, workflow, runOptions{
		provider:    envs.providers,
		stepTimeout: time.Duration(internal.Config.DefaultStepTimeout),
		maxParallel: maxParallel,
		reporter:    reporter,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, result)
	}

	if code := result.ExitCode(); code != 0 {
		return ExitError{Code: code}
	}
	return nil
}

type runOptions struct {
	provider    service.Provider
	stepTimeout time.Duration
	maxParallel int
	reporter    service.Reporter
}

func runWorkflow(
	ctx context.Context,
	p *types.Pipeline,
	workflow string,
	opts runOptions,
) (service.WorkflowResult, error) {
	registry, err := service.NewRegistryFromPipeline(p)
	if err != nil {
		return service.WorkflowResult{}, err
	}
	plan, err := service.PlanWorkflow(p, registry, workflow)
	if err != nil {
		return service.WorkflowResult{}, err
	}
	runner := service.NewJobRunner(opts.provider, service.NewStepExecutor(opts.stepTimeout), opts.reporter)
	return service.NewWorkflowScheduler(runner, opts.maxParallel).Run(ctx, plan), nil
}

// pickWorkflow returns name, or the only workflow of p when name is empty.
func pickWorkflow(p *types.Pipeline, name string) (string, error) {
	if name != "" {
		if _, ok := p.Workflows[name]; !ok {
			return "", service.UnknownWorkflowError{Name: name}
		}
		return name, nil
	}
	names := p.WorkflowNames()
	switch len(names) {
	case 0:
		return "", errors.New("the pipeline declares no workflows")
	case 1:
		return names[0], nil
	}
	return "", fmt.Errorf("the pipeline declares %d workflows, choose one with --workflow: %s",
		len(names), strings.Join(names, ", "))
}

func printSummary(w io.Writer, result service.WorkflowResult) {
	fmt.Fprintf(w, "workflow %s (%s): %s in %s\n",
		result.Workflow, result.RunID, result.Outcome, result.Duration.Round(time.Millisecond))
	for _, j := range result.Jobs {
		line := fmt.Sprintf("  %-24s %-18s %s", j.Name, j.Outcome, j.Duration.Round(time.Millisecond))
		if j.FailedStep != "" {
			line += fmt.Sprintf("  step %q exit %d", j.FailedStep, j.ExitCode)
		}
		if j.Error != "" {
			line += "  " + util.FirstLine(j.Error, 120)
		}
		fmt.Fprintln(w, line)
		if len(j.Artifacts) > 0 {
			fmt.Fprintf(w, "  %-24s artifacts in %s: %s\n", "", j.StagingDir, strings.Join(j.Artifacts, ", "))
		}
	}
	if len(result.CriticalPath) > 0 {
		fmt.Fprintf(w, "critical path: %s (%s)\n",
			strings.Join(result.CriticalPath, " -> "), result.CriticalPathDuration.Round(time.Millisecond))
	}
}

// consoleReporter streams step output to w prefixed with the job name.
type consoleReporter struct {
	service.NopReporter
	mu  sync.Mutex
	out io.Writer
}

func newConsoleReporter(w io.Writer) *consoleReporter {
	return &consoleReporter{out: w}
}

func (r *consoleReporter) StepOutput(job, step, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "[%s] %s\n", job, line)
}
