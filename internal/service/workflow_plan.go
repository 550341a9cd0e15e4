package service

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/google/uuid"
	"github.com/haatos/multici/internal/types"
)

var builtinPattern = regexp.MustCompile(`<<\s*(environment|job)\.([a-z_]+)\s*>>`)

// WorkflowPlan is a workflow whose jobs are fully resolved and ordered into
// layers. Every job of a layer only requires jobs of earlier layers.
type WorkflowPlan struct {
	RunID    string
	Workflow string
	Jobs     []PlannedJob
	Layers   [][]string
}

func (p *WorkflowPlan) Job(name string) (PlannedJob, bool) {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return PlannedJob{}, false
}

// NewRegistryFromPipeline registers every command of p and checks the
// references between them.
func NewRegistryFromPipeline(p *types.Pipeline) (*CommandRegistry, error) {
	r := NewCommandRegistry()
	var errs []error
	for _, c := range p.Commands {
		if err := r.RegisterCommand(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r, nil
}

// PlanWorkflow resolves every job of the named workflow. No job is planned
// if any of them fails to resolve.
func PlanWorkflow(p *types.Pipeline, registry *CommandRegistry, workflow string) (*WorkflowPlan, error) {
	wf, ok := p.Workflows[workflow]
	if !ok {
		return nil, UnknownWorkflowError{Name: workflow}
	}

	names := make([]string, 0, len(wf.Jobs))
	for _, name := range wf.Jobs {
		if slices.Contains(names, name) {
			continue
		}
		if _, ok := p.Jobs[name]; !ok {
			return nil, UnknownJobError{Workflow: workflow, Job: name}
		}
		names = append(names, name)
	}
	for job, requires := range wf.Requires {
		if !slices.Contains(names, job) {
			return nil, UnknownJobError{Workflow: workflow, Job: job}
		}
		for _, req := range requires {
			if !slices.Contains(names, req) {
				return nil, UnknownJobError{Workflow: workflow, Job: req}
			}
		}
	}

	layers, err := layerJobs(workflow, names, wf.Requires)
	if err != nil {
		return nil, err
	}

	plan := &WorkflowPlan{
		RunID:    uuid.NewString(),
		Workflow: workflow,
		Jobs:     make([]PlannedJob, 0, len(names)),
		Layers:   layers,
	}
	for _, name := range names {
		job := p.Jobs[name]
		steps, err := registry.Expand(job.Steps)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		for i := range steps {
			if err := substituteBuiltins(&steps[i], name, job.Environment.WithDefaults()); err != nil {
				return nil, fmt.Errorf("job %q: %w", name, err)
			}
		}
		plan.Jobs = append(plan.Jobs, PlannedJob{
			Name:        name,
			Environment: job.Environment.WithDefaults(),
			Source:      p.Source,
			Steps:       steps,
			Env:         job.Env,
			StepTimeout: job.StepTimeout,
			Requires:    slices.Clone(wf.Requires[name]),
		})
	}
	return plan, nil
}

// layerJobs orders names into dependency layers with Kahn's algorithm.
// Jobs keep their declaration order within a layer.
func layerJobs(workflow string, names []string, requires map[string][]string) ([][]string, error) {
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		deps := slices.Compact(slices.Sorted(slices.Values(requires[name])))
		indegree[name] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], name)
		}
	}

	layers := [][]string{}
	placed := 0
	var current []string
	for _, name := range names {
		if indegree[name] == 0 {
			current = append(current, name)
		}
	}
	for len(current) > 0 {
		layers = append(layers, current)
		placed += len(current)
		ready := make(map[string]bool)
		for _, name := range current {
			for _, d := range dependents[name] {
				indegree[d]--
				if indegree[d] == 0 {
					ready[d] = true
				}
			}
		}
		var next []string
		for _, name := range names {
			if ready[name] {
				next = append(next, name)
			}
		}
		current = next
	}

	if placed != len(names) {
		var cyclic []string
		for _, name := range names {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, CyclicDependencyError{Workflow: workflow, Jobs: cyclic}
	}
	return layers, nil
}

func substituteBuiltins(step *types.ShellStep, job string, env types.Environment) error {
	var err error
	replace := func(text string) string {
		return builtinPattern.ReplaceAllStringFunc(text, func(m string) string {
			sub := builtinPattern.FindStringSubmatch(m)
			switch sub[1] + "." + sub[2] {
			case "environment.resource_tier":
				return env.ResourceTier
			case "environment.image":
				return env.Image
			case "environment.kind":
				return string(env.Kind)
			case "environment.shell":
				return string(env.Shell)
			case "job.name":
				return job
			}
			if err == nil {
				err = fmt.Errorf("unknown placeholder %q in step %q", m, step.Name)
			}
			return m
		})
	}
	step.Name = replace(step.Name)
	step.Run = replace(step.Run)
	step.Workdir = replace(step.Workdir)
	for k, v := range step.Env {
		step.Env[k] = replace(v)
	}
	return err
}
