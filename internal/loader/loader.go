// Package loader reads pipeline files into types.Pipeline values. YAML and
// HCL files share one document model so both formats support the same
// features.
package loader

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/haatos/multici/internal/types"
)

type UnsupportedFormatError struct {
	Path string
}

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported pipeline file %q: expected .yml, .yaml or .hcl", e.Path)
}

// Load reads the pipeline file at path. A relative source path is resolved
// against the directory of the file.
func Load(path string) (*types.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *types.Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		p, err = ParseYAML(data)
	case ".hcl":
		p, err = ParseHCL(data, path)
	default:
		return nil, UnsupportedFormatError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if p.Source.Path != "" && p.Source.Repository == "" && !filepath.IsAbs(p.Source.Path) {
		abs, err := filepath.Abs(filepath.Join(filepath.Dir(path), p.Source.Path))
		if err != nil {
			return nil, err
		}
		p.Source.Path = abs
	}
	return p, nil
}

type pipelineDoc struct {
	Source    sourceDoc
	Commands  map[string]commandDoc
	Jobs      map[string]jobDoc
	Workflows map[string]workflowDoc
}

type sourceDoc struct {
	Repository string `yaml:"repository" hcl:"repository,optional"`
	Branch     string `yaml:"branch" hcl:"branch,optional"`
	Path       string `yaml:"path" hcl:"path,optional"`
}

type commandDoc struct {
	Description string
	Parameters  map[string]*string
	Steps       []stepDoc
}

type stepDoc struct {
	Name    string
	Run     string
	Use     string
	With    map[string]string
	Env     map[string]string
	Workdir string
	Timeout string
}

type environmentDoc struct {
	Kind         string `yaml:"kind" hcl:"kind,optional"`
	Image        string `yaml:"image" hcl:"image,optional"`
	ResourceTier string `yaml:"resource_tier" hcl:"resource_tier,optional"`
	Shell        string `yaml:"shell" hcl:"shell,optional"`
}

type jobDoc struct {
	Environment environmentDoc
	StepTimeout string
	Env         map[string]string
	Steps       []stepDoc
	Platforms   map[string]platformDoc
}

type platformDoc struct {
	Environment environmentDoc
	Steps       []stepDoc
}

type workflowDoc struct {
	Schedule string
	Jobs     []workflowJobDoc
}

type workflowJobDoc struct {
	Name     string
	Requires []string
}

func (d pipelineDoc) build() (*types.Pipeline, error) {
	p := &types.Pipeline{
		Source: types.Source{
			Repository: d.Source.Repository,
			Branch:     d.Source.Branch,
			Path:       d.Source.Path,
		},
		Commands:  make([]types.Command, 0, len(d.Commands)),
		Jobs:      make(map[string]types.Job),
		Workflows: make(map[string]types.Workflow, len(d.Workflows)),
	}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(d.Commands)) {
		c := d.Commands[name]
		steps, err := buildSteps(c.Steps)
		if err != nil {
			errs = append(errs, fmt.Errorf("command %q: %w", name, err))
			continue
		}
		p.Commands = append(p.Commands, types.Command{
			Name:        name,
			Description: c.Description,
			Steps:       steps,
			Parameters:  c.Parameters,
		})
	}

	// expansions maps a job name with platforms to its per-platform jobs.
	expansions := make(map[string][]string)
	for _, name := range slices.Sorted(maps.Keys(d.Jobs)) {
		jobs, err := buildJobs(name, d.Jobs[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(d.Jobs[name].Platforms) > 0 {
			for _, j := range jobs {
				expansions[name] = append(expansions[name], j.Name)
			}
		}
		for _, j := range jobs {
			if _, ok := p.Jobs[j.Name]; ok {
				errs = append(errs, fmt.Errorf("job %q is defined more than once", j.Name))
				continue
			}
			p.Jobs[j.Name] = j
		}
	}

	for _, name := range slices.Sorted(maps.Keys(d.Workflows)) {
		wf, err := buildWorkflow(name, d.Workflows[name], expansions)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Workflows[name] = wf
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

func buildSteps(docs []stepDoc) ([]types.Step, error) {
	steps := make([]types.Step, 0, len(docs))
	for i, s := range docs {
		switch {
		case s.Run != "" && s.Use != "":
			return nil, fmt.Errorf("step %d: run and use are mutually exclusive", i+1)
		case s.Use != "" && (s.Name != "" || len(s.Env) > 0 || s.Workdir != "" || s.Timeout != ""):
			return nil, fmt.Errorf("step %d: name, env, workdir and timeout cannot be set on a use step", i+1)
		case s.Use != "":
			steps = append(steps, types.NewCommandRef(s.Use, s.With))
		case s.Run != "":
			timeout, err := parseDuration(s.Timeout)
			if err != nil {
				return nil, fmt.Errorf("step %d: invalid timeout: %w", i+1, err)
			}
			steps = append(steps, types.Step{Shell: &types.ShellStep{
				Name:    s.Name,
				Run:     s.Run,
				Env:     s.Env,
				Workdir: s.Workdir,
				Timeout: timeout,
			}})
		default:
			return nil, fmt.Errorf("step %d: either run or use is required", i+1)
		}
	}
	return steps, nil
}

func buildEnvironment(d environmentDoc) (types.Environment, error) {
	env := types.Environment{
		Kind:         types.EnvironmentKind(d.Kind),
		Image:        d.Image,
		ResourceTier: d.ResourceTier,
		Shell:        types.Shell(d.Shell),
	}.WithDefaults()
	switch env.Kind {
	case types.KindContainer, types.KindVM, types.KindCustom:
	case "":
		return env, errors.New("environment kind is required")
	default:
		return env, fmt.Errorf("unknown environment kind %q", env.Kind)
	}
	switch env.Shell {
	case types.ShellPosix, types.ShellWindows:
	default:
		return env, fmt.Errorf("unknown shell %q", env.Shell)
	}
	return env, nil
}

// overlay returns base with every non-empty field of d applied.
func (d environmentDoc) overlay(base environmentDoc) environmentDoc {
	if d.Kind != "" {
		base.Kind = d.Kind
	}
	if d.Image != "" {
		base.Image = d.Image
	}
	if d.ResourceTier != "" {
		base.ResourceTier = d.ResourceTier
	}
	if d.Shell != "" {
		base.Shell = d.Shell
	}
	return base
}

// buildJobs converts a job document. A job with platforms becomes one job
// per platform named <job>-<platform>, running the platform steps before
// the shared steps.
func buildJobs(name string, d jobDoc) ([]types.Job, error) {
	if err := types.ValidateName("job", name); err != nil {
		return nil, err
	}
	timeout, err := parseDuration(d.StepTimeout)
	if err != nil {
		return nil, fmt.Errorf("job %q: invalid step_timeout: %w", name, err)
	}
	steps, err := buildSteps(d.Steps)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", name, err)
	}

	if len(d.Platforms) == 0 {
		env, err := buildEnvironment(d.Environment)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		return []types.Job{{Name: name, Environment: env, Steps: steps, Env: d.Env, StepTimeout: timeout}}, nil
	}

	jobs := make([]types.Job, 0, len(d.Platforms))
	for _, platform := range slices.Sorted(maps.Keys(d.Platforms)) {
		pd := d.Platforms[platform]
		jobName := name + "-" + platform
		if err := types.ValidateName("job", jobName); err != nil {
			return nil, err
		}
		env, err := buildEnvironment(pd.Environment.overlay(d.Environment))
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jobName, err)
		}
		setup, err := buildSteps(pd.Steps)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jobName, err)
		}
		jobs = append(jobs, types.Job{
			Name:        jobName,
			Environment: env,
			Steps:       append(setup, types.CloneSteps(steps)...),
			Env:         maps.Clone(d.Env),
			StepTimeout: timeout,
		})
	}
	return jobs, nil
}

func buildWorkflow(name string, d workflowDoc, expansions map[string][]string) (types.Workflow, error) {
	if err := types.ValidateName("workflow", name); err != nil {
		return types.Workflow{}, err
	}
	expand := func(job string) []string {
		if names, ok := expansions[job]; ok {
			return names
		}
		return []string{job}
	}

	wf := types.Workflow{Name: name, Schedule: d.Schedule, Requires: make(map[string][]string)}
	for _, j := range d.Jobs {
		if j.Name == "" {
			return types.Workflow{}, fmt.Errorf("workflow %q: job entry without a name", name)
		}
		var requires []string
		for _, r := range j.Requires {
			requires = append(requires, expand(r)...)
		}
		for _, job := range expand(j.Name) {
			wf.Jobs = append(wf.Jobs, job)
			if len(requires) > 0 {
				wf.Requires[job] = append(wf.Requires[job], requires...)
			}
		}
	}
	return wf, nil
}

// parseDuration accepts Go durations and a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
