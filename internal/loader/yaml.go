package loader

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/haatos/multici/internal/types"
)

type yamlPipeline struct {
	Source    sourceDoc               `yaml:"source"`
	Commands  map[string]yamlCommand  `yaml:"commands"`
	Jobs      map[string]yamlJob      `yaml:"jobs"`
	Workflows map[string]yamlWorkflow `yaml:"workflows"`
}

type yamlCommand struct {
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Steps       []yamlStep     `yaml:"steps"`
}

type yamlStep struct {
	Name    string         `yaml:"name"`
	Run     string         `yaml:"run"`
	Use     string         `yaml:"use"`
	With    map[string]any `yaml:"with"`
	Env     map[string]any `yaml:"env"`
	Workdir string         `yaml:"workdir"`
	Timeout any            `yaml:"timeout"`
}

type yamlJob struct {
	Environment environmentDoc          `yaml:"environment"`
	StepTimeout any                     `yaml:"step_timeout"`
	Env         map[string]any          `yaml:"env"`
	Steps       []yamlStep              `yaml:"steps"`
	Platforms   map[string]yamlPlatform `yaml:"platforms"`
}

type yamlPlatform struct {
	Environment environmentDoc `yaml:"environment"`
	Steps       []yamlStep     `yaml:"steps"`
}

type yamlWorkflow struct {
	Schedule string            `yaml:"schedule"`
	Jobs     []yamlWorkflowJob `yaml:"jobs"`
}

// yamlWorkflowJob is either a bare job name or {name, requires}.
type yamlWorkflowJob struct {
	Name     string   `yaml:"name"`
	Requires []string `yaml:"requires"`
}

func (j *yamlWorkflowJob) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		j.Name = name
		return nil
	}
	type plain yamlWorkflowJob
	return unmarshal((*plain)(j))
}

// ParseYAML decodes a YAML pipeline. Unknown keys are rejected.
func ParseYAML(data []byte) (*types.Pipeline, error) {
	var raw yamlPipeline
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.Strict()); err != nil {
		return nil, err
	}

	doc := pipelineDoc{
		Source:    raw.Source,
		Commands:  make(map[string]commandDoc, len(raw.Commands)),
		Jobs:      make(map[string]jobDoc, len(raw.Jobs)),
		Workflows: make(map[string]workflowDoc, len(raw.Workflows)),
	}
	for name, c := range raw.Commands {
		params := make(map[string]*string, len(c.Parameters))
		for k, v := range c.Parameters {
			if v == nil {
				params[k] = nil
				continue
			}
			def := scalar(v)
			params[k] = &def
		}
		doc.Commands[name] = commandDoc{
			Description: c.Description,
			Parameters:  params,
			Steps:       yamlSteps(c.Steps),
		}
	}
	for name, j := range raw.Jobs {
		platforms := make(map[string]platformDoc, len(j.Platforms))
		for pn, pd := range j.Platforms {
			platforms[pn] = platformDoc{Environment: pd.Environment, Steps: yamlSteps(pd.Steps)}
		}
		doc.Jobs[name] = jobDoc{
			Environment: j.Environment,
			StepTimeout: scalar(j.StepTimeout),
			Env:         scalarMap(j.Env),
			Steps:       yamlSteps(j.Steps),
			Platforms:   platforms,
		}
	}
	for name, w := range raw.Workflows {
		jobs := make([]workflowJobDoc, len(w.Jobs))
		for i, j := range w.Jobs {
			jobs[i] = workflowJobDoc(j)
		}
		doc.Workflows[name] = workflowDoc{Schedule: w.Schedule, Jobs: jobs}
	}
	return doc.build()
}

func yamlSteps(steps []yamlStep) []stepDoc {
	out := make([]stepDoc, len(steps))
	for i, s := range steps {
		out[i] = stepDoc{
			Name:    s.Name,
			Run:     s.Run,
			Use:     s.Use,
			With:    scalarMap(s.With),
			Env:     scalarMap(s.Env),
			Workdir: s.Workdir,
			Timeout: scalar(s.Timeout),
		}
	}
	return out
}

// scalar renders a decoded YAML scalar as text. Null renders empty.
func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func scalarMap(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = scalar(v)
	}
	return out
}
