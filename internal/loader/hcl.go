package loader

import (
	"fmt"
	"slices"

	"github.com/haatos/multici/internal/types"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

type hclFile struct {
	Source    *sourceDoc    `hcl:"source,block"`
	Commands  []hclCommand  `hcl:"command,block"`
	Jobs      []hclJob      `hcl:"job,block"`
	Workflows []hclWorkflow `hcl:"workflow,block"`
}

type hclCommand struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	Parameters  map[string]string `hcl:"parameters,optional"`
	Required    []string          `hcl:"required,optional"`
	Steps       []hclStep         `hcl:"step,block"`
}

type hclStep struct {
	Name    string            `hcl:"name,optional"`
	Run     string            `hcl:"run,optional"`
	Use     string            `hcl:"use,optional"`
	With    map[string]string `hcl:"with,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Workdir string            `hcl:"workdir,optional"`
	Timeout string            `hcl:"timeout,optional"`
}

type hclJob struct {
	Name        string            `hcl:"name,label"`
	Environment *environmentDoc   `hcl:"environment,block"`
	StepTimeout string            `hcl:"step_timeout,optional"`
	Env         map[string]string `hcl:"env,optional"`
	Steps       []hclStep         `hcl:"step,block"`
	Platforms   []hclPlatform     `hcl:"platform,block"`
}

type hclPlatform struct {
	Name        string          `hcl:"name,label"`
	Environment *environmentDoc `hcl:"environment,block"`
	Steps       []hclStep       `hcl:"step,block"`
}

type hclWorkflow struct {
	Name     string              `hcl:"name,label"`
	Schedule string              `hcl:"schedule,optional"`
	Jobs     []string            `hcl:"jobs"`
	Requires map[string][]string `hcl:"requires,optional"`
}

// ParseHCL decodes an HCL pipeline. filename is only used in diagnostics.
// Required command parameters are listed in the required attribute since
// HCL maps cannot hold null values.
func ParseHCL(data []byte, filename string) (*types.Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}
	var raw hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	doc := pipelineDoc{
		Commands:  make(map[string]commandDoc, len(raw.Commands)),
		Jobs:      make(map[string]jobDoc, len(raw.Jobs)),
		Workflows: make(map[string]workflowDoc, len(raw.Workflows)),
	}
	if raw.Source != nil {
		doc.Source = *raw.Source
	}
	for _, c := range raw.Commands {
		if _, ok := doc.Commands[c.Name]; ok {
			return nil, fmt.Errorf("command %q is defined more than once", c.Name)
		}
		params := make(map[string]*string, len(c.Parameters)+len(c.Required))
		for k, v := range c.Parameters {
			params[k] = &v
		}
		for _, k := range c.Required {
			params[k] = nil
		}
		doc.Commands[c.Name] = commandDoc{Description: c.Description, Parameters: params, Steps: hclSteps(c.Steps)}
	}
	for _, j := range raw.Jobs {
		if _, ok := doc.Jobs[j.Name]; ok {
			return nil, fmt.Errorf("job %q is defined more than once", j.Name)
		}
		platforms := make(map[string]platformDoc, len(j.Platforms))
		for _, p := range j.Platforms {
			platforms[p.Name] = platformDoc{Environment: derefEnv(p.Environment), Steps: hclSteps(p.Steps)}
		}
		doc.Jobs[j.Name] = jobDoc{
			Environment: derefEnv(j.Environment),
			StepTimeout: j.StepTimeout,
			Env:         j.Env,
			Steps:       hclSteps(j.Steps),
			Platforms:   platforms,
		}
	}
	for _, w := range raw.Workflows {
		for job := range w.Requires {
			if !slices.Contains(w.Jobs, job) {
				return nil, fmt.Errorf("workflow %q: requires lists %q which is not one of its jobs", w.Name, job)
			}
		}
		jobs := make([]workflowJobDoc, len(w.Jobs))
		for i, name := range w.Jobs {
			jobs[i] = workflowJobDoc{Name: name, Requires: w.Requires[name]}
		}
		doc.Workflows[w.Name] = workflowDoc{Schedule: w.Schedule, Jobs: jobs}
	}
	return doc.build()
}

func hclSteps(steps []hclStep) []stepDoc {
	out := make([]stepDoc, len(steps))
	for i, s := range steps {
		out[i] = stepDoc(s)
	}
	return out
}

func derefEnv(env *environmentDoc) environmentDoc {
	if env == nil {
		return environmentDoc{}
	}
	return *env
}
