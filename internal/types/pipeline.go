package types

import (
	"maps"
	"slices"
	"time"
)

type EnvironmentKind string

const (
	KindContainer EnvironmentKind = "container"
	KindVM        EnvironmentKind = "vm"
	KindCustom    EnvironmentKind = "custom"
)

type Shell string

const (
	ShellPosix   Shell = "posix"
	ShellWindows Shell = "windows"
)

// Environment identifies where a job runs. ResourceTier only affects the
// provisioned capacity and Shell only affects how step bodies are invoked.
type Environment struct {
	Kind         EnvironmentKind `json:"kind"`
	Image        string          `json:"image"`
	ResourceTier string          `json:"resource_tier"`
	Shell        Shell           `json:"shell"`
}

func (e Environment) WithDefaults() Environment {
	if e.Shell == "" {
		e.Shell = ShellPosix
	}
	return e
}

type ShellStep struct {
	Name    string
	Run     string
	Env     map[string]string
	Workdir string
	Timeout time.Duration
}

type CommandRef struct {
	Command string
	Args    map[string]string
}

// Step is either a shell invocation or a reference to a registered command.
// Exactly one of Shell and Ref is set.
type Step struct {
	Shell *ShellStep
	Ref   *CommandRef
}

func NewShellStep(name, run string) Step {
	return Step{Shell: &ShellStep{Name: name, Run: run}}
}

func NewCommandRef(command string, args map[string]string) Step {
	return Step{Ref: &CommandRef{Command: command, Args: args}}
}

func (s Step) IsShell() bool {
	return s.Shell != nil
}

// Clone returns a deep copy so registered commands cannot be mutated through
// the slices handed to callers.
func (s Step) Clone() Step {
	switch {
	case s.Shell != nil:
		sh := *s.Shell
		sh.Env = maps.Clone(s.Shell.Env)
		return Step{Shell: &sh}
	case s.Ref != nil:
		ref := *s.Ref
		ref.Args = maps.Clone(s.Ref.Args)
		return Step{Ref: &ref}
	}
	return Step{}
}

func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// Command is a named, parameterized step template. A nil default marks a
// required parameter.
type Command struct {
	Name        string
	Description string
	Steps       []Step
	Parameters  map[string]*string
}

type Job struct {
	Name        string
	Environment Environment
	Steps       []Step
	Env         map[string]string
	StepTimeout time.Duration
}

type Workflow struct {
	Name     string
	Jobs     []string
	Requires map[string][]string
	Schedule string
}

// Source describes what the implicit checkout step fetches into the job
// working directory. Repository wins over Path when both are set.
type Source struct {
	Repository string
	Branch     string
	Path       string
}

type Pipeline struct {
	Source    Source
	Commands  []Command
	Jobs      map[string]Job
	Workflows map[string]Workflow
}

func (p *Pipeline) WorkflowNames() []string {
	return slices.Sorted(maps.Keys(p.Workflows))
}

func (p *Pipeline) JobNames() []string {
	return slices.Sorted(maps.Keys(p.Jobs))
}
