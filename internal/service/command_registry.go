package service

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"

	"github.com/haatos/multici/internal/types"
)

// MaxCommandDepth bounds how many command references may be nested.
const MaxCommandDepth = 32

var parameterPattern = regexp.MustCompile(`<<\s*parameters\.([^\s<>]+)\s*>>`)

// CommandRegistry stores reusable step templates. Registered commands are
// never mutated; resolution only expands data.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]types.Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]types.Command)}
}

func (r *CommandRegistry) Register(
	name, description string,
	steps []types.Step,
	parameters map[string]*string,
) error {
	if err := types.ValidateName("command", name); err != nil {
		return err
	}
	for p := range parameters {
		if err := types.ValidateName("parameter", p); err != nil {
			return fmt.Errorf("command %q: %w", name, err)
		}
	}
	for i, s := range steps {
		if (s.Shell == nil) == (s.Ref == nil) {
			return fmt.Errorf("command %q: step %d must be either a shell step or a command reference", name, i+1)
		}
	}

	params := make(map[string]*string, len(parameters))
	for k, v := range parameters {
		if v != nil {
			def := *v
			v = &def
		}
		params[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return DuplicateNameError{Name: name}
	}
	r.commands[name] = types.Command{
		Name:        name,
		Description: description,
		Steps:       types.CloneSteps(steps),
		Parameters:  params,
	}
	return nil
}

func (r *CommandRegistry) RegisterCommand(c types.Command) error {
	return r.Register(c.Name, c.Description, c.Steps, c.Parameters)
}

func (r *CommandRegistry) Get(name string) (types.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	if !ok {
		return types.Command{}, false
	}
	c.Steps = types.CloneSteps(c.Steps)
	c.Parameters = maps.Clone(c.Parameters)
	return c, true
}

func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.commands))
}

// Resolve expands the named command into shell steps, substituting
// << parameters.NAME >> placeholders from args or the declared defaults.
func (r *CommandRegistry) Resolve(name string, args map[string]string) ([]types.ShellStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name, args, nil)
}

// Expand resolves a mixed step list as found in a job definition. Shell
// steps are copied unchanged.
func (r *CommandRegistry) Expand(steps []types.Step) ([]types.ShellStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ShellStep, 0, len(steps))
	for _, s := range steps {
		switch {
		case s.Shell != nil:
			out = append(out, cloneShell(*s.Shell))
		case s.Ref != nil:
			resolved, err := r.resolve(s.Ref.Command, s.Ref.Args, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved...)
		}
	}
	return out, nil
}

func (r *CommandRegistry) resolve(
	name string,
	args map[string]string,
	chain []string,
) ([]types.ShellStep, error) {
	if slices.Contains(chain, name) {
		return nil, CyclicReferenceError{Chain: append(slices.Clone(chain), name)}
	}
	if len(chain) >= MaxCommandDepth {
		return nil, CommandDepthError{Chain: append(slices.Clone(chain), name), Limit: MaxCommandDepth}
	}
	cmd, ok := r.commands[name]
	if !ok {
		return nil, UnknownCommandError{Name: name}
	}
	chain = append(slices.Clone(chain), name)

	sub := substituter{command: cmd, args: args}
	out := make([]types.ShellStep, 0, len(cmd.Steps))
	for _, s := range cmd.Steps {
		switch {
		case s.Shell != nil:
			step := cloneShell(*s.Shell)
			step.Name = sub.replace(step.Name)
			step.Run = sub.replace(step.Run)
			step.Workdir = sub.replace(step.Workdir)
			for k, v := range step.Env {
				step.Env[k] = sub.replace(v)
			}
			if sub.err != nil {
				return nil, sub.err
			}
			out = append(out, step)
		case s.Ref != nil:
			nestedArgs := make(map[string]string, len(s.Ref.Args))
			for k, v := range s.Ref.Args {
				nestedArgs[k] = sub.replace(v)
			}
			if sub.err != nil {
				return nil, sub.err
			}
			resolved, err := r.resolve(s.Ref.Command, nestedArgs, chain)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved...)
		}
	}
	return out, nil
}

// Check walks every command's references without binding parameters and
// reports unknown commands and reference cycles.
func (r *CommandRegistry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	done := make(map[string]bool)
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		if err := r.check(name, nil, done); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *CommandRegistry) check(name string, chain []string, done map[string]bool) error {
	if slices.Contains(chain, name) {
		return CyclicReferenceError{Chain: append(slices.Clone(chain), name)}
	}
	if done[name] {
		return nil
	}
	cmd, ok := r.commands[name]
	if !ok {
		return UnknownCommandError{Name: name}
	}
	chain = append(slices.Clone(chain), name)
	for _, s := range cmd.Steps {
		if s.Ref == nil {
			continue
		}
		if err := r.check(s.Ref.Command, chain, done); err != nil {
			return fmt.Errorf("command %q: %w", name, err)
		}
	}
	done[name] = true
	return nil
}

type substituter struct {
	command types.Command
	args    map[string]string
	err     error
}

func (s *substituter) replace(text string) string {
	if s.err != nil {
		return text
	}
	return parameterPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := parameterPattern.FindStringSubmatch(m)[1]
		if v, ok := s.args[name]; ok {
			return v
		}
		if def, ok := s.command.Parameters[name]; ok && def != nil {
			return *def
		}
		if s.err == nil {
			s.err = MissingParameterError{Command: s.command.Name, Parameter: name}
		}
		return m
	})
}

func cloneShell(s types.ShellStep) types.ShellStep {
	s.Env = maps.Clone(s.Env)
	if s.Env == nil {
		s.Env = map[string]string{}
	}
	return s
}
