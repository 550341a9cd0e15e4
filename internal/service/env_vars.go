package service

import (
	"bufio"
	"maps"
	"slices"
	"strings"
)

// setEnvPrefix marks an output line that exports a variable to the steps
// that follow, e.g. "::set-env VERSION=1.2.3".
const setEnvPrefix = "::set-env "

// EnvVars is an immutable variable mapping threaded from step to step.
// Merge returns a new mapping and never modifies the receiver.
type EnvVars struct {
	vars map[string]string
}

func NewEnvVars(vars map[string]string) EnvVars {
	return EnvVars{vars: maps.Clone(vars)}
}

func (e EnvVars) Merge(overrides map[string]string) EnvVars {
	merged := make(map[string]string, len(e.vars)+len(overrides))
	maps.Copy(merged, e.vars)
	maps.Copy(merged, overrides)
	return EnvVars{vars: merged}
}

func (e EnvVars) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

func (e EnvVars) Len() int {
	return len(e.vars)
}

func (e EnvVars) Map() map[string]string {
	m := maps.Clone(e.vars)
	if m == nil {
		m = map[string]string{}
	}
	return m
}

// Environ formats the mapping as sorted KEY=VALUE entries.
func (e EnvVars) Environ() []string {
	keys := slices.Sorted(maps.Keys(e.vars))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + e.vars[k]
	}
	return out
}

// ParseEnvDelta collects the variables a step exported through set-env
// lines. Later lines win.
func ParseEnvDelta(output string) map[string]string {
	delta := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		rest, ok := strings.CutPrefix(line, setEnvPrefix)
		if !ok {
			continue
		}
		name, value, ok := strings.Cut(rest, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		delta[name] = value
	}
	return delta
}
