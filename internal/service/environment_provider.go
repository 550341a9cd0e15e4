package service

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/haatos/multici/internal/types"
)

type AcquireRequest struct {
	Environment types.Environment
	JobName     string
	RunID       string
}

// Workspace holds the job private directories as seen from inside the
// environment.
type Workspace struct {
	Root       string
	Workdir    string
	StagingDir string
}

type ExecRequest struct {
	Body    string
	Shell   types.Shell
	Workdir string
	Env     []string
	Output  io.Writer
}

type ExecResult struct {
	ExitCode int
}

// Handle is a live environment bound to one job invocation. Exec must stop
// the spawned process when ctx is done and return ctx.Err() in that case.
type Handle interface {
	ID() string
	Environment() types.Environment
	Workspace() Workspace
	Prepare(ctx context.Context) error
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
	ListArtifacts(ctx context.Context) ([]string, error)
}

// Provider turns an environment declaration into a handle. Release must be
// safe to call more than once for the same handle.
type Provider interface {
	Acquire(ctx context.Context, req AcquireRequest) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// ProviderSet routes requests to the provider registered for the
// environment kind. Custom executors are routed by executor name.
type ProviderSet struct {
	kinds     map[types.EnvironmentKind]Provider
	executors map[string]Provider
}

func NewProviderSet() *ProviderSet {
	return &ProviderSet{
		kinds:     make(map[types.EnvironmentKind]Provider),
		executors: make(map[string]Provider),
	}
}

func (ps *ProviderSet) Register(kind types.EnvironmentKind, p Provider) {
	ps.kinds[kind] = p
}

func (ps *ProviderSet) RegisterExecutor(name string, p Provider) {
	ps.executors[name] = p
}

func (ps *ProviderSet) provider(env types.Environment) (Provider, error) {
	if env.Kind == types.KindCustom {
		p, ok := ps.executors[env.Image]
		if !ok {
			return nil, NewProvisioningError(env, "no custom executor with this name is configured", nil)
		}
		return p, nil
	}
	p, ok := ps.kinds[env.Kind]
	if !ok {
		return nil, NewProvisioningError(env, fmt.Sprintf("no provider for environment kind %q", env.Kind), nil)
	}
	return p, nil
}

func (ps *ProviderSet) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	req.Environment = req.Environment.WithDefaults()
	p, err := ps.provider(req.Environment)
	if err != nil {
		return nil, err
	}
	h, err := p.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	return &routedHandle{Handle: h, provider: p}, nil
}

func (ps *ProviderSet) Release(ctx context.Context, h Handle) error {
	rh, ok := h.(*routedHandle)
	if !ok {
		return fmt.Errorf("handle %s was not acquired through this provider set", h.ID())
	}
	return rh.provider.Release(ctx, rh.Handle)
}

type routedHandle struct {
	Handle
	provider Provider
}

// TierSet lists the resource tiers that may be provisioned. The empty tier
// always means the provider default.
type TierSet map[string]bool

func NewTierSet(tiers ...string) TierSet {
	ts := make(TierSet, len(tiers))
	for _, t := range tiers {
		ts[t] = true
	}
	return ts
}

func (ts TierSet) Allows(tier string) bool {
	return tier == "" || ts[tier]
}

// hostOS maps an OS image name to a GOOS value. Unknown names map to
// themselves so an exact GOOS value is accepted too.
func hostOS(image string) string {
	name := strings.ToLower(image)
	switch {
	case name == "":
		return runtime.GOOS
	case strings.HasPrefix(name, "linux"), strings.HasPrefix(name, "ubuntu"),
		strings.HasPrefix(name, "debian"), strings.HasPrefix(name, "fedora"),
		strings.HasPrefix(name, "alpine"):
		return "linux"
	case strings.HasPrefix(name, "macos"), strings.HasPrefix(name, "darwin"),
		strings.HasPrefix(name, "osx"), strings.HasPrefix(name, "xcode"):
		return "darwin"
	case strings.HasPrefix(name, "windows"), strings.HasPrefix(name, "win"):
		return "windows"
	case strings.HasPrefix(name, "freebsd"):
		return "freebsd"
	}
	return name
}
