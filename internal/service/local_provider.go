package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/multici/internal/types"
	"github.com/haatos/multici/internal/util"
)

// killGrace bounds how long Exec waits for output pipes after the process
// group has been killed. A child that left the group (setsid) and keeps the
// pipe open delays a timed out step by up to killGrace.
const killGrace = 500 * time.Millisecond

// LocalProvider runs jobs directly on the host. The environment image names
// the operating system the job expects. Releasing a handle removes the
// working directory and keeps the staging directory until PurgeRun.
type LocalProvider struct {
	workspaceRoot string
	tiers         TierSet
	goos          string
	namedExecutor bool
}

func NewLocalProvider(workspaceRoot string, tiers TierSet) *LocalProvider {
	return &LocalProvider{workspaceRoot: workspaceRoot, tiers: tiers, goos: runtime.GOOS}
}

// NewLocalExecutor returns a local provider for a custom executor. The
// environment image holds the executor name, so no OS check is made.
func NewLocalExecutor(workspaceRoot string, tiers TierSet) *LocalProvider {
	p := NewLocalProvider(workspaceRoot, tiers)
	p.namedExecutor = true
	return p
}

func (p *LocalProvider) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	env := req.Environment.WithDefaults()
	if want := hostOS(env.Image); !p.namedExecutor && want != p.goos {
		return nil, NewProvisioningError(env, fmt.Sprintf("host runs %s, job requires %s", p.goos, want), nil)
	}
	if env.Shell == types.ShellWindows && p.goos != "windows" {
		return nil, NewProvisioningError(env, "windows shell is not available on this host", nil)
	}
	if env.Shell != types.ShellWindows && env.Shell != types.ShellPosix {
		return nil, NewProvisioningError(env, fmt.Sprintf("unknown shell %q", env.Shell), nil)
	}
	if !p.tiers.Allows(env.ResourceTier) {
		return nil, NewProvisioningError(env, "resource tier is not configured", nil)
	}

	id := util.SanitizeName(req.JobName) + "-" + uuid.NewString()[:8]
	root := filepath.Join(p.workspaceRoot, util.SanitizeName(req.RunID), id)
	for _, dir := range []string{"work", "staging", ".scripts"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, NewProvisioningError(env, "cannot create workspace", err)
		}
	}
	slog.Debug("acquired local environment", "job", req.JobName, "root", root)
	return &localHandle{id: id, env: env, root: root}, nil
}

func (p *LocalProvider) Release(ctx context.Context, h Handle) error {
	lh, ok := h.(*localHandle)
	if !ok {
		return fmt.Errorf("handle %s does not belong to the local provider", h.ID())
	}
	lh.releaseOnce.Do(func() {
		ws := lh.Workspace()
		lh.releaseErr = errors.Join(
			os.RemoveAll(ws.Workdir),
			os.RemoveAll(filepath.Join(lh.root, ".scripts")),
		)
		slog.Debug("released local environment", "root", lh.root)
	})
	return lh.releaseErr
}

// PurgeRun removes everything kept for runID, including staged artifacts.
func (p *LocalProvider) PurgeRun(runID string) error {
	return os.RemoveAll(filepath.Join(p.workspaceRoot, util.SanitizeName(runID)))
}

type localHandle struct {
	id   string
	env  types.Environment
	root string

	scripts     atomic.Int64
	releaseOnce sync.Once
	releaseErr  error
}

func (h *localHandle) ID() string                     { return h.id }
func (h *localHandle) Environment() types.Environment { return h.env }

func (h *localHandle) Workspace() Workspace {
	return Workspace{
		Root:       h.root,
		Workdir:    filepath.Join(h.root, "work"),
		StagingDir: filepath.Join(h.root, "staging"),
	}
}

// Prepare empties the working and staging directories.
func (h *localHandle) Prepare(ctx context.Context) error {
	ws := h.Workspace()
	if err := util.ResetDir(ws.Workdir, 0o755); err != nil {
		return err
	}
	return util.ResetDir(ws.StagingDir, 0o755)
}

func (h *localHandle) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	var args []string
	if req.Shell == types.ShellWindows {
		script := filepath.Join(h.root, ".scripts", fmt.Sprintf("step-%d.cmd", h.scripts.Add(1)))
		if err := os.WriteFile(script, []byte(normalizeBody(req.Shell, req.Body)), 0o644); err != nil {
			return ExecResult{}, fmt.Errorf("writing step script: %w", err)
		}
		args = windowsArgs(script)
	} else {
		args = posixArgs(normalizeBody(req.Shell, req.Body))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = req.Workdir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdout = req.Output
	cmd.Stderr = req.Output
	cmd.WaitDelay = killGrace
	setProcessGroup(cmd)

	return waitExit(ctx, cmd.Run())
}

func (h *localHandle) ListArtifacts(ctx context.Context) ([]string, error) {
	return util.ListFiles(h.Workspace().StagingDir)
}

// waitExit converts the result of a finished process into an exit code. A
// non-zero exit is not an error.
func waitExit(ctx context.Context, err error) (ExecResult, error) {
	if ctx.Err() != nil {
		return ExecResult{ExitCode: -1}, ctx.Err()
	}
	if err == nil {
		return ExecResult{}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExecResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExecResult{ExitCode: -1}, err
}
