package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/haatos/multici/internal/types"
	"github.com/haatos/multici/internal/util"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	containerWorkdir    = "/workspace/work"
	containerStagingDir = "/workspace/staging"
	ociRuntime          = "io.containerd.runc.v2"
)

// ContainerProvider runs every job in a fresh containerd container. The job
// directories live on the host and are bind mounted into the container.
type ContainerProvider struct {
	client        *containerd.Client
	workspaceRoot string
	snapshotter   string
	memoryLimits  map[string]uint64
}

// NewContainerProvider connects to containerd at address. memoryLimits maps
// each allowed resource tier to a memory limit in bytes, zero meaning no
// limit.
func NewContainerProvider(
	address, namespace, snapshotter, workspaceRoot string,
	memoryLimits map[string]uint64,
) (*ContainerProvider, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", address, err)
	}
	return &ContainerProvider{
		client:        client,
		workspaceRoot: workspaceRoot,
		snapshotter:   snapshotter,
		memoryLimits:  memoryLimits,
	}, nil
}

func (p *ContainerProvider) Close() error {
	return p.client.Close()
}

func (p *ContainerProvider) validate(env types.Environment) error {
	if env.Shell != types.ShellPosix {
		return NewProvisioningError(env, "containers only support the posix shell", nil)
	}
	if env.Image == "" {
		return NewProvisioningError(env, "container environments need an image", nil)
	}
	if _, ok := p.memoryLimits[env.ResourceTier]; !ok && env.ResourceTier != "" {
		return NewProvisioningError(env, "resource tier is not configured", nil)
	}
	return nil
}

func (p *ContainerProvider) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	env := req.Environment.WithDefaults()
	if err := p.validate(env); err != nil {
		return nil, err
	}

	image, err := p.image(ctx, env.Image)
	if err != nil {
		return nil, NewProvisioningError(env, "cannot pull image", err)
	}

	id := "multici-" + util.SanitizeName(req.JobName) + "-" + uuid.NewString()[:8]
	root := filepath.Join(p.workspaceRoot, util.SanitizeName(req.RunID), id)
	hostWork := filepath.Join(root, "work")
	hostStaging := filepath.Join(root, "staging")
	for _, dir := range []string{hostWork, hostStaging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewProvisioningError(env, "cannot create workspace", err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostResolvconf,
		oci.WithProcessArgs("sleep", "infinity"),
		oci.WithMounts([]specs.Mount{
			{Destination: containerWorkdir, Type: "bind", Source: hostWork, Options: []string{"rbind", "rw"}},
			{Destination: containerStagingDir, Type: "bind", Source: hostStaging, Options: []string{"rbind", "rw"}},
		}),
	}
	if limit := p.memoryLimits[env.ResourceTier]; limit > 0 {
		specOpts = append(specOpts, oci.WithMemoryLimit(limit))
	}

	ctr, err := p.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(p.snapshotter),
		containerd.WithNewSnapshot(id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return nil, NewProvisioningError(env, "cannot create container", err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, NewProvisioningError(env, "cannot create task", err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, NewProvisioningError(env, "cannot start task", err)
	}

	slog.Debug("container started", "id", id, "image", env.Image)
	return &containerHandle{id: id, env: env, root: root, ctr: ctr, task: task}, nil
}

// image returns the local image for ref, pulling and unpacking it when it is
// not present yet.
func (p *ContainerProvider) image(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := p.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}
	slog.Info("pulling image", "image", ref)
	return p.client.Pull(ctx, ref,
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(p.snapshotter),
	)
}

func (p *ContainerProvider) Release(ctx context.Context, h Handle) error {
	ch, ok := h.(*containerHandle)
	if !ok {
		return fmt.Errorf("handle %s does not belong to the container provider", h.ID())
	}
	ch.releaseOnce.Do(func() {
		_ = ch.task.Kill(ctx, syscall.SIGKILL)
		if _, err := ch.task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			ch.releaseErr = err
		}
		if err := ch.ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			ch.releaseErr = errors.Join(ch.releaseErr, err)
		}
		ch.releaseErr = errors.Join(ch.releaseErr, os.RemoveAll(filepath.Join(ch.root, "work")))
		slog.Debug("container removed", "id", ch.id)
	})
	return ch.releaseErr
}

func (p *ContainerProvider) PurgeRun(runID string) error {
	return os.RemoveAll(filepath.Join(p.workspaceRoot, util.SanitizeName(runID)))
}

type containerHandle struct {
	id   string
	env  types.Environment
	root string
	ctr  containerd.Container
	task containerd.Task

	execs       atomic.Uint64
	releaseOnce sync.Once
	releaseErr  error
}

func (h *containerHandle) ID() string                     { return h.id }
func (h *containerHandle) Environment() types.Environment { return h.env }

func (h *containerHandle) Workspace() Workspace {
	return Workspace{Root: "/workspace", Workdir: containerWorkdir, StagingDir: containerStagingDir}
}

func (h *containerHandle) Prepare(ctx context.Context) error {
	if err := util.ResetDir(filepath.Join(h.root, "work"), 0o755); err != nil {
		return err
	}
	return util.ResetDir(filepath.Join(h.root, "staging"), 0o755)
}

func (h *containerHandle) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	spec, err := h.ctr.Spec(ctx)
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}
	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = posixArgs(normalizeBody(req.Shell, req.Body))
	pspec.Env = append(pspec.Env, req.Env...)
	pspec.Cwd = req.Workdir

	execID := fmt.Sprintf("step-%d", h.execs.Add(1))
	process, err := h.task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, req.Output, req.Output)))
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}
	bg := context.WithoutCancel(ctx)
	defer func() { _, _ = process.Delete(bg, containerd.WithProcessKill) }()

	statusC, err := process.Wait(bg)
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}
	if err := process.Start(ctx); err != nil {
		return ExecResult{ExitCode: -1}, err
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return ExecResult{ExitCode: -1}, err
		}
		return ExecResult{ExitCode: int(code)}, nil
	case <-ctx.Done():
		if err := process.Kill(bg, syscall.SIGKILL); err != nil {
			slog.Warn("killing container process", "id", h.id, "exec", execID, "error", err)
		}
		<-statusC
		return ExecResult{ExitCode: -1}, ctx.Err()
	}
}

func (h *containerHandle) ListArtifacts(ctx context.Context) ([]string, error) {
	return util.ListFiles(filepath.Join(h.root, "staging"))
}
