package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Acquire(t *testing.T) {
	t.Run("success - workspace created", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		p := NewLocalProvider(t.TempDir(), NewTierSet("medium"))
		env := hostEnvironment()
		env.ResourceTier = "medium"

		// act
		h, err := p.Acquire(context.Background(), AcquireRequest{Environment: env, JobName: "build", RunID: "run1"})

		// assert
		require.NoError(t, err)
		ws := h.Workspace()
		assert.DirExists(t, ws.Workdir)
		assert.DirExists(t, ws.StagingDir)
		assert.NotEqual(t, ws.Workdir, ws.StagingDir)
	})
	t.Run("success - every acquire gets its own staging directory", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		p := NewLocalProvider(t.TempDir(), nil)
		req := AcquireRequest{Environment: hostEnvironment(), JobName: "build", RunID: "run1"}

		// act
		h1, err1 := p.Acquire(context.Background(), req)
		h2, err2 := p.Acquire(context.Background(), req)

		// assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, h1.Workspace().StagingDir, h2.Workspace().StagingDir)
	})
	t.Run("failure - operating system does not match host", func(t *testing.T) {
		// arrange
		p := NewLocalProvider(t.TempDir(), nil)
		p.goos = "linux"

		// act
		_, err := p.Acquire(context.Background(), AcquireRequest{
			Environment: types.Environment{Kind: types.KindVM, Image: "windows-2022"},
		})

		// assert
		var provErr *ProvisioningError
		assert.True(t, errors.As(err, &provErr))
	})
	t.Run("failure - windows shell on a posix host", func(t *testing.T) {
		// arrange
		p := NewLocalProvider(t.TempDir(), nil)
		p.goos = "linux"

		// act
		_, err := p.Acquire(context.Background(), AcquireRequest{
			Environment: types.Environment{Kind: types.KindVM, Image: "linux", Shell: types.ShellWindows},
		})

		// assert
		var provErr *ProvisioningError
		assert.True(t, errors.As(err, &provErr))
	})
	t.Run("failure - unknown resource tier", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		p := NewLocalProvider(t.TempDir(), NewTierSet("small"))
		env := hostEnvironment()
		env.ResourceTier = "huge"

		// act
		_, err := p.Acquire(context.Background(), AcquireRequest{Environment: env, JobName: "build"})

		// assert
		var provErr *ProvisioningError
		require.True(t, errors.As(err, &provErr))
		assert.Equal(t, "huge", provErr.Environment.ResourceTier)
	})
}

func TestLocalProvider_Release(t *testing.T) {
	t.Run("success - double release is a no-op", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		p := NewLocalProvider(t.TempDir(), nil)
		h, err := p.Acquire(context.Background(), AcquireRequest{Environment: hostEnvironment(), JobName: "a", RunID: "r"})
		require.NoError(t, err)

		// act
		err1 := p.Release(context.Background(), h)
		err2 := p.Release(context.Background(), h)

		// assert
		assert.NoError(t, err1)
		assert.NoError(t, err2)
		assert.NoDirExists(t, h.Workspace().Workdir)
		assert.DirExists(t, h.Workspace().StagingDir)
	})
	t.Run("success - purge removes staged artifacts", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		p := NewLocalProvider(t.TempDir(), nil)
		h, err := p.Acquire(context.Background(), AcquireRequest{Environment: hostEnvironment(), JobName: "a", RunID: "r"})
		require.NoError(t, err)
		require.NoError(t, p.Release(context.Background(), h))

		// act
		err = p.PurgeRun("r")

		// assert
		assert.NoError(t, err)
		assert.NoDirExists(t, h.Workspace().StagingDir)
	})
}

func TestLocalHandle_Exec(t *testing.T) {
	requirePosixHost(t)
	p := NewLocalProvider(t.TempDir(), nil)
	h, err := p.Acquire(context.Background(), AcquireRequest{Environment: hostEnvironment(), JobName: "a", RunID: "r"})
	require.NoError(t, err)
	require.NoError(t, h.Prepare(context.Background()))
	ws := h.Workspace()

	t.Run("success - non-zero exit is not an error", func(t *testing.T) {
		// arrange
		var out bytes.Buffer

		// act
		res, err := h.Exec(context.Background(), ExecRequest{
			Body: "echo before\nexit 3", Shell: types.ShellPosix, Workdir: ws.Workdir, Output: &out,
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "before\n", out.String())
	})
	t.Run("success - env and working directory applied", func(t *testing.T) {
		// arrange
		var out bytes.Buffer
		require.NoError(t, os.MkdirAll(filepath.Join(ws.Workdir, "sub"), 0o755))

		// act
		res, err := h.Exec(context.Background(), ExecRequest{
			Body:    `printf '%s %s' "$GREETING" "$(basename "$PWD")"`,
			Shell:   types.ShellPosix,
			Workdir: filepath.Join(ws.Workdir, "sub"),
			Env:     []string{"GREETING=hello"},
			Output:  &out,
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "hello sub", out.String())
	})
	t.Run("success - errexit stops a multi-line body", func(t *testing.T) {
		// arrange
		var out bytes.Buffer

		// act
		res, err := h.Exec(context.Background(), ExecRequest{
			Body: "false\necho unreachable", Shell: types.ShellPosix, Workdir: ws.Workdir, Output: &out,
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Empty(t, out.String())
	})
}

func TestLocalHandle_Exec_DetachedChild(t *testing.T) {
	t.Run("failure - timeout bounded when a detached child holds the output pipe", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		if _, err := exec.LookPath("setsid"); err != nil {
			t.Skip("requires setsid")
		}
		p := NewLocalProvider(t.TempDir(), nil)
		h, err := p.Acquire(context.Background(), AcquireRequest{Environment: hostEnvironment(), JobName: "a", RunID: "r"})
		require.NoError(t, err)
		defer p.Release(context.Background(), h)
		timeout := 300 * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()

		// act
		res, err := h.Exec(ctx, ExecRequest{
			Body: "setsid sleep 5", Shell: types.ShellPosix, Workdir: h.Workspace().Workdir, Output: &bytes.Buffer{},
		})

		// assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, -1, res.ExitCode)
		assert.Less(t, time.Since(start), timeout+killGrace+time.Second)
	})
}
