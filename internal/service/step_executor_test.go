package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) Handle {
	t.Helper()
	requirePosixHost(t)
	p := NewLocalProvider(t.TempDir(), nil)
	h, err := p.Acquire(context.Background(), AcquireRequest{Environment: hostEnvironment(), JobName: "job", RunID: "run"})
	require.NoError(t, err)
	require.NoError(t, h.Prepare(context.Background()))
	t.Cleanup(func() { _ = p.Release(context.Background(), h) })
	return h
}

func TestStepExecutor_Execute(t *testing.T) {
	t.Run("success - output captured and delta parsed", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)
		step := types.ShellStep{Name: "version", Run: "echo building\necho '::set-env VERSION=1.2.3'"}

		// act
		res, err := e.Execute(context.Background(), step, h, h.Workspace().Workdir, NewEnvVars(nil), nil)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Contains(t, res.Output, "building")
		assert.Equal(t, map[string]string{"VERSION": "1.2.3"}, res.Delta)
	})
	t.Run("success - step env wins over base env", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)
		step := types.ShellStep{Name: "env", Run: `printf '%s-%s' "$A" "$B"`, Env: map[string]string{"B": "step"}}
		base := NewEnvVars(map[string]string{"A": "base", "B": "base"})

		// act
		res, err := e.Execute(context.Background(), step, h, h.Workspace().Workdir, base, nil)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "base-step", res.Output)
	})
	t.Run("success - output streamed line by line", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)
		var lines []string
		stream := newLineWriter(func(line string) { lines = append(lines, line) })

		// act
		_, err := e.Execute(context.Background(), types.ShellStep{Run: "echo one\necho two\nprintf three"},
			h, h.Workspace().Workdir, NewEnvVars(nil), stream)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three"}, lines)
	})
	t.Run("success - non-zero exit reported through exit code", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)

		// act
		res, err := e.Execute(context.Background(), types.ShellStep{Name: "fail", Run: "exit 7"},
			h, h.Workspace().Workdir, NewEnvVars(nil), nil)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 7, res.ExitCode)
	})
	t.Run("failure - timeout kills a long step", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)
		step := types.ShellStep{Name: "sleep", Run: "sleep 5", Timeout: time.Second}

		// act
		start := time.Now()
		_, err := e.Execute(context.Background(), step, h, h.Workspace().Workdir, NewEnvVars(nil), nil)
		elapsed := time.Since(start)

		// assert
		var timeoutErr TimeoutError
		require.True(t, errors.As(err, &timeoutErr))
		assert.Equal(t, "sleep", timeoutErr.Step)
		assert.Less(t, elapsed, 3*time.Second)
	})
	t.Run("failure - default timeout applies to steps without one", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(500 * time.Millisecond)

		// act
		_, err := e.Execute(context.Background(), types.ShellStep{Name: "sleep", Run: "sleep 5"},
			h, h.Workspace().Workdir, NewEnvVars(nil), nil)

		// assert
		var timeoutErr TimeoutError
		assert.True(t, errors.As(err, &timeoutErr))
	})
	t.Run("failure - cancelled parent context", func(t *testing.T) {
		// arrange
		h := newTestHandle(t)
		e := NewStepExecutor(0)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(200*time.Millisecond, cancel)

		// act
		_, err := e.Execute(ctx, types.ShellStep{Name: "sleep", Run: "sleep 5"},
			h, h.Workspace().Workdir, NewEnvVars(nil), nil)

		// assert
		var cancelErr RunCancelError
		assert.True(t, errors.As(err, &cancelErr))
	})
}

func TestLineWriter(t *testing.T) {
	// arrange
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })

	// act
	_, _ = w.Write([]byte("par"))
	_, _ = w.Write([]byte("tial\r\nnext\nlast"))
	w.Flush()

	// assert
	assert.Equal(t, []string{"partial", "next", "last"}, lines)
}
