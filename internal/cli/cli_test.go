package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/security"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/settings"
	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func hostPipeline() *types.Pipeline {
	env := types.Environment{Kind: types.KindVM, Image: runtime.GOOS}
	return &types.Pipeline{
		Commands: []types.Command{{
			Name:  "greet",
			Steps: []types.Step{types.NewShellStep("greet", "echo hello << parameters.who >>")},
			Parameters: map[string]*string{
				"who": nil,
			},
		}},
		Jobs: map[string]types.Job{
			"build": {
				Name:        "build",
				Environment: env,
				Steps:       []types.Step{types.NewCommandRef("greet", map[string]string{"who": "build"})},
			},
			"test": {
				Name:        "test",
				Environment: env,
				Steps:       []types.Step{types.NewShellStep("test", "exit 3")},
			},
		},
		Workflows: map[string]types.Workflow{
			"ci": {
				Name:     "ci",
				Jobs:     []string{"build", "test"},
				Requires: map[string][]string{"test": {"build"}},
			},
		},
	}
}

func TestPickWorkflow(t *testing.T) {
	t.Run("success - only workflow picked", func(t *testing.T) {
		// act
		name, err := pickWorkflow(hostPipeline(), "")

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "ci", name)
	})
	t.Run("failure - unknown workflow", func(t *testing.T) {
		// act
		_, err := pickWorkflow(hostPipeline(), "release")

		// assert
		var unknownErr service.UnknownWorkflowError
		assert.True(t, errors.As(err, &unknownErr))
	})
	t.Run("failure - ambiguous workflow", func(t *testing.T) {
		// arrange
		p := hostPipeline()
		p.Workflows["nightly"] = types.Workflow{Name: "nightly", Jobs: []string{"build"}}

		// act
		_, err := pickWorkflow(p, "")

		// assert
		assert.ErrorContains(t, err, "ci, nightly")
	})
}

func TestValidatePipeline(t *testing.T) {
	t.Run("success - layers printed", func(t *testing.T) {
		// arrange
		var out bytes.Buffer

		// act
		err := validatePipeline(&out, hostPipeline())

		// assert
		assert.NoError(t, err)
		assert.Contains(t, out.String(), "workflow ci\n  layer 1: build\n  layer 2: test\n")
		assert.Contains(t, out.String(), "1 commands, 2 jobs, 1 workflows")
	})
	t.Run("failure - cyclic workflow", func(t *testing.T) {
		// arrange
		p := hostPipeline()
		p.Workflows["ci"] = types.Workflow{
			Name:     "ci",
			Jobs:     []string{"build", "test"},
			Requires: map[string][]string{"test": {"build"}, "build": {"test"}},
		}

		// act
		err := validatePipeline(&bytes.Buffer{}, p)

		// assert
		assert.ErrorContains(t, err, `workflow "ci"`)
	})
}

func TestRunWorkflow(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix host")
	}
	t.Run("success - failing job sets exit code", func(t *testing.T) {
		// arrange
		providers := service.NewProviderSet()
		providers.Register(types.KindVM, service.NewLocalProvider(t.TempDir(), service.NewTierSet()))
		var console bytes.Buffer

		// act
		result, err := runWorkflow(context.Background(), hostPipeline(), "ci", runOptions{
			provider:    providers,
			stepTimeout: time.Minute,
			reporter:    newConsoleReporter(&console),
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, 1, result.ExitCode())
		build, ok := result.Job("build")
		require.True(t, ok)
		assert.Equal(t, service.OutcomeSuccess, build.Outcome)
		test, ok := result.Job("test")
		require.True(t, ok)
		assert.Equal(t, service.OutcomeFailed, test.Outcome)
		assert.Equal(t, 3, test.ExitCode)
		assert.Contains(t, console.String(), "[build] hello build\n")

		var summary bytes.Buffer
		printSummary(&summary, result)
		assert.Contains(t, summary.String(), "workflow ci")
		assert.Contains(t, summary.String(), `step "test" exit 3`)
	})
	t.Run("failure - missing parameter aborts before running", func(t *testing.T) {
		// arrange
		p := hostPipeline()
		job := p.Jobs["build"]
		job.Steps = []types.Step{types.NewCommandRef("greet", nil)}
		p.Jobs["build"] = job

		// act
		_, err := runWorkflow(context.Background(), p, "ci", runOptions{
			provider:    service.NewProviderSet(),
			stepTimeout: time.Minute,
		})

		// assert
		var missingErr service.MissingParameterError
		assert.True(t, errors.As(err, &missingErr))
	})
}

func TestEncryptKey(t *testing.T) {
	t.Run("success - round trip through executor key", func(t *testing.T) {
		// arrange
		hashKey, err := security.GenerateRandomKey(hashKeyLength)
		require.NoError(t, err)

		// act
		encrypted, err := encryptKey([]byte(hashKey), []byte("private key"))
		require.NoError(t, err)
		key, err := executorKey(internal.ExecutorConfig{Name: "mac", EncryptedKey: encrypted}, hashKey)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "private key", string(key))
	})
	t.Run("failure - invalid hash key length", func(t *testing.T) {
		// act
		_, err := encryptKey([]byte("short"), []byte("private key"))

		// assert
		assert.ErrorContains(t, err, "got 5")
	})
	t.Run("failure - empty private key", func(t *testing.T) {
		// act
		_, err := encryptKey([]byte("0123456789abcdef"), nil)

		// assert
		assert.Error(t, err)
	})
}

func TestExecutorKey(t *testing.T) {
	t.Run("success - key file read", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(path, []byte("key"), 0o600))

		// act
		key, err := executorKey(internal.ExecutorConfig{Name: "mac", KeyFile: path}, "")

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "key", string(key))
	})
	t.Run("failure - encrypted key without hash key", func(t *testing.T) {
		// act
		_, err := executorKey(internal.ExecutorConfig{Name: "mac", EncryptedKey: "00"}, "")

		// assert
		assert.ErrorContains(t, err, "MULTICI_HASH_KEY")
	})
}

func TestNewEnvironments(t *testing.T) {
	t.Run("success - ssh executors purge their runs", func(t *testing.T) {
		// arrange
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, testPrivateKey(t), 0o600))
		cfg := internal.DefaultConfiguration()
		cfg.Executors = []internal.ExecutorConfig{{
			Name:    "mac",
			Type:    internal.ExecutorSSH,
			Host:    "mac.local",
			User:    "ci",
			KeyFile: keyPath,
		}}
		s := &settings.AppSettings{Workspace: t.TempDir()}

		// act
		envs, err := newEnvironments(cfg, s)

		// assert
		require.NoError(t, err)
		defer envs.Close()
		require.Len(t, envs.purgers, 2)
		_, ok := envs.purgers[1].(*service.SSHProvider)
		assert.True(t, ok)
	})
	t.Run("success - local executors registered", func(t *testing.T) {
		// arrange
		cfg := internal.DefaultConfiguration()
		cfg.Executors = []internal.ExecutorConfig{{Name: "builder", Type: internal.ExecutorLocal}}
		s := &settings.AppSettings{Workspace: t.TempDir()}

		// act
		envs, err := newEnvironments(cfg, s)

		// assert
		require.NoError(t, err)
		defer envs.Close()
		assert.Len(t, envs.purgers, 2)
		assert.Empty(t, envs.closers)
	})
	t.Run("failure - ssh executor with unreadable key", func(t *testing.T) {
		// arrange
		cfg := internal.DefaultConfiguration()
		cfg.Executors = []internal.ExecutorConfig{{
			Name:    "mac",
			Type:    internal.ExecutorSSH,
			Host:    "mac.local",
			User:    "ci",
			KeyFile: filepath.Join(t.TempDir(), "missing"),
		}}
		s := &settings.AppSettings{Workspace: t.TempDir()}

		// act
		_, err := newEnvironments(cfg, s)

		// assert
		assert.ErrorContains(t, err, `executor "mac"`)
	})
}
