package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T) (*JobRunner, *countingProvider) {
	t.Helper()
	requirePosixHost(t)
	provider := &countingProvider{Provider: NewLocalProvider(t.TempDir(), nil)}
	return NewJobRunner(provider, NewStepExecutor(0), nil), provider
}

func shellSteps(bodies ...string) []types.ShellStep {
	steps := make([]types.ShellStep, len(bodies))
	for i, b := range bodies {
		steps[i] = types.ShellStep{Run: b}
	}
	return steps
}

func TestJobRunner_Run(t *testing.T) {
	t.Run("success - all steps run in order", func(t *testing.T) {
		// arrange
		runner, provider := newTestRunner(t)
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Steps:       shellSteps("echo one", "echo two"),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, -1, res.FailedStepIndex)
		require.Len(t, res.Steps, 3)
		assert.Equal(t, CheckoutStepName, res.Steps[0].Name)
		assert.Equal(t, "step 1", res.Steps[1].Name)
		assert.Equal(t, 1, provider.released)
	})
	t.Run("failure - steps after a failing step never run", func(t *testing.T) {
		// arrange
		runner, provider := newTestRunner(t)
		marker := filepath.Join(t.TempDir(), "marker")
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Steps:       shellSteps("echo ok", "exit 1", "touch "+posixQuote(marker)),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, 2, res.FailedStepIndex)
		assert.Equal(t, 1, res.ExitCode)
		assert.NoFileExists(t, marker)
		require.Len(t, res.Steps, 4)
		assert.Equal(t, OutcomeSkipped, res.Steps[3].Outcome)
		var failure StepFailure
		assert.True(t, errors.As(res.Err, &failure))
		assert.Equal(t, 1, provider.released)
	})
	t.Run("success - exported variables reach later steps", func(t *testing.T) {
		// arrange
		runner, _ := newTestRunner(t)
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Env:         map[string]string{"BASE": "b"},
			Steps: shellSteps(
				"echo '::set-env VERSION=1.2'",
				`test "$VERSION" = 1.2 && test "$BASE" = b && test "$MULTICI_JOB" = build`,
			),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeSuccess, res.Outcome, res.Error)
	})
	t.Run("success - artifacts staged for later steps and listed", func(t *testing.T) {
		// arrange
		runner, _ := newTestRunner(t)
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Steps: shellSteps(
				`mkdir -p "$MULTICI_STAGING_DIR/out" && echo bin > "$MULTICI_STAGING_DIR/out/app"`,
				`test "$(cat "$MULTICI_STAGING_DIR/out/app")" = bin`,
			),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeSuccess, res.Outcome, res.Error)
		assert.Equal(t, []string{"out/app"}, res.Artifacts)
		assert.FileExists(t, filepath.Join(res.StagingDir, "out", "app"))
	})
	t.Run("success - staging directory is fresh for every invocation", func(t *testing.T) {
		// arrange
		runner, _ := newTestRunner(t)
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Steps:       shellSteps(`test ! -e "$MULTICI_STAGING_DIR/seen" && touch "$MULTICI_STAGING_DIR/seen"`),
		}

		// act
		first := runner.Run(context.Background(), "run1", job)
		second := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeSuccess, first.Outcome)
		assert.Equal(t, OutcomeSuccess, second.Outcome)
		assert.NotEqual(t, first.StagingDir, second.StagingDir)
	})
	t.Run("failure - provisioning error", func(t *testing.T) {
		// arrange
		runner := NewJobRunner(failingProvider{}, NewStepExecutor(0), nil)

		// act
		res := runner.Run(context.Background(), "run1", PlannedJob{Name: "build", Steps: shellSteps("echo")})

		// assert
		assert.Equal(t, OutcomeEnvironmentError, res.Outcome)
		var provErr *ProvisioningError
		assert.True(t, errors.As(res.Err, &provErr))
		assert.Empty(t, res.Steps)
	})
	t.Run("failure - checkout failure is an environment error", func(t *testing.T) {
		// arrange
		runner, _ := newTestRunner(t)
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Source:      types.Source{Path: filepath.Join(t.TempDir(), "missing")},
			Steps:       shellSteps("echo build"),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeEnvironmentError, res.Outcome)
		assert.Equal(t, 0, res.FailedStepIndex)
		assert.Equal(t, CheckoutStepName, res.FailedStep)
		var envErr EnvironmentError
		assert.True(t, errors.As(res.Err, &envErr))
	})
	t.Run("success - checkout copies a local source", func(t *testing.T) {
		// arrange
		runner, _ := newTestRunner(t)
		src := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(src, "Makefile"), []byte("all:\n"), 0o644))
		job := PlannedJob{
			Name:        "build",
			Environment: hostEnvironment(),
			Source:      types.Source{Path: src},
			Steps:       shellSteps("test -f Makefile"),
		}

		// act
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeSuccess, res.Outcome, res.Error)
	})
	t.Run("failure - job step timeout", func(t *testing.T) {
		// arrange
		runner, provider := newTestRunner(t)
		job := PlannedJob{
			Name:        "slow",
			Environment: hostEnvironment(),
			StepTimeout: time.Second,
			Steps:       shellSteps("sleep 5"),
		}

		// act
		start := time.Now()
		res := runner.Run(context.Background(), "run1", job)

		// assert
		assert.Equal(t, OutcomeTimedOut, res.Outcome)
		var timeoutErr TimeoutError
		assert.True(t, errors.As(res.Err, &timeoutErr))
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, 1, provider.released)
	})
	t.Run("success - output reported line by line", func(t *testing.T) {
		// arrange
		requirePosixHost(t)
		reporter := &recordingReporter{}
		runner := NewJobRunner(NewLocalProvider(t.TempDir(), nil), NewStepExecutor(0), reporter)

		// act
		runner.Run(context.Background(), "run1", PlannedJob{
			Name: "build", Environment: hostEnvironment(), Steps: shellSteps("echo a\necho b"),
		})

		// assert
		assert.Contains(t, reporter.lines, "a")
		assert.Contains(t, reporter.lines, "b")
		assert.Len(t, reporter.steps, 2)
	})
}
