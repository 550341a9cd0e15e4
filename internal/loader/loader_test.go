package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	// act
	p, err := Load(filepath.Join("testdata", "pipeline.yml"))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/example/app.git", p.Source.Repository)
	assert.Equal(t, "main", p.Source.Branch)

	require.Len(t, p.Commands, 2)
	setup := p.Commands[0]
	assert.Equal(t, "setup", setup.Name)
	assert.Equal(t, "install toolchain", setup.Description)
	require.Contains(t, setup.Parameters, "target")
	assert.Nil(t, setup.Parameters["target"])
	require.NotNil(t, setup.Parameters["version"])
	assert.Equal(t, "1.2", *setup.Parameters["version"])

	test := p.Commands[1]
	require.Len(t, test.Steps, 2)
	require.NotNil(t, test.Steps[0].Ref)
	assert.Equal(t, "setup", test.Steps[0].Ref.Command)
	assert.Equal(t, map[string]string{"target": "host"}, test.Steps[0].Ref.Args)
	require.NotNil(t, test.Steps[1].Shell)
	assert.Equal(t, 5*time.Minute, test.Steps[1].Shell.Timeout)

	assert.Equal(t, []string{"build-linux", "build-windows", "lint"}, p.JobNames())
	linux := p.Jobs["build-linux"]
	assert.Equal(t, types.Environment{
		Kind: types.KindVM, Image: "ubuntu-24.04", ResourceTier: "medium", Shell: types.ShellPosix,
	}, linux.Environment)
	assert.Equal(t, 30*time.Minute, linux.StepTimeout)
	assert.Equal(t, map[string]string{"CI": "true"}, linux.Env)
	require.Len(t, linux.Steps, 3)
	assert.Equal(t, "apt-get install -y make", linux.Steps[0].Shell.Run)
	assert.Equal(t, "setup", linux.Steps[1].Ref.Command)
	assert.Equal(t, "make", linux.Steps[2].Shell.Run)

	windows := p.Jobs["build-windows"]
	assert.Equal(t, types.ShellWindows, windows.Environment.Shell)
	assert.Len(t, windows.Steps, 2)

	ci := p.Workflows["ci"]
	assert.Equal(t, "0 3 * * *", ci.Schedule)
	assert.Equal(t, []string{"lint", "build-linux", "build-windows"}, ci.Jobs)
	assert.Equal(t, map[string][]string{
		"build-linux":   {"lint"},
		"build-windows": {"lint"},
	}, ci.Requires)
}

func TestLoad_HCLMatchesYAML(t *testing.T) {
	// act
	fromYAML, yamlErr := Load(filepath.Join("testdata", "pipeline.yml"))
	fromHCL, hclErr := Load(filepath.Join("testdata", "pipeline.hcl"))

	// assert
	require.NoError(t, yamlErr)
	require.NoError(t, hclErr)
	assert.Equal(t, fromYAML, fromHCL)
}

func TestLoad(t *testing.T) {
	t.Run("success - relative source path resolved against the file", func(t *testing.T) {
		// arrange
		dir := t.TempDir()
		path := filepath.Join(dir, "ci.yaml")
		require.NoError(t, os.WriteFile(path, []byte("source:\n  path: ./app\n"), 0o644))

		// act
		p, err := Load(path)

		// assert
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "app"), p.Source.Path)
	})
	t.Run("failure - unsupported extension", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "ci.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		// act
		_, err := Load(path)

		// assert
		var formatErr UnsupportedFormatError
		assert.True(t, errors.As(err, &formatErr))
	})
}

func TestParseYAML(t *testing.T) {
	t.Run("success - bare numbers accepted as values", func(t *testing.T) {
		// arrange
		data := []byte(`
commands:
  setup:
    parameters: {version: 1.25}
    steps:
      - run: echo << parameters.version >>
jobs:
  build:
    environment: {kind: vm, image: linux}
    step_timeout: 90
    steps:
      - use: setup
        with: {retries: 3}
`)

		// act
		p, err := ParseYAML(data)

		// assert
		require.NoError(t, err)
		assert.Equal(t, "1.25", *p.Commands[0].Parameters["version"])
		assert.Equal(t, 90*time.Second, p.Jobs["build"].StepTimeout)
		assert.Equal(t, "3", p.Jobs["build"].Steps[0].Ref.Args["retries"])
	})
	t.Run("failure - step with both run and use", func(t *testing.T) {
		// arrange
		data := []byte(`
jobs:
  build:
    environment: {kind: vm, image: linux}
    steps:
      - run: make
        use: setup
`)

		// act
		_, err := ParseYAML(data)

		// assert
		assert.ErrorContains(t, err, "mutually exclusive")
	})
	t.Run("failure - use step with shell fields", func(t *testing.T) {
		for _, field := range []string{"name: setup", "env: {A: b}", "workdir: src", "timeout: 5m"} {
			// arrange
			data := []byte(`
jobs:
  build:
    environment: {kind: vm, image: linux}
    steps:
      - use: setup
        ` + field + `
`)

			// act
			_, err := ParseYAML(data)

			// assert
			assert.ErrorContains(t, err, "cannot be set on a use step", field)
		}
	})
	t.Run("failure - unknown environment kind", func(t *testing.T) {
		// arrange
		data := []byte(`
jobs:
  build:
    environment: {kind: cloud}
    steps:
      - run: make
`)

		// act
		_, err := ParseYAML(data)

		// assert
		assert.ErrorContains(t, err, "unknown environment kind")
	})
	t.Run("failure - invalid job name", func(t *testing.T) {
		// arrange
		data := []byte(`
jobs:
  "build and test":
    environment: {kind: vm}
    steps:
      - run: make
`)

		// act
		_, err := ParseYAML(data)

		// assert
		var nameErr types.InvalidNameError
		assert.True(t, errors.As(err, &nameErr))
	})
	t.Run("failure - unknown key rejected", func(t *testing.T) {
		// arrange
		data := []byte(`
jobs:
  build:
    enviroment: {kind: vm}
`)

		// act
		_, err := ParseYAML(data)

		// assert
		assert.Error(t, err)
	})
}

func TestParseHCL(t *testing.T) {
	t.Run("failure - syntax error", func(t *testing.T) {
		// act
		_, err := ParseHCL([]byte(`job "build" {`), "ci.hcl")

		// assert
		assert.ErrorContains(t, err, "failed to parse HCL")
	})
	t.Run("failure - requires names a job outside the workflow", func(t *testing.T) {
		// arrange
		data := []byte(`
workflow "ci" {
  jobs     = ["a"]
  requires = { b = ["a"] }
}
`)

		// act
		_, err := ParseHCL(data, "ci.hcl")

		// assert
		assert.ErrorContains(t, err, "not one of its jobs")
	})
}
