package service

import (
	"testing"

	"github.com/haatos/multici/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeBody(t *testing.T) {
	t.Run("success - posix uses LF", func(t *testing.T) {
		assert.Equal(t, "a\nb\n", normalizeBody(types.ShellPosix, "a\r\nb\n"))
	})
	t.Run("success - windows uses CRLF", func(t *testing.T) {
		assert.Equal(t, "a\r\nb\r\n", normalizeBody(types.ShellWindows, "a\nb\r\n"))
	})
}

func TestPosixQuote(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, posixQuote("it's"))
	assert.Equal(t, `"say ""hi"""`, windowsQuote(`say "hi"`))
}

func TestJoinWorkdir(t *testing.T) {
	testcases := []struct {
		shell types.Shell
		base  string
		dir   string
		want  string
	}{
		{types.ShellPosix, "/ws/work", "", "/ws/work"},
		{types.ShellPosix, "/ws/work", "sub/dir", "/ws/work/sub/dir"},
		{types.ShellPosix, "/ws/work", "/abs", "/abs"},
		{types.ShellWindows, `C:\ws\work`, "sub/dir", `C:\ws\work\sub\dir`},
		{types.ShellWindows, `C:\ws\work`, `D:\abs`, `D:\abs`},
	}
	for _, tc := range testcases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, joinWorkdir(tc.shell, tc.base, tc.dir))
		})
	}
}

func TestCheckoutStep(t *testing.T) {
	t.Run("success - repository clone", func(t *testing.T) {
		// act
		step := checkoutStep(types.Source{Repository: "https://example.com/r.git", Branch: "main"}, types.ShellPosix)

		// assert
		assert.Equal(t, CheckoutStepName, step.Name)
		assert.Equal(t, `git clone --depth 1 --branch 'main' 'https://example.com/r.git' .`, step.Run)
	})
	t.Run("success - local path copy", func(t *testing.T) {
		// act
		step := checkoutStep(types.Source{Path: "/src/repo"}, types.ShellPosix)

		// assert
		assert.Equal(t, `cp -R '/src/repo'/. .`, step.Run)
	})
	t.Run("success - windows local path copy", func(t *testing.T) {
		// act
		step := checkoutStep(types.Source{Path: `C:\src`}, types.ShellWindows)

		// assert
		assert.Equal(t, `xcopy "C:\src" . /E /I /Q /Y`, step.Run)
	})
	t.Run("success - no source", func(t *testing.T) {
		// act
		step := checkoutStep(types.Source{}, types.ShellPosix)

		// assert
		assert.Contains(t, step.Run, "skipping checkout")
	})
}
