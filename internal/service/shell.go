package service

import (
	"fmt"
	"path"
	"strings"

	"github.com/haatos/multici/internal/types"
)

// normalizeBody applies the line ending rules of the target shell. The body
// is otherwise forwarded verbatim.
func normalizeBody(shell types.Shell, body string) string {
	lf := strings.ReplaceAll(body, "\r\n", "\n")
	if shell == types.ShellWindows {
		return strings.ReplaceAll(lf, "\n", "\r\n")
	}
	return lf
}

// posixArgs is the argv used for posix bodies. -e makes a multi-line body
// stop at its first failing command.
func posixArgs(body string) []string {
	return []string{"/bin/sh", "-ec", body}
}

func windowsArgs(scriptPath string) []string {
	return []string{"cmd.exe", "/D", "/E:ON", "/V:OFF", "/C", "call", scriptPath}
}

func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func windowsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quote(shell types.Shell, s string) string {
	if shell == types.ShellWindows {
		return windowsQuote(s)
	}
	return posixQuote(s)
}

// joinWorkdir resolves a step working directory against the job workdir.
func joinWorkdir(shell types.Shell, base, dir string) string {
	if dir == "" {
		return base
	}
	if shell == types.ShellWindows {
		if strings.HasPrefix(dir, `\`) || (len(dir) > 1 && dir[1] == ':') {
			return dir
		}
		return strings.TrimRight(base, `\/`) + `\` + strings.ReplaceAll(dir, "/", `\`)
	}
	if path.IsAbs(dir) {
		return dir
	}
	return path.Join(base, dir)
}

// checkoutStep builds the implicit first step of every job.
func checkoutStep(src types.Source, shell types.Shell) types.ShellStep {
	step := types.ShellStep{Name: CheckoutStepName}
	switch {
	case src.Repository != "":
		branch := ""
		if src.Branch != "" {
			branch = " --branch " + quote(shell, src.Branch)
		}
		step.Run = fmt.Sprintf("git clone --depth 1%s %s .", branch, quote(shell, src.Repository))
	case src.Path != "" && shell == types.ShellWindows:
		step.Run = fmt.Sprintf("xcopy %s . /E /I /Q /Y", windowsQuote(src.Path))
	case src.Path != "":
		step.Run = fmt.Sprintf("cp -R %s/. .", posixQuote(src.Path))
	default:
		step.Run = "echo no source configured, skipping checkout"
	}
	return step
}
