//go:build !windows

package service

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the step in its own process group so that
// cancelling the step kills everything the body spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
