//go:build unix

package tool

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs cmd in its own process group and makes
// cancellation kill the whole group, not just the direct child.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
