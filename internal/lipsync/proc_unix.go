//go:build unix

package lipsync

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the child in its own process group and, on
// cancellation, kills the whole group so workers the model spawned release
// GPU memory too.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
