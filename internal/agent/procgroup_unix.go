//go:build unix

package agent

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the agent in its own process group and makes
// context cancellation kill the whole group, so tools the agent spawned do
// not keep its output pipes open.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
