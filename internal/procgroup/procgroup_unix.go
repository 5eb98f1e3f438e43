// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
)

func setGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup signals the whole group via the negative pid. Falls back to
// the single process when the group is unreachable.
func signalGroup(pid int, kill bool) {
	if pid <= 0 {
		return
	}
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil && err != syscall.ESRCH {
		_ = syscall.Kill(pid, sig)
	}
}
