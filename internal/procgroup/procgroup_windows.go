// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
)

func setGroup(_ *exec.Cmd) {}

// signalGroup on windows has no process groups in the unix sense; kill the
// process directly.
func signalGroup(pid int, kill bool) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if kill {
		_ = proc.Kill()
		return
	}
	_ = proc.Signal(os.Interrupt)
}
