// SPDX-License-Identifier: MIT

// Package procgroup spawns child processes in their own process group and
// tears the whole group down. ffmpeg forks helpers; killing only the leader
// would leave them running.
package procgroup

import (
	"errors"
	"os/exec"
	"time"

	"github.com/tech42-ai/storycast/internal/log"
)

// ErrKillTimeout means the group survived SIGKILL for the whole timeout.
var ErrKillTimeout = errors.New("procgroup: process group did not exit after kill")

// Set marks cmd to start as a new process group leader. Must be called
// before cmd.Start for Terminate to reach the children.
func Set(cmd *exec.Cmd) {
	setGroup(cmd)
}

// Terminate walks the shutdown ladder: SIGTERM the group, wait grace, then
// SIGKILL and wait killTimeout. waitCh must deliver the cmd.Wait result.
// Safe on a nil or never-started cmd.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace, killTimeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	logger := log.WithComponent("procgroup")

	signalGroup(pid, false)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", pid).Dur("grace", grace).Msg("terminate grace exceeded, killing process group")
	signalGroup(pid, true)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(killTimeout):
		return ErrKillTimeout
	}
}
