// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminateNilCmd(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Second, time.Second))
}

func TestTerminateStopsStubbornProcess(t *testing.T) {
	// Ignores SIGTERM, so Terminate must escalate to SIGKILL.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond, 5*time.Second)
	assert.Error(t, err, "killed process reports a non-zero wait result")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTerminateCooperativeProcess(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	err := Terminate(cmd, waitCh, 5*time.Second, time.Second)
	assert.Error(t, err, "SIGTERM exit is reported via wait")
}
