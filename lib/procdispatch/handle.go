// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procdispatch

import (
	"errors"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Handle is a dispatched unit of work.
type Handle interface {
	// Wait blocks until the work finishes and returns its exit code,
	// or -1 if the process could not be waited.
	Wait() int

	// Pid is the child's process ID, or 0 for inline work.
	Pid() int

	// Running reports whether the work is still in progress.
	Running() bool
}

// processHandle tracks a child process. A goroutine reaps it as soon
// as it exits.
type processHandle struct {
	pid      int
	done     chan struct{}
	exitCode int
}

func newProcessHandle(cmd *exec.Cmd) *processHandle {
	handle := &processHandle{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		defer close(handle.done)
		handle.exitCode = waitExitCode(cmd)
	}()
	return handle
}

func waitExitCode(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the child was killed by a signal.
		return exitErr.ExitCode()
	}
	return -1
}

func (h *processHandle) Wait() int {
	<-h.done
	return h.exitCode
}

func (h *processHandle) Pid() int {
	return h.pid
}

func (h *processHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	// Signal 0 probes for existence without delivering anything.
	err := unix.Kill(h.pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// inlineHandle wraps the result of a handler that already ran.
type inlineHandle struct {
	exitCode int
}

func (h inlineHandle) Wait() int     { return h.exitCode }
func (h inlineHandle) Pid() int      { return 0 }
func (h inlineHandle) Running() bool { return false }
