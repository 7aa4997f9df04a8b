// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procdispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/pingkit/lib/codec"
	"github.com/bureau-foundation/pingkit/lib/logging"
	"github.com/bureau-foundation/pingkit/lib/process"
)

const (
	defaultStartAttempts = 5
	defaultStartDelay    = 50 * time.Millisecond
)

// Config configures a Dispatcher.
type Config struct {
	// Registry resolves entry points in synchronous mode. Required
	// when Synchronous is set.
	Registry *Registry

	// Executable is the worker host binary. Empty means the running
	// executable.
	Executable string

	// Synchronous runs handlers on the calling goroutine instead of in
	// a child process.
	Synchronous bool

	// Env is appended to the parent's environment for each child.
	Env []string

	// Stderr receives the child's log output. Nil means os.Stderr.
	Stderr io.Writer

	// Logger receives dispatch events. Its level is passed on to the
	// child. Nil discards them and children log at info.
	Logger *slog.Logger

	// StartAttempts bounds retries of a process start that fails with
	// EAGAIN. Zero means 5.
	StartAttempts uint

	// StartDelay is the base backoff between start attempts. Zero
	// means 50ms.
	StartDelay time.Duration
}

// Dispatcher starts entry points with at most one live at a time.
// Safe for concurrent use; dispatches are serialized.
type Dispatcher struct {
	registry      *Registry
	executable    string
	synchronous   bool
	env           []string
	stderr        io.Writer
	logger        *slog.Logger
	logLevel      string
	startAttempts uint
	startDelay    time.Duration

	mu   sync.Mutex
	last Handle
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Synchronous && cfg.Registry == nil {
		return nil, fmt.Errorf("procdispatch: Registry is required in synchronous mode")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.StartAttempts == 0 {
		cfg.StartAttempts = defaultStartAttempts
	}
	if cfg.StartDelay == 0 {
		cfg.StartDelay = defaultStartDelay
	}
	if cfg.Executable == "" && !cfg.Synchronous {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("procdispatch: locating worker host: %w", err)
		}
		cfg.Executable = executable
	}

	return &Dispatcher{
		registry:      cfg.Registry,
		executable:    cfg.Executable,
		synchronous:   cfg.Synchronous,
		env:           cfg.Env,
		stderr:        cfg.Stderr,
		logger:        cfg.Logger,
		logLevel:      effectiveLevel(cfg.Logger),
		startAttempts: cfg.StartAttempts,
		startDelay:    cfg.StartDelay,
	}, nil
}

// effectiveLevel names the lowest level the logger emits.
func effectiveLevel(logger *slog.Logger) string {
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if logger.Enabled(context.Background(), level) {
			return logging.LevelName(level)
		}
	}
	return logging.LevelName(slog.LevelError)
}

// Dispatch waits for the previous dispatch to exit, then starts
// entrypoint with args encoded as CBOR. The returned handle becomes
// the one the next Dispatch joins.
func (d *Dispatcher) Dispatch(entrypoint Entrypoint, args any) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last != nil {
		previous := d.last
		exitCode := previous.Wait()
		d.logger.Debug("joined previous worker",
			"pid", previous.Pid(),
			"exit_code", exitCode,
		)
		d.last = nil
	}

	if d.synchronous {
		handle, err := d.runInline(entrypoint, args)
		if err != nil {
			return nil, err
		}
		d.last = handle
		return handle, nil
	}

	encoded, err := EncodePayload(entrypoint, d.logLevel, args)
	if err != nil {
		return nil, err
	}
	if len(encoded) > payloadWarnBytes {
		d.logger.Warn("worker payload is large and may exceed command line limits",
			"entrypoint", entrypoint,
			"bytes", len(encoded),
		)
	}

	handle, err := d.start(entrypoint, encoded)
	if err != nil {
		return nil, err
	}
	d.last = handle
	return handle, nil
}

func (d *Dispatcher) runInline(entrypoint Entrypoint, args any) (Handle, error) {
	handler, ok := d.registry.Lookup(entrypoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, entrypoint)
	}
	rawArgs, err := codec.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("procdispatch: encoding %s args: %w", entrypoint, err)
	}
	logger := d.logger.With("entrypoint", string(entrypoint))
	success := runHandler(context.Background(), handler, rawArgs, logger)
	return inlineHandle{exitCode: process.ExitCode(success)}, nil
}

func (d *Dispatcher) start(entrypoint Entrypoint, encoded string) (*processHandle, error) {
	var cmd *exec.Cmd
	err := retry.Do(
		func() error {
			cmd = exec.Command(d.executable, WorkerFlag, encoded)
			cmd.Stderr = d.stderr
			if len(d.env) > 0 {
				cmd.Env = append(os.Environ(), d.env...)
			}
			return cmd.Start()
		},
		retry.Attempts(d.startAttempts),
		retry.Delay(d.startDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, unix.EAGAIN)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			d.logger.Warn("worker start failed, retrying",
				"entrypoint", entrypoint,
				"attempt", attempt+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("procdispatch: starting %s worker: %w", entrypoint, err)
	}

	d.logger.Debug("worker started", "entrypoint", entrypoint, "pid", cmd.Process.Pid)
	return newProcessHandle(cmd), nil
}

// WaitForLast blocks until the most recent dispatch exits. It returns
// immediately if nothing was dispatched.
func (d *Dispatcher) WaitForLast() {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	if last != nil {
		last.Wait()
	}
}

// Last returns the most recent handle, or nil.
func (d *Dispatcher) Last() Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// SetSynchronous switches between inline and subprocess dispatch.
// Switching to subprocess mode without an executable resolves the
// running executable.
func (d *Dispatcher) SetSynchronous(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled && d.registry == nil {
		return fmt.Errorf("procdispatch: Registry is required in synchronous mode")
	}
	if !enabled && d.executable == "" {
		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("procdispatch: locating worker host: %w", err)
		}
		d.executable = executable
	}
	d.synchronous = enabled
	return nil
}
