// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/pingkit/lib/clock"
	"github.com/bureau-foundation/pingkit/lib/config"
	"github.com/bureau-foundation/pingkit/lib/localcore"
	"github.com/bureau-foundation/pingkit/lib/procdispatch"
	"github.com/bureau-foundation/pingkit/lib/process"
	"github.com/bureau-foundation/pingkit/lib/taskqueue"
	"github.com/bureau-foundation/pingkit/lib/upload"
	"github.com/bureau-foundation/pingkit/lib/worker"
)

// Core is the core a Client drives: the upload-facing methods plus
// storage and lifecycle.
type Core interface {
	upload.Core
	taskqueue.CounterRecorder

	Initialize(ctx context.Context) error
	SubmitPing(ctx context.Context, name string, payload []byte) (string, error)
	HasPendingPings() bool
	Close() error
}

// Config configures a Client.
type Config struct {
	// Settings is the loaded configuration. Required.
	Settings *config.Config

	// Core overrides the local core built from Settings.
	Core Core

	// Uploader names the uploader upload workers use. Empty means
	// HTTP.
	Uploader string

	// Uploaders resolves Uploader when uploads run inline (testing
	// mode or multiprocessing disabled).
	Uploaders map[string]upload.Uploader

	// Stderr receives worker process logs. Nil means os.Stderr.
	Stderr io.Writer

	// Clock drives the worker shutdown timeout and the local core.
	// Nil means clock.Real().
	Clock clock.Clock

	// Logger is the client's logger. Nil discards.
	Logger *slog.Logger
}

// Client owns one task queue, worker, dispatcher, and core.
type Client struct {
	settings *config.Config
	core     Core
	worker   *worker.Worker
	queue    *taskqueue.Queue
	dispatch *procdispatch.Dispatcher
	uploader string
	clock    clock.Clock
	logger   *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// New builds a Client. No goroutine or process starts until work is
// submitted.
func New(cfg Config) (*Client, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("telemetry: Settings is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	core := cfg.Core
	if core == nil {
		local, err := newLocalCore(cfg.Settings, cfg.Clock, cfg.Logger)
		if err != nil {
			return nil, err
		}
		core = local
	}

	client := &Client{
		settings: cfg.Settings,
		core:     core,
		uploader: cfg.Uploader,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}

	client.worker = worker.New(worker.Config{
		Clock:  cfg.Clock,
		Logger: cfg.Logger.With("component", "worker"),
	})

	queue, err := taskqueue.New(taskqueue.Config{
		MaxSize:  cfg.Settings.MaxQueueSize,
		Executor: client.worker,
		Counters: core,
		Logger:   cfg.Logger.With("component", "taskqueue"),
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	client.queue = queue

	// Inline uploads drain this client's core rather than opening a
	// second one on the same directory.
	host := WorkerHost{
		OpenCore: func(UploadArgs, *slog.Logger) (upload.Core, error) {
			return client.core, nil
		},
		Uploaders: cfg.Uploaders,
	}
	dispatcher, err := procdispatch.New(procdispatch.Config{
		Registry:    host.Registry(),
		Executable:  cfg.Settings.Dispatcher.Executable,
		Synchronous: !cfg.Settings.AllowMultiprocessing,
		Stderr:      cfg.Stderr,
		Logger:      cfg.Logger.With("component", "dispatcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	client.dispatch = dispatcher

	return client, nil
}

func newLocalCore(settings *config.Config, c clock.Clock, logger *slog.Logger) (*localcore.Core, error) {
	cfg := NewUploadArgs(settings).coreConfig(logger.With("component", "core"))
	cfg.UploadEnabled = settings.UploadEnabled
	cfg.Clock = c
	core, err := localcore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return core, nil
}

// Core returns the client's core.
func (c *Client) Core() Core {
	return c.core
}

// Initialize brings the core up and flushes the backlog. A replay of
// pings left by a previous run executes ahead of everything queued,
// even when the backlog is full.
// Calling it again is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	if err := c.core.Initialize(ctx); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("telemetry: initializing core: %w", err)
	}
	c.initialized = true
	c.mu.Unlock()

	c.queue.Flush(ctx, worker.Operation{
		Name: "replay-pending-pings",
		Run: func(ctx context.Context) error {
			if c.core.HasPendingPings() {
				c.logger.Debug("pending pings from a previous run, dispatching upload")
				c.DispatchUpload()
			}
			return nil
		},
	})
	c.logger.Info("telemetry initialized",
		"application_id", c.settings.ApplicationID,
		"data_dir", c.settings.DataDir,
		"upload_enabled", c.settings.UploadEnabled,
	)
	return nil
}

// Submit runs fn on the worker, queueing it until Initialize.
func (c *Client) Submit(ctx context.Context, name string, fn func(context.Context) error) {
	c.queue.Enqueue(ctx, worker.Operation{Name: name, Run: fn})
}

// SubmitFront is Submit, but a queued fn goes ahead of the backlog.
func (c *Client) SubmitFront(ctx context.Context, name string, fn func(context.Context) error) {
	c.queue.EnqueueFront(ctx, worker.Operation{Name: name, Run: fn})
}

// Launch returns a function that submits fn each time it is called.
func (c *Client) Launch(name string, fn func(context.Context) error) func(context.Context) {
	return func(ctx context.Context) {
		c.Submit(ctx, name, fn)
	}
}

// SetQueueing turns the pre-initialization backlog on or off.
func (c *Client) SetQueueing(enabled bool) {
	c.queue.SetQueueing(enabled)
}

// Flush hands the backlog to the worker and stops queueing.
func (c *Client) Flush(ctx context.Context) {
	c.queue.Flush(ctx)
}

// SubmitPing stores payload as a ping on the worker and dispatches an
// upload. Failures are logged.
func (c *Client) SubmitPing(ctx context.Context, name string, payload []byte) {
	body := bytes.Clone(payload)
	c.Submit(ctx, "submit-ping", func(ctx context.Context) error {
		documentID, err := c.core.SubmitPing(ctx, name, body)
		if errors.Is(err, localcore.ErrUploadDisabled) {
			c.logger.Debug("upload disabled, ping not stored", "ping", name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("storing %s ping: %w", name, err)
		}
		c.logger.Debug("ping submitted", "ping", name, "document_id", documentID)
		c.DispatchUpload()
		return nil
	})
}

// DispatchUpload starts an upload cycle, first waiting for the previous
// dispatch to exit.
func (c *Client) DispatchUpload() {
	args := NewUploadArgs(c.settings)
	args.Uploader = c.uploader
	if _, err := c.dispatch.Dispatch(EntrypointUpload, args); err != nil {
		c.logger.Error("dispatching upload", "error", err)
	}
}

// WaitForUploads blocks until the most recent dispatch exits.
func (c *Client) WaitForUploads() {
	c.dispatch.WaitForLast()
}

// WaitIdle blocks until every operation already handed to the worker
// has run.
func (c *Client) WaitIdle(ctx context.Context) error {
	return c.worker.WaitIdle(ctx)
}

// Shutdown drains the worker and the last dispatch, each bounded by
// timeout, then closes the core.
func (c *Client) Shutdown(timeout time.Duration) {
	c.worker.Shutdown(timeout)

	uploaded := make(chan struct{})
	go func() {
		c.dispatch.WaitForLast()
		close(uploaded)
	}()
	select {
	case <-uploaded:
	case <-c.clock.After(timeout):
		c.logger.Error("timed out waiting for upload worker", "timeout", timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.core.Close(); err != nil {
		c.logger.Error("closing core", "error", err)
	}
	c.initialized = false
}

// SetTestingMode runs the worker and dispatcher inline when enabled.
func (c *Client) SetTestingMode(enabled bool) {
	c.worker.SetSynchronous(enabled)
	synchronous := enabled || !c.settings.AllowMultiprocessing
	if err := c.dispatch.SetSynchronous(synchronous); err != nil {
		c.logger.Error("switching dispatch mode", "error", err)
	}
}

// TestReset closes the core, removes the data directory through the
// dispatcher, and returns the client to its pre-Initialize state.
func (c *Client) TestReset(ctx context.Context) error {
	if err := c.worker.WaitIdle(ctx); err != nil {
		return err
	}
	c.dispatch.WaitForLast()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.core.Close(); err != nil {
		c.logger.Warn("closing core for reset", "error", err)
	}
	handle, err := c.dispatch.Dispatch(EntrypointRemoveDataDir, RemoveDataDirArgs{DataDir: c.settings.DataDir})
	if err != nil {
		return fmt.Errorf("telemetry: removing data directory: %w", err)
	}
	if exitCode := handle.Wait(); exitCode != process.ExitSuccess {
		return fmt.Errorf("telemetry: remove-data-dir exited with %d", exitCode)
	}

	c.queue.Reset()
	if c.worker.State() == worker.Stopped {
		if err := c.worker.Reset(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	c.initialized = false
	return nil
}
