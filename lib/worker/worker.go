// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/pingkit/lib/clock"
)

// Operation is a named unit of work. Name appears in logs when Run
// fails or panics.
type Operation struct {
	Name string
	Run  func(ctx context.Context) error
}

// State is the worker's lifecycle position.
type State int

const (
	NotStarted State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config configures a Worker.
type Config struct {
	// Clock times Shutdown. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives operation failures. Nil discards them.
	Logger *slog.Logger

	// Synchronous runs operations inline on the caller.
	Synchronous bool
}

// Worker executes operations serially on one goroutine. Safe for
// concurrent use.
type Worker struct {
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	synchronous bool
	queue       []item
	notify      chan struct{}
	done        chan struct{}
}

// item is one queue slot: an operation, an idle marker, or the stop
// sentinel.
type item struct {
	ctx  context.Context
	op   Operation
	idle chan struct{}
	stop bool
}

// New creates a worker. No goroutine starts until the first Execute.
func New(cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		synchronous: cfg.Synchronous,
		notify:      make(chan struct{}, 1),
	}
}

type onWorkerKey struct{}

// OnWorker reports whether ctx belongs to an operation this worker is
// running. A context marked by another Worker does not count.
func (w *Worker) OnWorker(ctx context.Context) bool {
	owner, _ := ctx.Value(onWorkerKey{}).(*Worker)
	return owner == w
}

func (w *Worker) mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, onWorkerKey{}, w)
}

// Execute submits op. In synchronous mode, or when ctx is already on
// the worker, op runs before Execute returns. Otherwise it is queued
// behind everything submitted earlier. Submissions after Shutdown are
// dropped with a warning.
func (w *Worker) Execute(ctx context.Context, op Operation) {
	if w.OnWorker(ctx) {
		w.run(ctx, op)
		return
	}

	w.mu.Lock()
	if w.synchronous {
		w.mu.Unlock()
		w.run(w.mark(ctx), op)
		return
	}

	switch w.state {
	case ShuttingDown, Stopped:
		state := w.state
		w.mu.Unlock()
		w.logger.Warn("worker not accepting operations, dropping",
			"operation", op.Name,
			"state", state.String(),
		)
		return
	case NotStarted:
		w.start()
	}

	// The operation outlives the submitter's cancellation but keeps
	// its values.
	w.push(item{ctx: w.mark(context.WithoutCancel(ctx)), op: op})
	w.mu.Unlock()
}

// start launches the goroutine. Caller holds mu.
func (w *Worker) start() {
	w.state = Running
	w.done = make(chan struct{})
	go w.loop(w.done)
}

// push appends and wakes the goroutine. Caller holds mu.
func (w *Worker) push(it item) {
	w.queue = append(w.queue, it)
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) pop() (item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return item{}, false
	}
	it := w.queue[0]
	w.queue[0] = item{}
	w.queue = w.queue[1:]
	return it, true
}

func (w *Worker) loop(done chan struct{}) {
	defer close(done)
	for {
		it, ok := w.pop()
		if !ok {
			<-w.notify
			continue
		}
		switch {
		case it.stop:
			w.mu.Lock()
			w.state = Stopped
			w.mu.Unlock()
			return
		case it.idle != nil:
			close(it.idle)
		default:
			w.run(it.ctx, it.op)
		}
	}
}

// run executes op, logging any error or panic.
func (w *Worker) run(ctx context.Context, op Operation) {
	if op.Run == nil {
		w.logger.Error("operation has no body", "operation", op.Name)
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logger.Error("operation panicked",
				"operation", op.Name,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := op.Run(ctx); err != nil {
		w.logger.Error("operation failed", "operation", op.Name, "error", err)
	}
}

// Shutdown queues a stop sentinel behind every pending operation and
// waits up to timeout for the goroutine to reach it. A timeout is
// logged, not returned; the goroutine keeps draining in the
// background. Calling Shutdown again is a no-op.
func (w *Worker) Shutdown(timeout time.Duration) {
	w.mu.Lock()
	switch w.state {
	case NotStarted:
		w.state = Stopped
		w.mu.Unlock()
		return
	case ShuttingDown, Stopped:
		w.mu.Unlock()
		return
	}
	w.state = ShuttingDown
	w.push(item{stop: true})
	done := w.done
	pending := len(w.queue) - 1
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Debug("worker stopped")
	case <-w.clock.After(timeout):
		w.logger.Error("timed out waiting for worker to drain",
			"timeout", timeout,
			"pending_at_shutdown", pending,
		)
	}
}

// WaitIdle blocks until every operation submitted before the call has
// run, or ctx is done.
func (w *Worker) WaitIdle(ctx context.Context) error {
	if w.OnWorker(ctx) {
		return nil
	}

	w.mu.Lock()
	var wait <-chan struct{}
	switch w.state {
	case Running:
		idle := make(chan struct{})
		w.push(item{idle: idle})
		wait = idle
	case ShuttingDown:
		wait = w.done
	default:
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSynchronous switches inline execution on or off. Operations
// already queued still run on the goroutine.
func (w *Worker) SetSynchronous(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.synchronous = enabled
}

// Synchronous reports whether operations run inline.
func (w *Worker) Synchronous() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.synchronous
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Reset returns a stopped or never-started worker to NotStarted. It
// fails while the goroutine is live.
func (w *Worker) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Running, ShuttingDown:
		return fmt.Errorf("worker: reset while %s", w.state)
	}
	w.state = NotStarted
	w.queue = nil
	w.done = nil
	return nil
}
