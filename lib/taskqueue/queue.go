// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/pingkit/lib/worker"
)

// DefaultMaxSize bounds the backlog when Config.MaxSize is zero.
const DefaultMaxSize = 100

// OverflowMetric is the counter that receives the drop report.
const OverflowMetric = "glean.error.preinit_tasks_overflow"

// Executor runs operations once queueing is off. *worker.Worker
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, op worker.Operation)
}

// CounterRecorder records a counter metric.
type CounterRecorder interface {
	RecordCounter(metricID string, delta int64)
}

// Config configures a Queue.
type Config struct {
	// MaxSize bounds the backlog. Zero means DefaultMaxSize.
	MaxSize int

	// Executor runs operations. Required.
	Executor Executor

	// Counters receives the overflow report. Nil means the report is
	// logged and dropped.
	Counters CounterRecorder

	// Logger receives drop and overflow messages. Nil discards them.
	Logger *slog.Logger
}

// Queue is the pre-initialization backlog. Safe for concurrent use.
// Operations never run while the lock is held, so an operation may
// itself call Enqueue.
type Queue struct {
	executor Executor
	counters CounterRecorder
	logger   *slog.Logger
	maxSize  int

	mu       sync.Mutex
	queueing bool
	pending  []worker.Operation
	overflow int
}

// New creates a Queue with queueing on.
func New(cfg Config) (*Queue, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("taskqueue: Executor is required")
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("taskqueue: MaxSize must not be negative, got %d", cfg.MaxSize)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		executor: cfg.Executor,
		counters: cfg.Counters,
		logger:   cfg.Logger,
		maxSize:  cfg.MaxSize,
		queueing: true,
	}, nil
}

// Enqueue appends op to the backlog, or executes it if queueing is
// off. A full backlog drops op and counts the drop.
func (q *Queue) Enqueue(ctx context.Context, op worker.Operation) {
	q.enqueue(ctx, op, false)
}

// EnqueueFront is Enqueue but places op ahead of everything already
// queued. It is still bounded; pass operations that must not be
// dropped to Flush instead.
func (q *Queue) EnqueueFront(ctx context.Context, op worker.Operation) {
	q.enqueue(ctx, op, true)
}

func (q *Queue) enqueue(ctx context.Context, op worker.Operation, front bool) {
	q.mu.Lock()
	if !q.queueing {
		q.mu.Unlock()
		q.executor.Execute(ctx, op)
		return
	}

	if len(q.pending) >= q.maxSize {
		q.overflow++
		overflow := q.overflow
		q.mu.Unlock()
		q.logger.Debug("task queue full, dropping operation",
			"operation", op.Name,
			"max_size", q.maxSize,
			"overflow", overflow,
		)
		return
	}

	if front {
		q.pending = slices.Insert(q.pending, 0, op)
	} else {
		q.pending = append(q.pending, op)
	}
	q.mu.Unlock()
}

// SetQueueing turns queueing on or off without running or dropping
// anything already queued.
func (q *Queue) SetQueueing(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queueing = enabled
}

// Flush turns queueing off and executes the backlog in order.
//
// Queueing is switched off and the backlog taken in one critical
// section, so an operation enqueued from then on, including by a
// flushed operation, executes instead of being queued or dropped.
// The lead operations execute ahead of the backlog and are not
// subject to the bound. Any drop count is reported and reset after
// the backlog has been handed to the executor.
func (q *Queue) Flush(ctx context.Context, lead ...worker.Operation) {
	q.mu.Lock()
	q.queueing = false
	batch := q.pending
	q.pending = nil
	overflow := q.overflow
	q.overflow = 0
	q.mu.Unlock()

	for _, op := range lead {
		q.executor.Execute(ctx, op)
	}
	for _, op := range batch {
		q.executor.Execute(ctx, op)
	}

	q.logger.Debug("task queue flushed",
		"operations", len(lead)+len(batch),
		"overflow", overflow,
	)
	if overflow > 0 {
		q.reportOverflow(ctx, overflow)
	}
}

// reportOverflow records maxSize + overflow, the number of operations
// submitted while the backlog was full plus the ones it held.
func (q *Queue) reportOverflow(ctx context.Context, overflow int) {
	value := int64(q.maxSize + overflow)
	if q.counters == nil {
		q.logger.Warn("task queue overflowed before initialization",
			"metric", OverflowMetric,
			"value", value,
		)
		return
	}
	q.Enqueue(ctx, worker.Operation{
		Name: "report-preinit-overflow",
		Run: func(context.Context) error {
			q.counters.RecordCounter(OverflowMetric, value)
			return nil
		},
	})
}

// Reset turns queueing back on and discards the backlog and drop count.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queueing = true
	q.pending = nil
	q.overflow = 0
}

// Len returns the backlog length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Overflow returns the number of operations dropped since the last
// flush or reset.
func (q *Queue) Overflow() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

// Queueing reports whether Enqueue currently buffers.
func (q *Queue) Queueing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queueing
}

// MaxSize returns the backlog bound.
func (q *Queue) MaxSize() int {
	return q.maxSize
}
