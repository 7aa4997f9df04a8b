// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue buffers telemetry operations submitted before the
// client has finished initializing.
//
// While queueing is on, [Queue.Enqueue] appends to a bounded FIFO
// backlog. Submissions beyond the bound are dropped and counted; the
// caller never sees an error. [Queue.Flush] turns queueing off, hands
// the backlog to the executor in order, and then reports the drop
// count once as the counter metric [OverflowMetric]. The report goes
// through Enqueue after queueing is off, so it executes rather than
// landing in a queue that may be full.
//
// Once flushed, Enqueue hands operations straight to the executor.
// Only [Queue.Reset] (tests) turns queueing back on.
package taskqueue
