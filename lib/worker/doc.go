// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs telemetry operations one at a time, in
// submission order, on a single background goroutine.
//
// [Worker.Execute] never blocks on the operation itself: the
// operation is appended to an unbounded in-memory queue and the
// goroutine, started lazily on first use, runs it later. Errors and
// panics are logged with the operation's name and never reach the
// submitter or stop the goroutine.
//
// Operations receive a context marked with the Worker running them. When
// an operation calls Execute with that context, the nested operation
// runs inline instead of being queued behind its parent, which would
// otherwise never finish. [Worker.OnWorker] reports the mark; a context
// marked by a different Worker is queued normally.
//
// Synchronous mode, used by tests and by single-process deployments,
// runs every operation inline on the calling goroutine.
//
// Lifecycle: NotStarted -> Running (first Execute) -> ShuttingDown
// ([Worker.Shutdown]) -> Stopped (stop sentinel observed). Stopped is
// terminal until [Worker.Reset].
package worker
