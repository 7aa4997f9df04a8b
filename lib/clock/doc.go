// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by the worker, the
// upload orchestrator and the reference core.
//
// Production code holds a Clock field set to Real(). Tests pass Fake()
// and drive time explicitly: a goroutine blocked in Sleep or waiting on
// After registers a pending timer, the test calls WaitForTimers to
// observe the registration, then Advance to fire it. No test in this
// module sleeps on the wall clock to wait for a retry or a backoff.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go orchestrator.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(10 * time.Millisecond)
package clock
