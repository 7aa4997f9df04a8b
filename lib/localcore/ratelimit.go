// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localcore

import (
	"time"

	"github.com/bureau-foundation/pingkit/lib/clock"
)

// rateLimiter admits at most max uploads per fixed window. The window
// opens on the first take after the previous one expired.
type rateLimiter struct {
	clock    clock.Clock
	max      int
	interval time.Duration

	windowStart time.Time
	count       int
}

func newRateLimiter(c clock.Clock, max int, interval time.Duration) *rateLimiter {
	return &rateLimiter{clock: c, max: max, interval: interval}
}

// take consumes one slot. When the window is spent it returns the time
// left until the window reopens.
func (r *rateLimiter) take() (time.Duration, bool) {
	now := r.clock.Now()
	elapsed := now.Sub(r.windowStart)
	if r.windowStart.IsZero() || elapsed >= r.interval {
		r.windowStart = now
		r.count = 0
		elapsed = 0
	}
	if r.count < r.max {
		r.count++
		return 0, true
	}
	return r.interval - elapsed, false
}
