// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by pingkit tests.
//
// [RequireReceive], [RequireSend] and [RequireClosed] bound a channel
// operation by a wall-clock timeout and fail the test when it expires.
// Code under test takes its time from [clock.Fake] instead.
//
// [UniqueID] names operations and pings within one test binary.
package testutil
