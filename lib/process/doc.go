// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for pingkit binaries and
// the worker subprocess.
//
// The exit code constants are the contract between a dispatched worker
// and the parent that joins it: [ExitSuccess] means the entry point
// reported success, [ExitFailure] means it reported failure or crashed,
// and [ExitUsage] means the payload could not be understood at all.
// [Fatal] writes an error to stderr before the structured logger exists
// and exits with [ExitFailure].
package process
