// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires the task queue, async worker, process
// dispatcher, and core into a single [Client].
//
// Constructing a Client starts nothing. Work submitted before
// [Client.Initialize] waits in a bounded backlog; Initialize brings the
// core up, puts a replay of pings left over from a previous run at the
// front of the backlog, and flushes it to the worker. From then on
// submissions go straight to the worker.
//
// Uploads and data-directory removal run through the dispatcher as the
// "upload" and "remove-data-dir" entry points, one process at a time.
// The host binary must hand control to [RunWorker] at the top of main:
//
//	func main() {
//	    telemetry.RunWorker(os.Args, telemetry.WorkerHost{})
//	    ...
//	}
//
// In testing mode the worker and the dispatcher both run inline, so a
// call returns only after its effects, including any upload, are done.
package telemetry
