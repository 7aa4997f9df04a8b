// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload drains pending pings from a telemetry core through a
// pluggable [Uploader].
//
// The [Orchestrator] is the body of the upload worker process. It asks
// the core for a [Task], performs it, reports the [Result] back, and
// repeats until the core says Done, the core answers [End], or one of
// two independent limits trips: too many recoverable failures, or too
// many Wait tasks in one run. 4xx responses and unrecoverable failures
// are final for their ping and do not count toward either limit.
//
// [HTTPUploader] is the default uploader, built on go-cleanhttp.
package upload
