// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command pingkit stores telemetry pings and uploads them. The same
// binary is the worker host that upload cycles are dispatched to.
package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/pingkit/lib/process"
	"github.com/bureau-foundation/pingkit/lib/telemetry"
)

func main() {
	telemetry.RunWorker(os.Args, telemetry.WorkerHost{})

	if err := run(); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return root(standardStreams()).Execute(os.Args[1:])
}
