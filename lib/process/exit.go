// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes shared by the CLI and the worker subprocess.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Fatal writes "error: err" to stderr and exits with ExitFailure. Use
// it in main() for errors from run() where the structured logger may
// not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitFailure)
}

// ExitCode maps an entry point's boolean outcome to a process exit
// code.
func ExitCode(success bool) int {
	if success {
		return ExitSuccess
	}
	return ExitFailure
}
