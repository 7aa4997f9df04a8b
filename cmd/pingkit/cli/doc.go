// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the pingkit binary.
//
// A [Command] has a name, an optional pflag.FlagSet factory, and
// either a Run function or nested Subcommands. [Command.Execute]
// routes the first positional argument to a subcommand, parses flags,
// and prints help for -h, --help, or help. Unknown commands and flags
// get a "did you mean" suggestion when one is within edit distance 3.
//
// Commands that have already printed their result return an
// [ExitError] to set the exit code without a second error line.
package cli
