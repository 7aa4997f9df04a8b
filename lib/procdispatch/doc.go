// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procdispatch runs registered entry points in a child process,
// one at a time.
//
// The child is the host binary itself, re-executed with the arguments
//
//	__pingkit_worker__ <payload>
//
// where payload is a [Payload] encoded as deterministic CBOR and then
// unpadded base64url. The host's main must call [RunWorker] before
// doing anything else; in a worker invocation it runs the named
// [Handler] and exits with [process.ExitSuccess] or
// [process.ExitFailure]. A payload it cannot understand exits with
// [process.ExitUsage].
//
// [Dispatcher.Dispatch] first waits for the previously dispatched
// process to exit and only then starts the next one, so at most one
// child is ever live. The parent never interprets exit codes; it hands
// them back through [Handle.Wait].
//
// With Config.Synchronous the handler runs on the calling goroutine
// and its result is wrapped in the same [Handle] interface.
package procdispatch
