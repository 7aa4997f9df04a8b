// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procdispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/bureau-foundation/pingkit/lib/codec"
	"github.com/bureau-foundation/pingkit/lib/logging"
	"github.com/bureau-foundation/pingkit/lib/process"
)

// RunWorker serves a worker invocation and exits. For any other
// arguments it returns immediately, so main can call it first:
//
//	func main() {
//	    procdispatch.RunWorker(os.Args, registry)
//	    ...
//	}
func RunWorker(args []string, registry *Registry) {
	if !IsWorkerInvocation(args) {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := Serve(ctx, args[2], registry, os.Stderr)
	stop()
	os.Exit(exitCode)
}

// Serve decodes an encoded payload, runs its handler, and returns the
// exit code. Logs go to stderr at the payload's level.
func Serve(ctx context.Context, encoded string, registry *Registry, stderr io.Writer) int {
	payload, err := DecodePayload(encoded)
	if err != nil {
		logging.New(slog.LevelError, stderr).Error("unusable worker payload", "error", err)
		return process.ExitUsage
	}

	level, err := logging.ParseLevel(payload.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(level, stderr).With(
		"entrypoint", string(payload.Entrypoint),
		"pid", os.Getpid(),
	)

	handler, ok := registry.Lookup(payload.Entrypoint)
	if !ok {
		logger.Error("no handler for entry point",
			"error", ErrUnknownEntrypoint,
			"registered", registry.Names(),
		)
		return process.ExitUsage
	}

	return process.ExitCode(runHandler(ctx, handler, payload.Args, logger))
}

// runHandler runs handler, turning a panic into failure.
func runHandler(ctx context.Context, handler Handler, args codec.RawMessage, logger *slog.Logger) (success bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("entry point panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			success = false
		}
	}()
	return handler(ctx, args, logger)
}

// DecodeArgs unmarshals a handler's args, treating an absent value as
// the zero value.
func DecodeArgs(args codec.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := codec.Unmarshal(args, v); err != nil {
		return fmt.Errorf("procdispatch: decoding args: %w", err)
	}
	return nil
}
