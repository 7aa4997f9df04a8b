// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procdispatch

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/pingkit/lib/codec"
)

// WorkerFlag is the first argument of a worker invocation.
const WorkerFlag = "__pingkit_worker__"

// PayloadVersion is the only payload version this build understands.
const PayloadVersion = 1

// payloadWarnBytes is where command lines start to risk platform
// argument limits.
const payloadWarnBytes = 4096

var (
	// ErrPayloadVersion means the payload came from an incompatible
	// build.
	ErrPayloadVersion = errors.New("procdispatch: unsupported payload version")

	// ErrUnknownEntrypoint means no handler is registered under the
	// payload's entry point name.
	ErrUnknownEntrypoint = errors.New("procdispatch: unknown entry point")
)

// Entrypoint names a registered handler.
type Entrypoint string

// Payload is everything the child needs to run one entry point.
type Payload struct {
	Version    int              `cbor:"version"`
	Entrypoint Entrypoint       `cbor:"entrypoint"`
	LogLevel   string           `cbor:"log_level,omitempty"`
	Args       codec.RawMessage `cbor:"args,omitempty"`
}

// EncodePayload builds the command-line form of a payload, encoding
// args into it.
func EncodePayload(entrypoint Entrypoint, logLevel string, args any) (string, error) {
	rawArgs, err := codec.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("procdispatch: encoding %s args: %w", entrypoint, err)
	}
	text, err := codec.EncodeText(Payload{
		Version:    PayloadVersion,
		Entrypoint: entrypoint,
		LogLevel:   logLevel,
		Args:       rawArgs,
	})
	if err != nil {
		return "", fmt.Errorf("procdispatch: encoding payload: %w", err)
	}
	return text, nil
}

// DecodePayload parses the command-line form and checks its version.
func DecodePayload(text string) (Payload, error) {
	var payload Payload
	if err := codec.DecodeText(text, &payload); err != nil {
		return Payload{}, fmt.Errorf("procdispatch: decoding payload: %w", err)
	}
	if payload.Version != PayloadVersion {
		return Payload{}, fmt.Errorf("%w: got %d, want %d", ErrPayloadVersion, payload.Version, PayloadVersion)
	}
	return payload, nil
}

// IsWorkerInvocation reports whether args (as in os.Args) start a
// worker.
func IsWorkerInvocation(args []string) bool {
	return len(args) >= 3 && args[1] == WorkerFlag
}
