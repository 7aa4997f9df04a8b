// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by pingkit.
//
// Two things cross a boundary in CBOR: the payload handed to a
// dispatched worker process (on its command line, as base64url text)
// and the pending-ping files written by the reference core. Both must
// decode in a process built from the same binary but started later,
// so encoding is deterministic (RFC 8949 Core Deterministic Encoding)
// and the decoder ignores unknown fields for forward compatibility.
//
// Consumers import this package rather than fxamacker/cbor directly.
package codec
