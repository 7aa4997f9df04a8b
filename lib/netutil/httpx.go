// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response body handling.
//
// Upload responses are never parsed; their bodies are read only to
// free the connection for reuse or to quote a rejection in a log
// line. Both reads are capped so a misbehaving server cannot make a
// worker buffer an unbounded body.
package netutil

import (
	"io"
	"strings"
	"unicode/utf8"
)

// MaxDrainSize bounds DrainAndClose.
const MaxDrainSize int64 = 64 << 10

// MaxErrorBodySize bounds ErrorBody.
const MaxErrorBodySize int64 = 1 << 10

// DrainAndClose discards up to MaxDrainSize bytes of body and closes
// it, letting the transport reuse the connection when the body was
// short enough.
func DrainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, MaxDrainSize))
	body.Close()
}

// ErrorBody reads up to MaxErrorBodySize bytes of a response body for
// a diagnostic message. Read errors are ignored; a partial body is
// still useful. Invalid UTF-8 is replaced and surrounding whitespace
// trimmed.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return strings.TrimSpace(text)
}
