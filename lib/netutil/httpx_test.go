// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type countingBody struct {
	reader *strings.Reader
	read   int64
	closed bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	b.read += int64(n)
	return n, err
}

func (b *countingBody) Close() error {
	b.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	t.Run("short body", func(t *testing.T) {
		body := &countingBody{reader: strings.NewReader("accepted")}
		DrainAndClose(body)
		if body.read != int64(len("accepted")) {
			t.Errorf("read %d bytes, want the whole body", body.read)
		}
		if !body.closed {
			t.Error("body not closed")
		}
	})

	t.Run("oversized body", func(t *testing.T) {
		body := &countingBody{reader: strings.NewReader(strings.Repeat("x", int(MaxDrainSize)*2))}
		DrainAndClose(body)
		if body.read != MaxDrainSize {
			t.Errorf("read %d bytes, want the %d byte cap", body.read, MaxDrainSize)
		}
		if !body.closed {
			t.Error("body not closed")
		}
	})
}

type failReader struct{}

func (failReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestErrorBody(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		if got := ErrorBody(strings.NewReader("  invalid ping schema\n")); got != "invalid ping schema" {
			t.Errorf("ErrorBody = %q", got)
		}
	})

	t.Run("caps length", func(t *testing.T) {
		got := ErrorBody(strings.NewReader(strings.Repeat("e", int(MaxErrorBodySize)+100)))
		if int64(len(got)) != MaxErrorBodySize {
			t.Errorf("len = %d, want %d", len(got), MaxErrorBodySize)
		}
	})

	t.Run("replaces invalid UTF-8", func(t *testing.T) {
		got := ErrorBody(bytes.NewReader([]byte{'o', 'k', 0xff}))
		if got != "ok�" {
			t.Errorf("ErrorBody = %q", got)
		}
	})

	t.Run("read error yields empty", func(t *testing.T) {
		if got := ErrorBody(io.MultiReader(failReader{})); got != "" {
			t.Errorf("ErrorBody = %q, want empty", got)
		}
	})
}
