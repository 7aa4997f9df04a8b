// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewUsesJSONForNonTerminal(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(slog.LevelInfo, &buffer)

	logger.Info("dispatch started", "entrypoint", "upload")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buffer.String(), err)
	}
	if record["msg"] != "dispatch started" {
		t.Errorf("msg = %v, want %q", record["msg"], "dispatch started")
	}
	if record["entrypoint"] != "upload" {
		t.Errorf("entrypoint = %v, want %q", record["entrypoint"], "upload")
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(slog.LevelWarn, &buffer)

	logger.Info("dropped")
	if buffer.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buffer.String())
	}

	logger.Warn("kept")
	if buffer.Len() == 0 {
		t.Error("warn record not written at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLevelNameRoundTrips(t *testing.T) {
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		parsed, err := ParseLevel(LevelName(level))
		if err != nil {
			t.Fatalf("ParseLevel(LevelName(%v)): %v", level, err)
		}
		if parsed != level {
			t.Errorf("level %v round-tripped to %v", level, parsed)
		}
	}
}
