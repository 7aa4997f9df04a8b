// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	origDirty, origCommit := GitDirty, GitCommit
	t.Cleanup(func() { GitDirty, GitCommit = origDirty, origCommit })

	GitCommit = "abc1234"
	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want dirty marker", got)
	}

	GitDirty = "false"
	if got := Info(); strings.Contains(got, "-dirty") {
		t.Errorf("Info() = %q, want no dirty marker", got)
	}
}

func TestUserAgent(t *testing.T) {
	want := "pingkit/" + Version + " (go on " + runtime.GOOS + ")"
	if got := UserAgent(); got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}

func TestTelemetryAgent(t *testing.T) {
	got := TelemetryAgent()
	if !strings.HasPrefix(got, "pingkit-go/"+Version) {
		t.Errorf("TelemetryAgent() = %q, want pingkit-go/%s prefix", got, Version)
	}
	if !strings.Contains(got, runtime.Version()) {
		t.Errorf("TelemetryAgent() = %q, want Go version", got)
	}
}
