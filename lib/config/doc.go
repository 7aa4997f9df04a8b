// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for pingkit.
//
// Configuration is loaded from a single file named either by the
// PINGKIT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Commands that
// run without a file use [Default].
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production turns on
// allow_multiprocessing and upload_enabled unless the section says
// otherwise.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${PINGKIT_DATA} and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Worker, Upload, Dispatcher sections
//   - [Default] -- a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Duration] -- a time.Duration that reads "30s" style YAML scalars
//
// This package depends on no other pingkit packages.
package config
