// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localcore is a self-contained telemetry core: it stores
// submitted pings on disk, hands them out as upload tasks, applies
// upload results, and keeps counter metrics in SQLite.
//
// # Storage
//
// Each ping is one file in <data_dir>/pending_pings/ named by its UUID
// document ID. The file is a CBOR record holding the upload path, the
// lz4-compressed body, and a BLAKE3 checksum of the uncompressed body.
// Files are written to a dot-prefixed temporary name, fsynced, and
// renamed into place, so a scan never sees a partial ping.
//
// A scan deletes files whose names are not UUIDs, records that fail to
// decode or verify, and bodies larger than the size limit. It then
// deletes the oldest pings until the directory fits its byte quota,
// and queues the rest oldest first.
//
// # Upload cycle
//
// [Core.GetUploadTask] serves queued pings subject to a fixed-window
// rate limit, answering Wait when the window is spent and Done when
// the queue is empty. Each cycle starts from a fresh scan, so a ping
// whose upload failed recoverably is served again only in a later
// cycle. Delivered and rejected pings are deleted; a ping the
// uploader is incapable of sending is kept and the cycle ends.
//
// The parent process and the upload worker share the directory. No
// file locks are taken: the dispatcher guarantees a single uploader.
package localcore
