// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localcore

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/pingkit/lib/codec"
)

// pingRecord is the on-disk form of a pending ping.
type pingRecord struct {
	DocumentID  string `cbor:"document_id"`
	Path        string `cbor:"path"`
	SubmittedAt int64  `cbor:"submitted_at"`
	BodySize    int    `cbor:"body_size"`
	Compressed  bool   `cbor:"compressed"`
	Body        []byte `cbor:"body"`
	Checksum    []byte `cbor:"checksum"`
}

func newPingRecord(documentID, path string, payload []byte, submittedAt time.Time) (*pingRecord, error) {
	sum := blake3.Sum256(payload)
	record := &pingRecord{
		DocumentID:  documentID,
		Path:        path,
		SubmittedAt: submittedAt.UnixNano(),
		BodySize:    len(payload),
		Body:        payload,
		Checksum:    sum[:],
	}

	compressed, err := compressBody(payload)
	if err != nil {
		return nil, err
	}
	if compressed != nil {
		record.Body = compressed
		record.Compressed = true
	}
	return record, nil
}

// payload returns the uncompressed body after verifying its checksum.
func (r *pingRecord) payload() ([]byte, error) {
	body := r.Body
	if r.Compressed {
		destination := make([]byte, r.BodySize)
		read, err := lz4.UncompressBlock(r.Body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != r.BodySize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, r.BodySize)
		}
		body = destination
	}

	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], r.Checksum) {
		return nil, fmt.Errorf("checksum mismatch for ping %s", r.DocumentID)
	}
	return body, nil
}

// compressBody returns nil when lz4 does not shrink the payload.
func compressBody(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	destination := make([]byte, lz4.CompressBlockBound(len(payload)))
	written, err := lz4.CompressBlock(payload, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(payload) {
		return nil, nil
	}
	return destination[:written], nil
}

func isDocumentID(name string) bool {
	parsed, err := uuid.Parse(name)
	return err == nil && parsed.String() == name
}

func pingPath(directory, documentID string) string {
	return filepath.Join(directory, documentID)
}

// writePing stores record atomically: temporary file, fsync, rename,
// then fsync of the directory. Temporary names start with a dot so
// scans in other processes leave them alone.
func writePing(directory string, record *pingRecord) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding ping %s: %w", record.DocumentID, err)
	}

	file, err := os.CreateTemp(directory, "."+record.DocumentID+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary ping file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary ping file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary ping file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary ping file: %w", err)
	}
	if err := os.Chmod(temporaryPath, 0o644); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("setting ping file mode: %w", err)
	}

	if err := os.Rename(temporaryPath, pingPath(directory, record.DocumentID)); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming ping file into place: %w", err)
	}

	parentDirectory, err := os.Open(directory)
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

func readPing(directory, documentID string) (*pingRecord, error) {
	data, err := os.ReadFile(pingPath(directory, documentID))
	if err != nil {
		return nil, err
	}
	var record pingRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding ping %s: %w", documentID, err)
	}
	if record.DocumentID != documentID {
		return nil, fmt.Errorf("ping file %s holds document %q", documentID, record.DocumentID)
	}
	return &record, nil
}

// removePing ignores errors; a file that survives is retried by the
// next scan.
func removePing(directory, documentID string) {
	os.Remove(pingPath(directory, documentID))
}

type scannedPing struct {
	documentID  string
	size        int64
	submittedAt int64
}

// scanLocked rebuilds the queue from the pending directory, enforcing
// the per-ping and per-directory size limits.
func (c *Core) scanLocked(ctx context.Context) {
	c.queue = nil
	c.scanned = true

	entries, err := os.ReadDir(c.pendingDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Error("reading pending ping directory", "path", c.pendingDir, "error", err)
		}
		return
	}

	var found []scannedPing
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !isDocumentID(name) {
			c.logger.Warn("deleting unexpected file in pending ping directory", "name", name)
			os.Remove(filepath.Join(c.pendingDir, name))
			continue
		}
		if _, inFlight := c.inFlight[name]; inFlight {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		record, err := readPing(c.pendingDir, name)
		if err == nil {
			_, err = record.payload()
		}
		if err != nil {
			c.logger.Warn("deleting corrupt ping", "document_id", name, "error", err)
			removePing(c.pendingDir, name)
			continue
		}
		if int64(record.BodySize) > c.maxBodySize {
			c.logger.Warn("deleting oversized ping", "document_id", name, "bytes", record.BodySize, "limit", c.maxBodySize)
			removePing(c.pendingDir, name)
			c.recordLocked(ctx, MetricDiscardedTooLarge, 1)
			continue
		}
		found = append(found, scannedPing{documentID: name, size: info.Size(), submittedAt: record.SubmittedAt})
	}

	slices.SortFunc(found, func(a, b scannedPing) int {
		if order := cmp.Compare(a.submittedAt, b.submittedAt); order != 0 {
			return order
		}
		return strings.Compare(a.documentID, b.documentID)
	})

	// Newest pings win the quota.
	var total int64
	keepFrom := 0
	for index := len(found) - 1; index >= 0; index-- {
		total += found[index].size
		if total > c.maxDirBytes {
			keepFrom = index + 1
			break
		}
	}
	if keepFrom > 0 {
		for _, ping := range found[:keepFrom] {
			removePing(c.pendingDir, ping.documentID)
		}
		c.logger.Warn("pending ping directory over quota, deleted oldest pings",
			"deleted", keepFrom, "quota_bytes", c.maxDirBytes)
		c.recordLocked(ctx, MetricDeletedOverQuota, int64(keepFrom))
	}

	for _, ping := range found[keepFrom:] {
		c.queue = append(c.queue, ping.documentID)
	}
	if len(c.queue) > 0 {
		c.logger.Debug("pending pings loaded", "count", len(c.queue))
	}
}
