// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/pingkit/lib/clock"
	"github.com/bureau-foundation/pingkit/lib/sqlitepool"
	"github.com/bureau-foundation/pingkit/lib/upload"
)

const (
	pendingPingsDirectory = "pending_pings"
	countersDatabase      = "counters.db"
	pingSchemaVersion     = 1
)

// Counter metrics recorded by the core.
const (
	MetricDiscardedTooLarge = "glean.upload.discarded_exceeding_pings_size"
	MetricDeletedOverQuota  = "glean.upload.deleted_pings_after_quota_hit"
	MetricUploadFailure     = "glean.upload.ping_upload_failure"
	MetricPingsDelivered    = "glean.upload.pings_delivered"
	MetricPingsRejected     = "glean.upload.pings_rejected"
)

var (
	// ErrNotInitialized is returned by operations that need Initialize.
	ErrNotInitialized = errors.New("localcore: not initialized")

	// ErrUploadDisabled is returned by SubmitPing when upload is off.
	ErrUploadDisabled = errors.New("localcore: upload disabled")

	// ErrPingTooLarge is returned by SubmitPing for oversized bodies.
	ErrPingTooLarge = errors.New("localcore: ping body exceeds size limit")
)

var pingNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// RateLimit allows MaxPings uploads per Interval.
type RateLimit struct {
	MaxPings int
	Interval time.Duration
}

// Config configures a Core.
type Config struct {
	// DataDir holds pending_pings/ and counters.db. Required.
	DataDir string

	// ApplicationID is the second segment of every upload path.
	// Required.
	ApplicationID string

	// UploadEnabled gates SubmitPing and counter recording.
	UploadEnabled bool

	// MaxPingBodySize defaults to 1 MiB.
	MaxPingBodySize int64

	// MaxPendingDirectoryBytes defaults to 10 MiB.
	MaxPendingDirectoryBytes int64

	// RateLimit defaults to 15 pings per minute.
	RateLimit RateLimit

	// Clock stamps pings and drives the rate limiter. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives storage events. Nil discards them.
	Logger *slog.Logger
}

// Core implements upload.Core and taskqueue.CounterRecorder on local
// storage. Safe for concurrent use.
type Core struct {
	dataDir       string
	pendingDir    string
	applicationID string
	maxBodySize   int64
	maxDirBytes   int64
	clock         clock.Clock
	logger        *slog.Logger
	configured    bool

	mu            sync.Mutex
	initialized   bool
	uploadEnabled bool
	recording     bool
	scanned       bool
	queue         []string
	inFlight      map[string]struct{}
	limiter       *rateLimiter
	counters      *sqlitepool.Pool
}

// New validates cfg and returns an uninitialized Core.
func New(cfg Config) (*Core, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("localcore: DataDir is required")
	}
	if cfg.ApplicationID == "" {
		return nil, fmt.Errorf("localcore: ApplicationID is required")
	}
	if cfg.MaxPingBodySize <= 0 {
		cfg.MaxPingBodySize = 1 << 20
	}
	if cfg.MaxPendingDirectoryBytes <= 0 {
		cfg.MaxPendingDirectoryBytes = 10 << 20
	}
	if cfg.RateLimit.MaxPings <= 0 {
		cfg.RateLimit.MaxPings = 15
	}
	if cfg.RateLimit.Interval <= 0 {
		cfg.RateLimit.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Core{
		dataDir:       cfg.DataDir,
		pendingDir:    filepath.Join(cfg.DataDir, pendingPingsDirectory),
		applicationID: cfg.ApplicationID,
		maxBodySize:   cfg.MaxPingBodySize,
		maxDirBytes:   cfg.MaxPendingDirectoryBytes,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		configured:    cfg.UploadEnabled,
		inFlight:      make(map[string]struct{}),
		limiter:       newRateLimiter(cfg.Clock, cfg.RateLimit.MaxPings, cfg.RateLimit.Interval),
	}, nil
}

// Initialize prepares the data directory and opens the counter store.
// Calling it again is a no-op.
func (c *Core) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if err := os.MkdirAll(c.pendingDir, 0o755); err != nil {
		return fmt.Errorf("localcore: creating %s: %w", c.pendingDir, err)
	}
	pool, err := openCounters(filepath.Join(c.dataDir, countersDatabase), c.logger)
	if err != nil {
		return err
	}

	c.counters = pool
	c.uploadEnabled = c.configured
	c.recording = c.configured
	c.initialized = true
	c.logger.Debug("core initialized", "data_dir", c.dataDir, "upload_enabled", c.uploadEnabled)
	return nil
}

// IsInitialized reports whether Initialize or InitializeForSubprocess
// succeeded.
func (c *Core) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// InitializeForSubprocess prepares the core inside an upload worker.
// Recording stays off and no counter store is opened; the worker only
// drains pings that already exist.
func (c *Core) InitializeForSubprocess(settings upload.SubprocessSettings) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return true
	}

	if err := os.MkdirAll(c.pendingDir, 0o755); err != nil {
		c.logger.Error("creating pending ping directory", "path", c.pendingDir, "error", err)
		return false
	}
	c.uploadEnabled = settings.UploadEnabled
	c.recording = false
	c.initialized = true
	return true
}

// SubmitPing stores payload, which must be JSON, as a new ping and
// returns its document ID.
func (c *Core) SubmitPing(ctx context.Context, name string, payload []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return "", ErrNotInitialized
	}
	if !c.uploadEnabled {
		return "", ErrUploadDisabled
	}
	if !pingNamePattern.MatchString(name) {
		return "", fmt.Errorf("localcore: invalid ping name %q", name)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("localcore: %s payload is not valid JSON", name)
	}
	if int64(len(payload)) > c.maxBodySize {
		c.recordLocked(ctx, MetricDiscardedTooLarge, 1)
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPingTooLarge, len(payload), c.maxBodySize)
	}

	documentID := uuid.NewString()
	record, err := newPingRecord(documentID, c.uploadPath(name, documentID), payload, c.clock.Now())
	if err != nil {
		return "", err
	}
	if err := writePing(c.pendingDir, record); err != nil {
		return "", err
	}
	if c.scanned {
		c.queue = append(c.queue, documentID)
	}

	c.logger.Debug("ping stored", "ping", name, "document_id", documentID, "bytes", len(payload))
	return documentID, nil
}

func (c *Core) uploadPath(name, documentID string) string {
	return fmt.Sprintf("/submit/%s/%s/%d/%s", c.applicationID, name, pingSchemaVersion, documentID)
}

// HasPendingPings reports whether the pending directory holds any
// ping files.
func (c *Core) HasPendingPings() bool {
	entries, err := os.ReadDir(c.pendingDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if isDocumentID(entry.Name()) {
			return true
		}
	}
	return false
}

// PendingPings returns the document IDs of stored pings, oldest first.
// It scans the directory and applies the storage limits.
func (c *Core) PendingPings() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	c.scanLocked(context.Background())
	return append([]string(nil), c.queue...), nil
}

// GetUploadTask serves the next pending ping.
func (c *Core) GetUploadTask(ctx context.Context) upload.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return upload.DoneTask()
	}
	if !c.scanned {
		c.scanLocked(ctx)
	}

	for len(c.queue) > 0 {
		documentID := c.queue[0]
		record, err := readPing(c.pendingDir, documentID)
		if err != nil {
			c.queue = c.queue[1:]
			if !errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("dropping unreadable ping", "document_id", documentID, "error", err)
				removePing(c.pendingDir, documentID)
			}
			continue
		}

		if wait, ok := c.limiter.take(); !ok {
			return upload.WaitTask(wait)
		}

		c.queue = c.queue[1:]
		c.inFlight[documentID] = struct{}{}
		ping, err := buildRequest(record, c.clock.Now())
		if err != nil {
			delete(c.inFlight, documentID)
			c.logger.Warn("dropping ping that cannot be encoded", "document_id", documentID, "error", err)
			removePing(c.pendingDir, documentID)
			continue
		}
		return upload.UploadTask(ping)
	}

	// The next cycle rescans, picking up pings deferred by this one.
	c.scanned = false
	return upload.DoneTask()
}

// ReportUploadResult applies an upload outcome to the stored ping.
func (c *Core) ReportUploadResult(ctx context.Context, documentID string, result upload.Result) upload.Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inFlight[documentID]; !ok {
		c.logger.Warn("result for a ping that is not in flight", "document_id", documentID, "result", result.String())
	}
	delete(c.inFlight, documentID)

	switch upload.Classify(result) {
	case upload.Delivered:
		removePing(c.pendingDir, documentID)
		c.recordLocked(ctx, MetricPingsDelivered, 1)
	case upload.Discarded:
		removePing(c.pendingDir, documentID)
		c.recordLocked(ctx, MetricPingsRejected, 1)
	case upload.Retryable:
		c.recordLocked(ctx, MetricUploadFailure, 1)
	case upload.Declined:
		return upload.End
	}
	return upload.Next
}

// RecordCounter adds delta to a counter metric. It is dropped while
// recording is off.
func (c *Core) RecordCounter(metricID string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(context.Background(), metricID, delta)
}

func (c *Core) recordLocked(ctx context.Context, metricID string, delta int64) {
	if !c.recording || c.counters == nil {
		return
	}
	if err := addCounter(ctx, c.counters, metricID, delta); err != nil {
		c.logger.Error("recording counter", "metric", metricID, "error", err)
	}
}

// Counters returns every recorded counter.
func (c *Core) Counters(ctx context.Context) (map[string]int64, error) {
	c.mu.Lock()
	pool := c.counters
	c.mu.Unlock()
	if pool == nil {
		return nil, ErrNotInitialized
	}
	return readCounters(ctx, pool)
}

// SetUploadEnabled toggles upload and recording at runtime.
func (c *Core) SetUploadEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadEnabled = enabled
	c.recording = enabled && c.counters != nil
}

// DataDir returns the directory the core stores into.
func (c *Core) DataDir() string {
	return c.dataDir
}

// Close releases the counter store. The core must be initialized
// again before further use.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initialized = false
	c.scanned = false
	c.queue = nil
	if c.counters == nil {
		return nil
	}
	err := c.counters.Close()
	c.counters = nil
	return err
}
