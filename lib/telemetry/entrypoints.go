// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/pingkit/lib/codec"
	"github.com/bureau-foundation/pingkit/lib/config"
	"github.com/bureau-foundation/pingkit/lib/localcore"
	"github.com/bureau-foundation/pingkit/lib/procdispatch"
	"github.com/bureau-foundation/pingkit/lib/upload"
)

// Entry points registered by every worker host.
const (
	EntrypointUpload        procdispatch.Entrypoint = "upload"
	EntrypointRemoveDataDir procdispatch.Entrypoint = "remove-data-dir"
)

// HTTPUploaderName selects upload.HTTPUploader.
const HTTPUploaderName = "http"

// UploadArgs carries everything an upload worker needs to rebuild the
// core and run one cycle.
type UploadArgs struct {
	DataDir                  string        `cbor:"data_dir"`
	ApplicationID            string        `cbor:"application_id"`
	Endpoint                 string        `cbor:"endpoint"`
	Uploader                 string        `cbor:"uploader,omitempty"`
	MaxRecoverableFailures   int           `cbor:"max_recoverable_failures"`
	MaxWaitAttempts          int           `cbor:"max_wait_attempts"`
	RequestTimeout           time.Duration `cbor:"request_timeout"`
	MaxPingBodySize          int64         `cbor:"max_ping_body_size"`
	MaxPendingDirectoryBytes int64         `cbor:"max_pending_directory_bytes"`
	RateLimitMaxPings        int           `cbor:"rate_limit_max_pings"`
	RateLimitInterval        time.Duration `cbor:"rate_limit_interval"`
}

// NewUploadArgs derives upload arguments from configuration.
func NewUploadArgs(settings *config.Config) UploadArgs {
	return UploadArgs{
		DataDir:                  settings.DataDir,
		ApplicationID:            settings.ApplicationID,
		Endpoint:                 settings.ServerEndpoint,
		MaxRecoverableFailures:   settings.Upload.MaxRecoverableFailures,
		MaxWaitAttempts:          settings.Upload.MaxWaitAttempts,
		RequestTimeout:           settings.Upload.RequestTimeout.Std(),
		MaxPingBodySize:          settings.Upload.MaxPingBodySize,
		MaxPendingDirectoryBytes: settings.Upload.MaxPendingDirectoryBytes,
		RateLimitMaxPings:        settings.Upload.RateLimit.MaxPings,
		RateLimitInterval:        settings.Upload.RateLimit.Interval.Std(),
	}
}

func (a UploadArgs) coreConfig(logger *slog.Logger) localcore.Config {
	return localcore.Config{
		DataDir:                  a.DataDir,
		ApplicationID:            a.ApplicationID,
		MaxPingBodySize:          a.MaxPingBodySize,
		MaxPendingDirectoryBytes: a.MaxPendingDirectoryBytes,
		RateLimit: localcore.RateLimit{
			MaxPings: a.RateLimitMaxPings,
			Interval: a.RateLimitInterval,
		},
		Logger: logger,
	}
}

// RemoveDataDirArgs names the directory the remove-data-dir entry
// point deletes.
type RemoveDataDirArgs struct {
	DataDir string `cbor:"data_dir"`
}

// WorkerHost supplies the pieces entry points need inside a worker.
// The zero value serves uploads from a fresh local core over HTTP.
type WorkerHost struct {
	// OpenCore returns the core an upload cycle drains. The caller
	// keeps ownership of the returned core. Nil means a local core is
	// built from the args and closed after the cycle.
	OpenCore func(args UploadArgs, logger *slog.Logger) (upload.Core, error)

	// Uploaders maps names carried in UploadArgs.Uploader to
	// implementations. "http" and the empty name fall back to
	// upload.HTTPUploader when absent.
	Uploaders map[string]upload.Uploader
}

// Registry returns a registry with both entry points bound to h.
func (h WorkerHost) Registry() *procdispatch.Registry {
	registry := procdispatch.NewRegistry()
	registry.Register(EntrypointUpload, h.runUpload)
	registry.Register(EntrypointRemoveDataDir, runRemoveDataDir)
	return registry
}

// RunWorker serves a worker invocation and exits; for any other
// arguments it returns immediately.
func RunWorker(args []string, host WorkerHost) {
	procdispatch.RunWorker(args, host.Registry())
}

func (h WorkerHost) runUpload(ctx context.Context, raw codec.RawMessage, logger *slog.Logger) bool {
	var args UploadArgs
	if err := procdispatch.DecodeArgs(raw, &args); err != nil {
		logger.Error("unusable upload arguments", "error", err)
		return false
	}

	uploader, err := h.uploader(args, logger)
	if err != nil {
		logger.Error("no uploader", "error", err)
		return false
	}

	var core upload.Core
	if h.OpenCore != nil {
		core, err = h.OpenCore(args, logger)
	} else {
		var local *localcore.Core
		local, err = localcore.New(args.coreConfig(logger))
		if err == nil {
			defer local.Close()
			core = local
		}
	}
	if err != nil {
		logger.Error("opening core for upload", "error", err)
		return false
	}

	orchestrator, err := upload.New(upload.Config{
		Core:                   core,
		Uploader:               uploader,
		Endpoint:               args.Endpoint,
		MaxRecoverableFailures: args.MaxRecoverableFailures,
		MaxWaitAttempts:        args.MaxWaitAttempts,
		Logger:                 logger,
	})
	if err != nil {
		logger.Error("creating upload orchestrator", "error", err)
		return false
	}
	return orchestrator.Run(ctx)
}

func (h WorkerHost) uploader(args UploadArgs, logger *slog.Logger) (upload.Uploader, error) {
	if uploader, ok := h.Uploaders[args.Uploader]; ok {
		return uploader, nil
	}
	if args.Uploader == "" || args.Uploader == HTTPUploaderName {
		return upload.NewHTTPUploader(args.RequestTimeout, logger), nil
	}
	return nil, fmt.Errorf("unknown uploader %q", args.Uploader)
}

func runRemoveDataDir(ctx context.Context, raw codec.RawMessage, logger *slog.Logger) bool {
	var args RemoveDataDirArgs
	if err := procdispatch.DecodeArgs(raw, &args); err != nil {
		logger.Error("unusable remove-data-dir arguments", "error", err)
		return false
	}

	directory := filepath.Clean(args.DataDir)
	if args.DataDir == "" || !filepath.IsAbs(directory) || directory == string(filepath.Separator) {
		logger.Error("refusing to remove data directory", "data_dir", args.DataDir)
		return false
	}
	if err := os.RemoveAll(directory); err != nil {
		logger.Error("removing data directory", "data_dir", directory, "error", err)
		return false
	}
	logger.Debug("data directory removed", "data_dir", directory)
	return true
}
