// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/pingkit/lib/clock"
)

const (
	// DefaultMaxRecoverableFailures ends a run after this many
	// recoverable failures.
	DefaultMaxRecoverableFailures = 3

	// DefaultMaxWaitAttempts ends a run after this many Wait tasks.
	DefaultMaxWaitAttempts = 3
)

// Config configures an Orchestrator.
type Config struct {
	// Core supplies tasks and receives results. Required.
	Core Core

	// Uploader sends pings. Required.
	Uploader Uploader

	// Endpoint is prefixed to each ping path, e.g.
	// "https://incoming.telemetry.mozilla.org". Required.
	Endpoint string

	// MaxRecoverableFailures defaults to 3.
	MaxRecoverableFailures int

	// MaxWaitAttempts defaults to 3.
	MaxWaitAttempts int

	// Clock times Wait tasks. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives per-ping outcomes. Nil discards them.
	Logger *slog.Logger
}

// Orchestrator runs upload cycles against one core.
type Orchestrator struct {
	core                   Core
	uploader               Uploader
	endpoint               string
	maxRecoverableFailures int
	maxWaitAttempts        int
	clock                  clock.Clock
	logger                 *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("upload: Core is required")
	}
	if cfg.Uploader == nil {
		return nil, fmt.Errorf("upload: Uploader is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("upload: Endpoint is required")
	}
	if cfg.MaxRecoverableFailures <= 0 {
		cfg.MaxRecoverableFailures = DefaultMaxRecoverableFailures
	}
	if cfg.MaxWaitAttempts <= 0 {
		cfg.MaxWaitAttempts = DefaultMaxWaitAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		core:                   cfg.Core,
		uploader:               cfg.Uploader,
		endpoint:               strings.TrimRight(cfg.Endpoint, "/"),
		maxRecoverableFailures: cfg.MaxRecoverableFailures,
		maxWaitAttempts:        cfg.MaxWaitAttempts,
		clock:                  cfg.Clock,
		logger:                 cfg.Logger,
	}, nil
}

// Run performs one upload cycle and reports whether it ended cleanly.
// It returns false when the core cannot be initialized, a limit trips,
// or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) bool {
	if !o.core.IsInitialized() {
		if !o.core.InitializeForSubprocess(SubprocessSettings{UploadEnabled: false}) {
			o.logger.Error("core could not be initialized for upload")
			return false
		}
	}

	recoverableFailures := 0
	waitAttempts := 0
	uploaded := 0

	for {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("upload cycle cancelled", "error", err, "uploaded", uploaded)
			return false
		}

		task := o.core.GetUploadTask(ctx)
		switch task.Kind {
		case TaskUpload:
			result := o.uploader.Upload(ctx, Request{
				URL:          o.endpoint + task.Ping.Path,
				Body:         task.Ping.Body,
				Headers:      task.Ping.Headers,
				Capabilities: task.Ping.Capabilities,
			})
			uploaded++
			action := o.core.ReportUploadResult(ctx, task.Ping.DocumentID, result)
			outcome := Classify(result)
			o.logResult(task.Ping, result, outcome)

			if outcome == Retryable {
				recoverableFailures++
				if recoverableFailures >= o.maxRecoverableFailures {
					o.logger.Warn("too many recoverable upload failures, ending cycle",
						"failures", recoverableFailures,
						"uploaded", uploaded,
					)
					return false
				}
			}
			if action == End {
				o.logger.Debug("core ended upload cycle", "uploaded", uploaded)
				return true
			}

		case TaskWait:
			waitAttempts++
			if waitAttempts > o.maxWaitAttempts {
				o.logger.Warn("too many upload wait attempts, ending cycle",
					"wait_attempts", waitAttempts,
					"uploaded", uploaded,
				)
				return false
			}
			o.logger.Debug("upload throttled", "wait", task.Wait, "attempt", waitAttempts)
			select {
			case <-o.clock.After(task.Wait):
			case <-ctx.Done():
				o.logger.Warn("upload wait cancelled", "error", ctx.Err())
				return false
			}

		case TaskDone:
			o.logger.Debug("upload cycle finished", "uploaded", uploaded)
			return true

		default:
			o.logger.Error("unknown upload task", "kind", task.Kind.String())
			return false
		}
	}
}

func (o *Orchestrator) logResult(ping PingRequest, result Result, outcome Outcome) {
	attributes := []any{
		"document_id", ping.DocumentID,
		"ping", ping.PingName(),
		"result", result.String(),
	}
	if ping.IsDeletionRequest() {
		attributes = append(attributes, "deletion_request", true)
	}
	switch outcome {
	case Delivered:
		o.logger.Debug("ping uploaded", attributes...)
	case Discarded:
		o.logger.Warn("ping rejected, discarding", attributes...)
	case Retryable:
		o.logger.Info("ping upload failed, will retry", attributes...)
	case Declined:
		o.logger.Info("uploader cannot send ping", attributes...)
	}
}
