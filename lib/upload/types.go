// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskKind discriminates Task.
type TaskKind int

const (
	// TaskDone means no work is available right now.
	TaskDone TaskKind = iota
	// TaskUpload carries a ping to send.
	TaskUpload
	// TaskWait asks the caller to pause before asking again.
	TaskWait
)

func (k TaskKind) String() string {
	switch k {
	case TaskDone:
		return "done"
	case TaskUpload:
		return "upload"
	case TaskWait:
		return "wait"
	}
	return fmt.Sprintf("TaskKind(%d)", int(k))
}

// PingRequest is a ping ready to send, as produced by the core.
type PingRequest struct {
	DocumentID   string
	Path         string
	Body         []byte
	Headers      map[string]string
	Capabilities []string
}

// PingName returns the ping name segment of a
// /submit/<app>/<ping>/<version>/<id> path, or "".
func (r PingRequest) PingName() string {
	segments := strings.Split(r.Path, "/")
	if len(segments) < 4 {
		return ""
	}
	return segments[3]
}

// IsDeletionRequest reports whether this is a deletion-request ping.
func (r PingRequest) IsDeletionRequest() bool {
	return r.PingName() == "deletion-request"
}

// Task is the core's answer to "what next?".
type Task struct {
	Kind TaskKind

	// Ping is set for TaskUpload.
	Ping PingRequest

	// Wait is set for TaskWait.
	Wait time.Duration
}

// UploadTask wraps a ping in a Task.
func UploadTask(ping PingRequest) Task {
	return Task{Kind: TaskUpload, Ping: ping}
}

// WaitTask asks the caller to wait d.
func WaitTask(d time.Duration) Task {
	return Task{Kind: TaskWait, Wait: d}
}

// DoneTask says there is nothing to do.
func DoneTask() Task {
	return Task{Kind: TaskDone}
}

// ResultKind discriminates Result.
type ResultKind int

const (
	// ResultHTTPStatus means the server answered with StatusCode.
	ResultHTTPStatus ResultKind = iota
	// ResultRecoverable means the request failed in a way worth
	// retrying later, such as a network error.
	ResultRecoverable
	// ResultUnrecoverable means the request can never succeed, such
	// as a malformed URL.
	ResultUnrecoverable
	// ResultIncapable means the uploader cannot meet the ping's
	// capability requirements.
	ResultIncapable
)

// Result is an uploader's outcome for one ping.
type Result struct {
	Kind       ResultKind
	StatusCode int
}

// StatusResult records an HTTP response status.
func StatusResult(code int) Result {
	return Result{Kind: ResultHTTPStatus, StatusCode: code}
}

// RecoverableFailure records a transient failure.
func RecoverableFailure() Result {
	return Result{Kind: ResultRecoverable}
}

// UnrecoverableFailure records a permanent failure.
func UnrecoverableFailure() Result {
	return Result{Kind: ResultUnrecoverable}
}

// Incapable records that the uploader declined the ping.
func Incapable() Result {
	return Result{Kind: ResultIncapable}
}

func (r Result) String() string {
	switch r.Kind {
	case ResultHTTPStatus:
		return fmt.Sprintf("http_status(%d)", r.StatusCode)
	case ResultRecoverable:
		return "recoverable_failure"
	case ResultUnrecoverable:
		return "unrecoverable_failure"
	case ResultIncapable:
		return "incapable"
	}
	return fmt.Sprintf("ResultKind(%d)", int(r.Kind))
}

// Outcome is what a Result means for its ping.
type Outcome int

const (
	// Delivered: 2xx.
	Delivered Outcome = iota
	// Discarded: 4xx or unrecoverable. The ping will never succeed.
	Discarded
	// Retryable: 5xx, other status classes, or recoverable failure.
	Retryable
	// Declined: the uploader is incapable.
	Declined
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Discarded:
		return "discarded"
	case Retryable:
		return "retryable"
	case Declined:
		return "declined"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify maps a Result to its Outcome.
func Classify(result Result) Outcome {
	switch result.Kind {
	case ResultHTTPStatus:
		switch {
		case result.StatusCode >= 200 && result.StatusCode < 300:
			return Delivered
		case result.StatusCode >= 400 && result.StatusCode < 500:
			return Discarded
		}
		return Retryable
	case ResultUnrecoverable:
		return Discarded
	case ResultIncapable:
		return Declined
	}
	return Retryable
}

// Action is the core's instruction after a report.
type Action int

const (
	// Next asks for another task.
	Next Action = iota
	// End stops the run.
	End
)

func (a Action) String() string {
	if a == End {
		return "end"
	}
	return "next"
}

// SubprocessSettings are applied when the core is initialized inside
// the upload worker. The worker must not start its own uploads or
// record anything new.
type SubprocessSettings struct {
	UploadEnabled bool
}

// Core is the telemetry core as seen by the orchestrator.
type Core interface {
	IsInitialized() bool
	InitializeForSubprocess(settings SubprocessSettings) bool
	GetUploadTask(ctx context.Context) Task
	ReportUploadResult(ctx context.Context, documentID string, result Result) Action
}

// Request is one HTTP upload.
type Request struct {
	URL          string
	Body         []byte
	Headers      map[string]string
	Capabilities []string
}

// Uploader sends one request. It reports failures through Result and
// never returns an error.
type Uploader interface {
	Upload(ctx context.Context, request Request) Result
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, request Request) Result

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, request Request) Result {
	return f(ctx, request)
}
