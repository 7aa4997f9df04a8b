// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/pingkit/lib/clock"
	"github.com/bureau-foundation/pingkit/lib/testutil"
)

type report struct {
	documentID string
	result     Result
}

// fakeCore serves scripted tasks, then Done. With endless set it
// serves a fresh upload task forever. Every report gets action.
type fakeCore struct {
	mu          sync.Mutex
	initialized bool
	initOK      bool
	initCalls   []SubprocessSettings
	tasks       []Task
	endless     bool
	action      Action
	served      int
	reports     []report
}

func (c *fakeCore) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *fakeCore) InitializeForSubprocess(settings SubprocessSettings) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCalls = append(c.initCalls, settings)
	c.initialized = c.initOK
	return c.initOK
}

func (c *fakeCore) GetUploadTask(context.Context) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.served++
	if c.endless {
		return UploadTask(pingFor(fmt.Sprintf("doc-%d", c.served), "metrics"))
	}
	if len(c.tasks) == 0 {
		return DoneTask()
	}
	task := c.tasks[0]
	c.tasks = c.tasks[1:]
	return task
}

func (c *fakeCore) ReportUploadResult(_ context.Context, documentID string, result Result) Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report{documentID: documentID, result: result})
	return c.action
}

func (c *fakeCore) reported() []report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report(nil), c.reports...)
}

// scriptedUploader returns results in order, repeating the last one.
type scriptedUploader struct {
	mu       sync.Mutex
	results  []Result
	requests []Request
}

func (u *scriptedUploader) Upload(_ context.Context, request Request) Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, request)
	index := len(u.requests) - 1
	if index >= len(u.results) {
		index = len(u.results) - 1
	}
	return u.results[index]
}

func (u *scriptedUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func pingFor(documentID, name string) PingRequest {
	return PingRequest{
		DocumentID: documentID,
		Path:       "/submit/test-app/" + name + "/1/" + documentID,
		Body:       []byte(`{}`),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

func uploads(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = UploadTask(pingFor(fmt.Sprintf("doc-%d", i), "metrics"))
	}
	return tasks
}

func newTestOrchestrator(t *testing.T, core Core, uploader Uploader, fake clock.Clock) *Orchestrator {
	t.Helper()
	orchestrator, err := New(Config{
		Core:     core,
		Uploader: uploader,
		Endpoint: "https://incoming.example.com/",
		Clock:    fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orchestrator
}

func TestNewValidates(t *testing.T) {
	core := &fakeCore{}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}
	for _, cfg := range []Config{
		{Uploader: uploader, Endpoint: "http://x"},
		{Core: core, Endpoint: "http://x"},
		{Core: core, Uploader: uploader},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) succeeded", cfg)
		}
	}
}

func TestDeliversAllPings(t *testing.T) {
	core := &fakeCore{initialized: true, tasks: uploads(4)}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}

	if !newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}

	reports := core.reported()
	if len(reports) != 4 {
		t.Fatalf("reported %d results, want 4", len(reports))
	}
	for i, report := range reports {
		if report.documentID != fmt.Sprintf("doc-%d", i) {
			t.Errorf("report %d for %s", i, report.documentID)
		}
	}
	if got := uploader.requests[0].URL; got != "https://incoming.example.com/submit/test-app/metrics/1/doc-0" {
		t.Errorf("URL = %q", got)
	}
}

func TestRecoverableFailureBound(t *testing.T) {
	for _, result := range []Result{StatusResult(500), StatusResult(503), RecoverableFailure(), StatusResult(302), StatusResult(101)} {
		t.Run(result.String(), func(t *testing.T) {
			core := &fakeCore{initialized: true, endless: true}
			uploader := &scriptedUploader{results: []Result{result}}

			if newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
				t.Fatal("Run() = true, want false")
			}
			if got := uploader.count(); got != DefaultMaxRecoverableFailures {
				t.Errorf("uploaded %d times, want %d", got, DefaultMaxRecoverableFailures)
			}
			if got := len(core.reported()); got != DefaultMaxRecoverableFailures {
				t.Errorf("reported %d results, want every attempt", got)
			}
		})
	}
}

func TestClientErrorsAreNotCounted(t *testing.T) {
	core := &fakeCore{initialized: true, tasks: uploads(10)}
	uploader := &scriptedUploader{results: []Result{StatusResult(404)}}

	if !newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = false with only 4xx responses, want true")
	}
	if got := uploader.count(); got != 10 {
		t.Errorf("uploaded %d pings, want all 10", got)
	}
}

func TestUnrecoverableFailuresAreNotCounted(t *testing.T) {
	core := &fakeCore{initialized: true, tasks: uploads(6)}
	uploader := &scriptedUploader{results: []Result{UnrecoverableFailure()}}

	if !newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if got := uploader.count(); got != 6 {
		t.Errorf("uploaded %d pings, want 6", got)
	}
}

func TestMixedResultsCountOnlyRetryable(t *testing.T) {
	core := &fakeCore{initialized: true, tasks: uploads(10)}
	uploader := &scriptedUploader{results: []Result{
		StatusResult(500), StatusResult(404), StatusResult(200),
		RecoverableFailure(), StatusResult(400), StatusResult(502),
		StatusResult(200),
	}}

	if newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = true, want false on third retryable failure")
	}
	if got := uploader.count(); got != 6 {
		t.Errorf("uploaded %d pings, want 6", got)
	}
}

func TestIncapableEndsWhenCoreSaysEnd(t *testing.T) {
	core := &fakeCore{initialized: true, tasks: uploads(3), action: End}
	uploader := &scriptedUploader{results: []Result{Incapable()}}

	if !newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if got := uploader.count(); got != 1 {
		t.Errorf("uploaded %d pings after End, want 1", got)
	}
}

func TestWaitThenDone(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	start := fake.Now()
	core := &fakeCore{initialized: true, tasks: []Task{
		WaitTask(10 * time.Millisecond),
		WaitTask(10 * time.Millisecond),
		WaitTask(10 * time.Millisecond),
	}}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}
	orchestrator := newTestOrchestrator(t, core, uploader, fake)

	result := make(chan bool, 1)
	go func() { result <- orchestrator.Run(context.Background()) }()

	for range 3 {
		fake.WaitForTimers(1)
		fake.Advance(10 * time.Millisecond)
	}

	if !testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run") {
		t.Error("Run() = false after three waits and Done, want true")
	}
	if slept := fake.Now().Sub(start); slept != 30*time.Millisecond {
		t.Errorf("slept %v, want 30ms", slept)
	}
	if uploader.count() != 0 {
		t.Error("uploaded without an upload task")
	}
}

func TestTooManyWaits(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	core := &fakeCore{initialized: true, tasks: []Task{
		WaitTask(time.Second),
		WaitTask(time.Second),
		WaitTask(time.Second),
		WaitTask(time.Second),
		UploadTask(pingFor("never", "metrics")),
	}}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}
	orchestrator := newTestOrchestrator(t, core, uploader, fake)

	result := make(chan bool, 1)
	go func() { result <- orchestrator.Run(context.Background()) }()

	for range 3 {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
	}

	if testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run") {
		t.Error("Run() = true after four waits, want false")
	}
	if uploader.count() != 0 {
		t.Error("uploaded after exceeding the wait limit")
	}
}

func TestWaitAttemptsSpanUploads(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	tasks := []Task{}
	for i := range 4 {
		tasks = append(tasks, WaitTask(time.Second), UploadTask(pingFor(fmt.Sprintf("doc-%d", i), "metrics")))
	}
	core := &fakeCore{initialized: true, tasks: tasks}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}
	orchestrator := newTestOrchestrator(t, core, uploader, fake)

	result := make(chan bool, 1)
	go func() { result <- orchestrator.Run(context.Background()) }()

	for range 3 {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
	}

	if testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run") {
		t.Error("Run() = true, want false: waits are counted across the whole cycle")
	}
	if got := uploader.count(); got != 3 {
		t.Errorf("uploaded %d pings, want 3", got)
	}
}

func TestCancelDuringWait(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	core := &fakeCore{initialized: true, tasks: []Task{WaitTask(time.Hour)}}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}
	orchestrator := newTestOrchestrator(t, core, uploader, fake)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() { result <- orchestrator.Run(ctx) }()

	fake.WaitForTimers(1)
	cancel()

	if testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run") {
		t.Error("Run() = true after cancellation, want false")
	}
}

func TestInitializesUninitializedCore(t *testing.T) {
	core := &fakeCore{initOK: true, tasks: uploads(1)}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}

	if !newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if len(core.initCalls) != 1 || core.initCalls[0].UploadEnabled {
		t.Errorf("InitializeForSubprocess calls = %+v, want one with upload disabled", core.initCalls)
	}
}

func TestInitializationFailure(t *testing.T) {
	core := &fakeCore{initOK: false, tasks: uploads(1)}
	uploader := &scriptedUploader{results: []Result{StatusResult(200)}}

	if newTestOrchestrator(t, core, uploader, nil).Run(context.Background()) {
		t.Fatal("Run() = true with failed initialization, want false")
	}
	if core.served != 0 {
		t.Errorf("fetched %d tasks from an uninitialized core", core.served)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		result Result
		want   Outcome
	}{
		{StatusResult(200), Delivered},
		{StatusResult(204), Delivered},
		{StatusResult(299), Delivered},
		{StatusResult(400), Discarded},
		{StatusResult(413), Discarded},
		{StatusResult(499), Discarded},
		{StatusResult(500), Retryable},
		{StatusResult(599), Retryable},
		{StatusResult(100), Retryable},
		{StatusResult(301), Retryable},
		{RecoverableFailure(), Retryable},
		{UnrecoverableFailure(), Discarded},
		{Incapable(), Declined},
	}
	for _, tt := range tests {
		if got := Classify(tt.result); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.result, got, tt.want)
		}
	}
}

func TestDeletionRequestDetection(t *testing.T) {
	if !pingFor("a", "deletion-request").IsDeletionRequest() {
		t.Error("deletion-request path not detected")
	}
	if pingFor("a", "metrics").IsDeletionRequest() {
		t.Error("metrics ping detected as deletion request")
	}
	if (PingRequest{Path: "/short"}).PingName() != "" {
		t.Error("short path produced a ping name")
	}
}
