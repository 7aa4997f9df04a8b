// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/pingkit/lib/config"
	"github.com/bureau-foundation/pingkit/lib/localcore"
	"github.com/bureau-foundation/pingkit/lib/taskqueue"
	"github.com/bureau-foundation/pingkit/lib/upload"
	"github.com/bureau-foundation/pingkit/lib/worker"
)

// Upload and remove-data-dir tests re-execute the test binary as the
// worker host.
func TestMain(m *testing.M) {
	RunWorker(os.Args, WorkerHost{})
	os.Exit(m.Run())
}

type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// recordingUploader logs each request URL and answers with result.
type recordingUploader struct {
	events *eventLog
	result upload.Result
}

func (u *recordingUploader) Upload(ctx context.Context, request upload.Request) upload.Result {
	u.events.add("upload " + request.URL)
	return u.result
}

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	settings := config.Default()
	settings.DataDir = filepath.Join(t.TempDir(), "data")
	settings.ServerEndpoint = "https://telemetry.test"
	settings.AllowMultiprocessing = false
	return settings
}

func newTestClient(t *testing.T, settings *config.Config, uploader upload.Uploader) *Client {
	t.Helper()
	cfg := Config{Settings: settings}
	if uploader != nil {
		cfg.Uploader = "recording"
		cfg.Uploaders = map[string]upload.Uploader{"recording": uploader}
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { client.Shutdown(5 * time.Second) })
	return client
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without settings succeeded")
	}
	settings := testSettings(t)
	settings.MaxQueueSize = 0
	if _, err := New(Config{Settings: settings}); err == nil {
		t.Error("New with max_queue_size 0 succeeded")
	}
}

func TestNewStartsNothing(t *testing.T) {
	client := newTestClient(t, testSettings(t), nil)

	if state := client.worker.State(); state != worker.NotStarted {
		t.Errorf("worker state = %s, want not_started", state)
	}
	if client.dispatch.Last() != nil {
		t.Error("dispatcher has a handle before any dispatch")
	}
	if !client.queue.Queueing() {
		t.Error("queue is not queueing before Initialize")
	}
}

func TestSubmitQueuedUntilInitialize(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testSettings(t), nil)
	events := &eventLog{}

	client.Submit(ctx, "first", func(context.Context) error {
		events.add("first")
		return nil
	})
	client.Submit(ctx, "second", func(context.Context) error {
		events.add("second")
		return nil
	})
	if got := client.queue.Len(); got != 2 {
		t.Fatalf("queue length = %d, want 2", got)
	}
	if got := events.snapshot(); len(got) != 0 {
		t.Fatalf("operations ran before Initialize: %v", got)
	}

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := client.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	got := events.snapshot()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("events = %v, want [first second]", got)
	}
	if client.queue.Queueing() {
		t.Error("queue still queueing after Initialize")
	}
}

// seedPendingPing stores a ping the way a previous run would have left
// it and returns its document ID.
func seedPendingPing(t *testing.T, settings *config.Config) string {
	t.Helper()
	ctx := context.Background()
	seed, err := localcore.New(localcore.Config{
		DataDir:       settings.DataDir,
		ApplicationID: settings.ApplicationID,
		UploadEnabled: true,
	})
	if err != nil {
		t.Fatalf("localcore.New: %v", err)
	}
	if err := seed.Initialize(ctx); err != nil {
		t.Fatalf("seed Initialize: %v", err)
	}
	documentID, err := seed.SubmitPing(ctx, "metrics", []byte(`{"left":"over"}`))
	if err != nil {
		t.Fatalf("seed SubmitPing: %v", err)
	}
	seed.Close()
	return documentID
}

func TestInitializeReplaysPendingPingsAhead(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)

	documentID := seedPendingPing(t, settings)

	events := &eventLog{}
	client := newTestClient(t, settings, &recordingUploader{events: events, result: upload.StatusResult(200)})
	client.SetTestingMode(true)

	client.Submit(ctx, "user-work", func(context.Context) error {
		events.add("user-work")
		return nil
	})
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []string{
		"upload https://telemetry.test/submit/pingkit/metrics/1/" + documentID,
		"user-work",
	}
	got := events.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Errorf("event %d = %q, want %q", index, got[index], want[index])
		}
	}
	if client.Core().HasPendingPings() {
		t.Error("replayed ping still pending after a 200")
	}
}

func TestInitializeReplaysWithFullBacklog(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)
	settings.MaxQueueSize = 3
	documentID := seedPendingPing(t, settings)

	events := &eventLog{}
	client := newTestClient(t, settings, &recordingUploader{events: events, result: upload.StatusResult(200)})
	client.SetTestingMode(true)

	for index := 0; index < 3; index++ {
		client.Submit(ctx, "user-work", func(context.Context) error {
			events.add("user-work")
			return nil
		})
	}
	if got := client.queue.Len(); got != 3 {
		t.Fatalf("queue length = %d, want 3", got)
	}
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	got := events.snapshot()
	want := "upload https://telemetry.test/submit/pingkit/metrics/1/" + documentID
	if len(got) != 4 || got[0] != want {
		t.Fatalf("events = %v, want the upload followed by three user-work", got)
	}
	if client.Core().HasPendingPings() {
		t.Error("ping left by the previous run still pending after Initialize")
	}
	if got := client.queue.Overflow(); got != 0 {
		t.Errorf("overflow = %d, want 0", got)
	}
}

func TestSubmitPingUploadsInline(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	client := newTestClient(t, testSettings(t), &recordingUploader{events: events, result: upload.StatusResult(200)})
	client.SetTestingMode(true)

	client.SubmitPing(ctx, "baseline", []byte(`{"seq":1}`))
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	got := events.snapshot()
	if len(got) != 1 || !strings.HasPrefix(got[0], "upload https://telemetry.test/submit/pingkit/baseline/1/") {
		t.Fatalf("events = %v, want one baseline upload", got)
	}
	if client.Core().HasPendingPings() {
		t.Error("ping still pending after upload")
	}
}

func TestSubmitPingWithUploadDisabled(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)
	settings.UploadEnabled = false
	events := &eventLog{}
	client := newTestClient(t, settings, &recordingUploader{events: events, result: upload.StatusResult(200)})
	client.SetTestingMode(true)

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client.SubmitPing(ctx, "metrics", []byte(`{}`))

	if got := events.snapshot(); len(got) != 0 {
		t.Errorf("events = %v, want no uploads", got)
	}
	if client.Core().HasPendingPings() {
		t.Error("ping stored with upload disabled")
	}
}

func TestSubmitPingUploadsFromWorkerProcess(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()
	settings := testSettings(t)
	settings.ServerEndpoint = server.URL
	settings.AllowMultiprocessing = true
	client := newTestClient(t, settings, nil)

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client.SubmitPing(ctx, "events", []byte(`{"events":[]}`))
	if err := client.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	client.WaitForUploads()

	handle := client.dispatch.Last()
	if handle == nil {
		t.Fatal("no upload was dispatched")
	}
	if handle.Pid() == 0 {
		t.Error("upload ran inline, want a worker process")
	}
	if code := handle.Wait(); code != 0 {
		t.Errorf("upload worker exit code = %d, want 0", code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || !strings.HasPrefix(paths[0], "/submit/pingkit/events/1/") {
		t.Errorf("server saw %v, want one events ping", paths)
	}
	if client.Core().HasPendingPings() {
		t.Error("ping still pending after the worker uploaded it")
	}
}

func TestOverflowReportedAfterInitialize(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)
	settings.MaxQueueSize = 5
	client := newTestClient(t, settings, nil)

	for index := 0; index < 7; index++ {
		client.Submit(ctx, "noop", func(context.Context) error { return nil })
	}
	if got := client.queue.Overflow(); got != 2 {
		t.Fatalf("overflow = %d, want 2", got)
	}

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := client.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	counters, err := client.Core().(*localcore.Core).Counters(ctx)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if got := counters[taskqueue.OverflowMetric]; got != 7 {
		t.Errorf("%s = %d, want 7", taskqueue.OverflowMetric, got)
	}
}

func TestLaunchSubmitsEachCall(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testSettings(t), nil)
	client.SetTestingMode(true)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	calls := 0
	record := client.Launch("record", func(context.Context) error {
		calls++
		return nil
	})
	for index := 0; index < 3; index++ {
		record(ctx)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSubmitIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testSettings(t), nil)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	events := &eventLog{}
	client.Submit(ctx, "fails", func(context.Context) error { return errors.New("broken") })
	client.Submit(ctx, "panics", func(context.Context) error { panic("boom") })
	client.Submit(ctx, "survivor", func(context.Context) error {
		events.add("survivor")
		return nil
	})
	if err := client.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	if got := events.snapshot(); len(got) != 1 {
		t.Errorf("events = %v, want the survivor to run", got)
	}
}

func TestTestResetRemovesDataDir(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)
	events := &eventLog{}
	client := newTestClient(t, settings, &recordingUploader{events: events, result: upload.RecoverableFailure()})
	client.SetTestingMode(true)

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client.SubmitPing(ctx, "metrics", []byte(`{}`))
	if !client.Core().HasPendingPings() {
		t.Fatal("recoverable failure should leave the ping pending")
	}

	if err := client.TestReset(ctx); err != nil {
		t.Fatalf("TestReset: %v", err)
	}
	if _, err := os.Stat(settings.DataDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("data directory survived TestReset: %v", err)
	}
	if !client.queue.Queueing() {
		t.Error("queueing not restored by TestReset")
	}

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize after reset: %v", err)
	}
	client.SubmitPing(ctx, "metrics", []byte(`{}`))
	if !client.Core().HasPendingPings() {
		t.Error("no ping stored after re-initialization")
	}
}

func TestShutdownStopsWorkerAndClosesCore(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testSettings(t), nil)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	client.Submit(ctx, "noop", func(context.Context) error { return nil })

	client.Shutdown(5 * time.Second)
	if state := client.worker.State(); state != worker.Stopped {
		t.Errorf("worker state = %s, want stopped", state)
	}
	if client.Core().IsInitialized() {
		t.Error("core still initialized after Shutdown")
	}
}
