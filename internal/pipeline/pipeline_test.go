package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/curator/internal/admission"
	"github.com/vietddude/curator/internal/core/domain"
	"github.com/vietddude/curator/internal/infra/fetch"
	"github.com/vietddude/curator/internal/infra/fetch/credential"
	"github.com/vietddude/curator/internal/infra/fetch/identity"
	"github.com/vietddude/curator/internal/infra/fetch/ratelimit"
	"github.com/vietddude/curator/internal/infra/fetch/retry"
	redisclient "github.com/vietddude/curator/internal/infra/redis"
	"github.com/vietddude/curator/internal/infra/storage/memory"
)

const testURL = "https://youtu.be/dQw4w9WgXcQ"

// fakeSpill is an in-memory FailedFetchQueue.
type fakeSpill struct {
	mu      sync.Mutex
	entries []*redisclient.FailedFetch
}

func (f *fakeSpill) Add(_ context.Context, url, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.URL == url {
			e.RetryCount++
			e.Reason = reason
			return nil
		}
	}
	f.entries = append(f.entries, &redisclient.FailedFetch{URL: url, Reason: reason})
	return nil
}

func (f *fakeSpill) GetNext(context.Context) (*redisclient.FailedFetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	e := *f.entries[0]
	return &e, nil
}

func (f *fakeSpill) MarkResolved(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.URL != url {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeSpill) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// stubRunner answers metadata dumps with canned JSON and simulates a
// download by creating the media file the output template points at.
// The first failuresLeft calls fail with a transient error.
type stubRunner struct {
	calls        int
	failuresLeft int
}

func (r *stubRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	r.calls++
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return nil, errors.New("connection reset by peer")
	}
	for _, a := range args {
		if a == "--dump-json" {
			payload := map[string]any{
				"id":          "dQw4w9WgXcQ",
				"title":       "test video",
				"uploader":    "tester",
				"duration":    212.0,
				"webpage_url": testURL,
			}
			return json.Marshal(payload)
		}
	}
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			path := strings.Replace(args[i+1], "%(ext)s", "mp4", 1)
			if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
	return nil, nil
}

func testPipeline(t *testing.T, runners map[string]TaskRunner) (*Pipeline, *memory.ItemRepo, *stubRunner) {
	t.Helper()

	runner := &stubRunner{}
	fetcher := fetch.NewFetcher(
		fetch.Config{RatePeriod: time.Millisecond},
		ratelimit.NewLimiter(100, time.Second),
		retry.NewPolicy(1, time.Millisecond, 2, time.Second),
		credential.NewPool(3),
		identity.NewRotator(),
		runner,
	)
	repo := memory.NewItemRepo()
	p := NewPipeline(
		Config{MediaDir: t.TempDir(), PollInterval: 5 * time.Millisecond},
		fetcher, repo, admission.NewQueue(), runners, nil,
	)
	return p, repo, runner
}

func testPipelineWithSpill(t *testing.T, spill FailedFetchQueue) (*Pipeline, *memory.ItemRepo, *stubRunner) {
	t.Helper()

	runner := &stubRunner{}
	fetcher := fetch.NewFetcher(
		fetch.Config{RatePeriod: time.Millisecond},
		ratelimit.NewLimiter(100, time.Second),
		retry.NewPolicy(1, time.Millisecond, 2, time.Second),
		credential.NewPool(3),
		identity.NewRotator(),
		runner,
	)
	repo := memory.NewItemRepo()
	p := NewPipeline(
		Config{MediaDir: t.TempDir(), PollInterval: 5 * time.Millisecond, RequeueInterval: 10 * time.Millisecond},
		fetcher, repo, admission.NewQueue(), nil, spill,
	)
	return p, repo, runner
}

func TestIngestSavesItem(t *testing.T) {
	p, repo, _ := testPipeline(t, nil)

	item, err := p.Ingest(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if item.ID != "dQw4w9WgXcQ" {
		t.Errorf("item.ID = %q, want dQw4w9WgXcQ", item.ID)
	}
	if item.Status != domain.ItemStatusFetched {
		t.Errorf("item.Status = %q, want %q", item.Status, domain.ItemStatusFetched)
	}
	if filepath.Base(item.MediaPath) != "dQw4w9WgXcQ.mp4" {
		t.Errorf("item.MediaPath = %q, want dQw4w9WgXcQ.mp4", item.MediaPath)
	}
	if _, err := os.Stat(item.MediaPath); err != nil {
		t.Errorf("media file missing: %v", err)
	}

	saved, err := repo.GetByURL(context.Background(), testURL)
	if err != nil {
		t.Fatalf("GetByURL() error = %v", err)
	}
	if saved.Title != "test video" {
		t.Errorf("saved.Title = %q, want %q", saved.Title, "test video")
	}
}

func TestIngestSkipsKnownURL(t *testing.T) {
	p, repo, runner := testPipeline(t, nil)

	if err := repo.Save(context.Background(), &domain.Item{
		ID:     "dQw4w9WgXcQ",
		URL:    testURL,
		Status: domain.ItemStatusTranscribed,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	item, err := p.Ingest(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if item.Status != domain.ItemStatusTranscribed {
		t.Errorf("item.Status = %q, want stored status back", item.Status)
	}
	if runner.calls != 0 {
		t.Errorf("runner called %d times for known URL, want 0", runner.calls)
	}
}

func TestSubmitRejectsUnknownCategory(t *testing.T) {
	p, _, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(context.Context, Task) error { return nil }),
	})

	if _, err := p.Submit(context.Background(), "paint", 1, testURL); err == nil {
		t.Fatal("Submit() with unknown category succeeded, want error")
	}
}

func TestSubmitRejectsUnknownItem(t *testing.T) {
	p, _, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(context.Context, Task) error { return nil }),
	})

	if _, err := p.Submit(context.Background(), "transcribe", 1, testURL); err == nil {
		t.Fatal("Submit() with unknown item succeeded, want error")
	}
}

func TestSubmitReportsPosition(t *testing.T) {
	p, repo, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(context.Context, Task) error { return nil }),
	})
	if err := repo.Save(context.Background(), &domain.Item{ID: "a", URL: testURL}); err != nil {
		t.Fatal(err)
	}

	st, err := p.Submit(context.Background(), "transcribe", 1, testURL)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if st.State != admission.StateQueued || st.Position != 1 {
		t.Errorf("status = %+v, want queued at position 1", st)
	}

	st, err = p.Submit(context.Background(), "transcribe", 2, testURL)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if st.Position != 2 {
		t.Errorf("second requester position = %d, want 2", st.Position)
	}
}

func TestAdmitRunsHeadAndFreesSlot(t *testing.T) {
	done := make(chan Task, 1)
	p, repo, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(_ context.Context, task Task) error {
			done <- task
			return nil
		}),
	})
	ctx := context.Background()
	if err := repo.Save(ctx, &domain.Item{
		ID:        "dQw4w9WgXcQ",
		URL:       testURL,
		MediaPath: "/media/dQw4w9WgXcQ.mp4",
		Status:    domain.ItemStatusFetched,
	}); err != nil {
		t.Fatal(err)
	}

	p.queue.Enqueue("transcribe", 7, testURL)
	head, _ := p.queue.Head("transcribe")
	p.admit(ctx, "transcribe", head)

	task := <-done
	if task.RequesterID != 7 {
		t.Errorf("task.RequesterID = %d, want 7", task.RequesterID)
	}
	if task.MediaPath != "/media/dQw4w9WgXcQ.mp4" {
		t.Errorf("task.MediaPath = %q, want the stored media path", task.MediaPath)
	}
	if task.RunHandle == "" {
		t.Error("task.RunHandle is empty")
	}

	if _, occupied := p.queue.RunningSlot("transcribe"); occupied {
		t.Error("slot still occupied after admit returned")
	}
	item, err := repo.GetByURL(ctx, testURL)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.ItemStatusTranscribed {
		t.Errorf("item.Status = %q, want %q", item.Status, domain.ItemStatusTranscribed)
	}
}

func TestAdmitMarksItemFailed(t *testing.T) {
	p, repo, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(context.Context, Task) error {
			return os.ErrDeadlineExceeded
		}),
	})
	ctx := context.Background()
	if err := repo.Save(ctx, &domain.Item{ID: "dQw4w9WgXcQ", URL: testURL}); err != nil {
		t.Fatal(err)
	}

	p.queue.Enqueue("transcribe", 1, testURL)
	head, _ := p.queue.Head("transcribe")
	p.admit(ctx, "transcribe", head)

	item, err := repo.GetByURL(ctx, testURL)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.ItemStatusFailed {
		t.Errorf("item.Status = %q, want %q", item.Status, domain.ItemStatusFailed)
	}
	if item.Error == "" {
		t.Error("item.Error is empty after failed task")
	}
}

func TestRunPromotesQueuedTask(t *testing.T) {
	done := make(chan Task, 1)
	p, repo, _ := testPipeline(t, map[string]TaskRunner{
		"transcribe": RunnerFunc(func(_ context.Context, task Task) error {
			done <- task
			return nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := repo.Save(ctx, &domain.Item{ID: "dQw4w9WgXcQ", URL: testURL}); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	p.queue.Enqueue("transcribe", 3, testURL)

	select {
	case task := <-done:
		if task.RequesterID != 3 {
			t.Errorf("task.RequesterID = %d, want 3", task.RequesterID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued task was never promoted")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestExecRunnerSubstitutesPlaceholders(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args.txt")
	r := &ExecRunner{Command: []string{"sh", "-c", "printf '%s %s' \"$1\" \"$2\" > " + out, "runner", "{url}", "{id}"}}

	err := r.Run(context.Background(), Task{URL: testURL, ItemID: "abc"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != testURL+" abc" {
		t.Errorf("substituted args = %q, want %q", got, testURL+" abc")
	}
}

func TestIngestParksTransientFailure(t *testing.T) {
	spill := &fakeSpill{}
	p, _, runner := testPipelineWithSpill(t, spill)
	runner.failuresLeft = 5

	if _, err := p.Ingest(context.Background(), testURL); err == nil {
		t.Fatal("Ingest() succeeded, want transient failure")
	}
	if spill.len() != 1 {
		t.Fatalf("spill has %d entries, want 1", spill.len())
	}
	next, _ := spill.GetNext(context.Background())
	if next.URL != testURL {
		t.Errorf("parked URL = %q, want %q", next.URL, testURL)
	}
}

func TestIngestDoesNotParkInvalidURL(t *testing.T) {
	spill := &fakeSpill{}
	p, _, _ := testPipelineWithSpill(t, spill)

	if _, err := p.Ingest(context.Background(), "https://example.com/not-a-video"); err == nil {
		t.Fatal("Ingest() with invalid URL succeeded, want error")
	}
	if spill.len() != 0 {
		t.Errorf("spill has %d entries after invalid URL, want 0", spill.len())
	}
}

func TestIngestDoesNotParkExhaustedPool(t *testing.T) {
	spill := &fakeSpill{}
	p, _, runner := testPipelineWithSpill(t, spill)
	runner.failuresLeft = 0

	pool := p.fetcher.Pool()
	pool.Register("cookies/a.txt")
	for i := 0; i < 3; i++ {
		pool.RecordOutcome("cookies/a.txt", false)
	}

	_, err := p.Ingest(context.Background(), testURL)
	if !errors.Is(err, fetch.ErrPoolExhausted) {
		t.Fatalf("Ingest() error = %v, want ErrPoolExhausted", err)
	}
	if spill.len() != 0 {
		t.Errorf("spill has %d entries after pool exhaustion, want 0", spill.len())
	}
}

func TestIngestRetriesFailedItem(t *testing.T) {
	spill := &fakeSpill{}
	p, repo, runner := testPipelineWithSpill(t, spill)

	if err := repo.Save(context.Background(), &domain.Item{
		ID:     "dQw4w9WgXcQ",
		URL:    testURL,
		Status: domain.ItemStatusFailed,
		Error:  "connection reset by peer",
	}); err != nil {
		t.Fatal(err)
	}

	item, err := p.Ingest(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if runner.calls == 0 {
		t.Error("runner never called, failed item was not refetched")
	}
	if item.Status != domain.ItemStatusFetched {
		t.Errorf("item.Status = %q, want %q", item.Status, domain.ItemStatusFetched)
	}
}

func TestRequeueRetriesParkedFetch(t *testing.T) {
	spill := &fakeSpill{}
	if err := spill.Add(context.Background(), testURL, "download: connection reset"); err != nil {
		t.Fatal(err)
	}

	p, repo, _ := testPipelineWithSpill(t, spill)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := repo.GetByURL(ctx, testURL); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("parked fetch was never requeued")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if spill.len() != 0 {
		t.Errorf("spill has %d entries after successful requeue, want 0", spill.len())
	}
}

func TestAdmitSearchMarksIndexed(t *testing.T) {
	p, repo, _ := testPipeline(t, map[string]TaskRunner{
		"search": RunnerFunc(func(context.Context, Task) error { return nil }),
	})
	ctx := context.Background()
	if err := repo.Save(ctx, &domain.Item{ID: "dQw4w9WgXcQ", URL: testURL}); err != nil {
		t.Fatal(err)
	}

	p.queue.Enqueue("search", 1, testURL)
	head, _ := p.queue.Head("search")
	p.admit(ctx, "search", head)

	item, err := repo.GetByURL(ctx, testURL)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.ItemStatusIndexed {
		t.Errorf("item.Status = %q, want %q", item.Status, domain.ItemStatusIndexed)
	}
}

func TestExecRunnerNoCommand(t *testing.T) {
	r := &ExecRunner{}
	if err := r.Run(context.Background(), Task{Category: "transcribe"}); err == nil {
		t.Fatal("Run() with empty command succeeded, want error")
	}
}
