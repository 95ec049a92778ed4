// Package pipeline connects the fetch path, the item store and the
// admission queue into one ingestion flow: pull metadata and media from
// the remote source, persist the item, then let requesters queue category
// work (transcription, analysis) against the single compute slot each
// category owns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/curator/internal/admission"
	"github.com/vietddude/curator/internal/core/domain"
	"github.com/vietddude/curator/internal/infra/fetch"
	redisclient "github.com/vietddude/curator/internal/infra/redis"
	"github.com/vietddude/curator/internal/infra/storage"
	"github.com/vietddude/curator/internal/pipeline/metrics"
)

// statusAfter maps a category to the item status it produces on success.
// Categories without an entry leave the item's status alone.
var statusAfter = map[string]domain.ItemStatus{
	string(domain.CategoryTranscribe): domain.ItemStatusTranscribed,
	string(domain.CategoryAnalyze):    domain.ItemStatusAnalyzed,
	string(domain.CategorySearch):     domain.ItemStatusIndexed,
}

// Config wires a Pipeline.
type Config struct {
	MediaDir        string
	PollInterval    time.Duration
	RequeueInterval time.Duration
}

// FailedFetchQueue parks fetches that exhausted their retry budget so a
// later pass can try them again. Satisfied by redis.FailedFetchRepo.
type FailedFetchQueue interface {
	Add(ctx context.Context, url, reason string) error
	GetNext(ctx context.Context) (*redisclient.FailedFetch, error)
	MarkResolved(ctx context.Context, url string) error
}

// Pipeline owns the ingest flow and the promotion loop that feeds
// admitted tasks to their category runners.
type Pipeline struct {
	cfg     Config
	fetcher *fetch.Fetcher
	repo    storage.ItemRepository
	queue   *admission.Queue
	runners map[string]TaskRunner
	failed  FailedFetchQueue // optional spill queue
	log     *slog.Logger
	running atomic.Bool
}

// NewPipeline creates a pipeline. failed may be nil when Redis is not
// configured; parked-retry bookkeeping is skipped in that case.
func NewPipeline(
	cfg Config,
	fetcher *fetch.Fetcher,
	repo storage.ItemRepository,
	queue *admission.Queue,
	runners map[string]TaskRunner,
	failed FailedFetchQueue,
) *Pipeline {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RequeueInterval == 0 {
		cfg.RequeueInterval = 10 * time.Minute
	}
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		repo:    repo,
		queue:   queue,
		runners: runners,
		failed:  failed,
		log:     slog.With("component", "pipeline"),
	}
}

// Queue exposes the admission queue for the status surface.
func (p *Pipeline) Queue() *admission.Queue { return p.queue }

// Ingest fetches the item at url into the library. Already-known URLs
// return the stored item without touching the remote source; items whose
// last ingest failed are fetched again.
func (p *Pipeline) Ingest(ctx context.Context, url string) (*domain.Item, error) {
	existing, err := p.repo.GetByURL(ctx, url)
	if err == nil && existing.Status != domain.ItemStatusFailed {
		p.log.Debug("item already in library", "url", url, "id", existing.ID)
		return existing, nil
	}
	if err != nil && !errors.Is(err, storage.ErrItemNotFound) {
		return nil, fmt.Errorf("failed to check library: %w", err)
	}

	start := time.Now()
	metrics.FetchCallsTotal.WithLabelValues(string(domain.SourceYouTube), "metadata").Inc()
	meta, err := p.fetcher.Metadata(ctx, url)
	if err != nil {
		p.recordFetchFailure(ctx, url, "metadata", err)
		return nil, fmt.Errorf("metadata fetch failed: %w", err)
	}
	metrics.FetchLatency.WithLabelValues(string(domain.SourceYouTube), "metadata").
		Observe(time.Since(start).Seconds())

	item := &domain.Item{
		ID:       meta.VideoID,
		URL:      meta.URL,
		Source:   domain.SourceYouTube,
		Title:    meta.Title,
		Uploader: meta.Uploader,
		Duration: meta.Duration,
		Status:   domain.ItemStatusFetched,
	}

	start = time.Now()
	metrics.FetchCallsTotal.WithLabelValues(string(domain.SourceYouTube), "download").Inc()
	mediaPath, err := p.fetcher.Download(ctx, meta.URL, p.cfg.MediaDir)
	if err != nil {
		p.recordFetchFailure(ctx, url, "download", err)
		item.Status = domain.ItemStatusFailed
		item.Error = err.Error()
		if saveErr := p.repo.Save(ctx, item); saveErr != nil {
			p.log.Error("failed to record failed item", "url", url, "error", saveErr)
		}
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	metrics.FetchLatency.WithLabelValues(string(domain.SourceYouTube), "download").
		Observe(time.Since(start).Seconds())

	item.MediaPath = mediaPath
	if err := p.repo.Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save item: %w", err)
	}
	metrics.ItemsIngestedTotal.WithLabelValues(string(domain.SourceYouTube)).Inc()

	if p.failed != nil {
		if err := p.failed.MarkResolved(ctx, url); err != nil {
			p.log.Debug("could not clear parked fetch", "url", url, "error", err)
		}
	}

	p.log.Info("item ingested",
		"id", item.ID,
		"title", item.Title,
		"duration", item.Duration)
	return item, nil
}

// Submit queues category work for a requester against an ingested item
// and returns the requester's resulting position.
func (p *Pipeline) Submit(ctx context.Context, category string, requesterID int64, url string) (admission.Status, error) {
	if _, ok := p.runners[category]; !ok {
		return admission.Status{}, fmt.Errorf("unknown category: %s", category)
	}
	if _, err := p.repo.GetByURL(ctx, url); err != nil {
		return admission.Status{}, fmt.Errorf("item not in library: %w", err)
	}

	p.queue.Enqueue(category, requesterID, url)
	p.observeQueue(category)
	return p.queue.Status(category, requesterID), nil
}

// Cancel removes a requester's queued (not running) entry.
func (p *Pipeline) Cancel(category string, requesterID int64) bool {
	removed := p.queue.Remove(category, requesterID)
	if removed {
		p.observeQueue(category)
	}
	return removed
}

// Run drives the promotion loop until ctx is cancelled: each category is
// polled independently, and a free slot with someone waiting admits the
// head of that category's queue.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	for category := range p.runners {
		g.Go(func() error {
			return p.runCategory(ctx, category)
		})
	}
	if p.failed != nil {
		g.Go(func() error {
			return p.runRequeue(ctx)
		})
	}
	return g.Wait()
}

// runRequeue periodically takes one parked fetch and runs it back
// through Ingest. Success clears the entry; another failure re-parks it
// with a bumped retry count, pushing it behind fresher entries.
func (p *Pipeline) runRequeue(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.RequeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ff, err := p.failed.GetNext(ctx)
			if err != nil {
				p.log.Warn("could not read parked fetches", "error", err)
				continue
			}
			if ff == nil {
				continue
			}
			p.log.Info("retrying parked fetch", "url", ff.URL, "retries", ff.RetryCount)
			if _, err := p.Ingest(ctx, ff.URL); err != nil {
				p.log.Warn("parked fetch failed again", "url", ff.URL, "error", err)
			}
		}
	}
}

func (p *Pipeline) runCategory(ctx context.Context, category string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.queue.CanStart(category) {
				continue
			}
			head, ok := p.queue.Head(category)
			if !ok {
				continue
			}
			p.admit(ctx, category, head)
		}
	}
}

// admit starts the head entry in the category's slot and runs it to
// completion. The slot is always freed, even when the runner fails.
func (p *Pipeline) admit(ctx context.Context, category string, head admission.Entry) {
	handle := uuid.NewString()
	if !p.queue.Start(category, head.RequesterID, head.Label, handle) {
		p.log.Warn("slot taken before start", "category", category, "requester", head.RequesterID)
		return
	}
	p.observeQueue(category)
	defer func() {
		p.queue.Finish(category)
		p.observeQueue(category)
	}()

	task := Task{
		Category:    category,
		RequesterID: head.RequesterID,
		URL:         head.Label,
		RunHandle:   handle,
	}
	if item, err := p.repo.GetByURL(ctx, head.Label); err == nil {
		task.MediaPath = item.MediaPath
		task.ItemID = item.ID
	}

	p.log.Info("task admitted",
		"category", category,
		"requester", head.RequesterID,
		"run", handle,
		"waited", time.Since(head.EnqueuedAt))

	err := p.runners[category].Run(ctx, task)
	if err != nil {
		metrics.TasksCompletedTotal.WithLabelValues(category, "error").Inc()
		p.log.Error("task failed", "category", category, "run", handle, "error", err)
		if task.ItemID != "" {
			if updErr := p.repo.UpdateStatus(ctx, task.ItemID, domain.ItemStatusFailed, err.Error()); updErr != nil {
				p.log.Error("failed to update item status", "id", task.ItemID, "error", updErr)
			}
		}
		return
	}

	metrics.TasksCompletedTotal.WithLabelValues(category, "ok").Inc()
	if next, ok := statusAfter[category]; ok && task.ItemID != "" {
		if err := p.repo.UpdateStatus(ctx, task.ItemID, next, ""); err != nil {
			p.log.Error("failed to update item status", "id", task.ItemID, "error", err)
		}
	}
	p.log.Info("task finished", "category", category, "run", handle)
}

func (p *Pipeline) recordFetchFailure(ctx context.Context, url, op string, err error) {
	metrics.FetchErrorsTotal.WithLabelValues(string(domain.SourceYouTube), errorClass(err)).Inc()
	if p.failed == nil {
		return
	}
	// A bad URL or an exhausted pool is not something a later pass can
	// fix; only transient failures are worth parking.
	if errors.Is(err, fetch.ErrInvalidURL) || errors.Is(err, fetch.ErrPoolExhausted) {
		return
	}
	if addErr := p.failed.Add(ctx, url, fmt.Sprintf("%s: %v", op, err)); addErr != nil {
		p.log.Warn("could not park failed fetch", "url", url, "error", addErr)
	}
}

func (p *Pipeline) observeQueue(category string) {
	depth := 0
	running := 0.0
	for _, snap := range p.queue.Snapshot() {
		if snap.Category != category {
			continue
		}
		depth = len(snap.Queue)
		if snap.Running != nil {
			running = 1
		}
	}
	metrics.QueueDepth.WithLabelValues(category).Set(float64(depth))
	metrics.TasksRunning.WithLabelValues(category).Set(running)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, fetch.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, fetch.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "fetch"
	}
}
