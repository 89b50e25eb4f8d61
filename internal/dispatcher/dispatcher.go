// Package dispatcher runs the background crawl pipeline: a single worker
// pulls jobs off the bounded queue, fetches and extracts each page, and
// commits the results transactionally.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/crawler"
	"github.com/pagelens/webinsight/internal/extractor"
	"github.com/pagelens/webinsight/internal/telemetry"
)

const (
	defaultRateLimit = 1 * time.Second
	defaultMaxLinks  = 200
	maxLinkURLLen    = 2000
	maxLinkTextLen   = 500
)

// Config controls Dispatcher behavior.
type Config struct {
	// RateLimit is the politeness delay between consecutive jobs. It bounds
	// the outbound request rate to one fetch per interval regardless of
	// queue depth.
	RateLimit time.Duration
	// MaxLinks caps how many discovered links are persisted per crawl;
	// the tail beyond the first MaxLinks in document order is dropped.
	MaxLinks int
	// Topic, when non-empty and a publisher is configured, receives a
	// crawl-completed event after each successful commit.
	Topic string
	// ArchivePrefix is the blob path prefix for archived HTML bodies.
	ArchivePrefix string
}

// Dispatcher owns the job queue and the single background worker.
type Dispatcher struct {
	queue     crawler.Queue
	fetcher   crawler.Fetcher
	extractor *extractor.Extractor
	store     crawler.TargetStore
	publisher crawler.Publisher
	archive   crawler.BlobStore
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Dispatcher. publisher and archive may be nil to disable
// completion events and HTML archiving.
func New(
	queue crawler.Queue,
	fetch crawler.Fetcher,
	extract *extractor.Extractor,
	store crawler.TargetStore,
	publisher crawler.Publisher,
	archive crawler.BlobStore,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:     queue,
		fetcher:   fetch,
		extractor: extract,
		store:     store,
		publisher: publisher,
		archive:   archive,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the background worker. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.logger.Warn("dispatcher already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	go d.run(ctx)
	d.logger.Info("dispatcher started",
		zap.Int("queue_capacity", d.queue.Cap()),
		zap.Duration("rate_limit", d.cfg.RateLimit),
	)
}

// Stop halts the worker and releases the queue. The job in flight is
// allowed to finish; jobs still queued are discarded (their targets keep
// status queued until re-submitted). Stop blocks until the worker exits.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.queue.Close()
	done := d.done
	d.mu.Unlock()

	<-done
	d.logger.Info("dispatcher stopped", zap.Int("discarded_jobs", d.queue.Len()))
}

// Enqueue submits a crawl job without blocking. A full queue fails fast
// with crawler.ErrQueueFull; the caller is responsible for the target's
// status around this call.
func (d *Dispatcher) Enqueue(targetID int64, rawURL string) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return crawler.ErrNotRunning
	}

	job := crawler.CrawlJob{
		TargetID:   targetID,
		URL:        rawURL,
		EnqueuedAt: d.clock.Now(),
	}
	if err := d.queue.TryEnqueue(job); err != nil {
		return err
	}
	telemetry.SetQueueDepth(d.queue.Len())
	d.logger.Debug("job enqueued",
		zap.Int64("target_id", targetID),
		zap.String("url", rawURL),
		zap.Int("queue_length", d.queue.Len()),
	)
	return nil
}

// Status reports the running flag, live queue length, and capacity
// without blocking the worker.
func (d *Dispatcher) Status() crawler.QueueStatus {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	return crawler.QueueStatus{
		Running:  running,
		Length:   d.queue.Len(),
		Capacity: d.queue.Cap(),
	}
}

// run is the single consumer loop. ctx only governs waiting: dequeue and
// the politeness sleep. A job already picked up runs to completion even
// during shutdown, since mid-fetch cancellation is not supported.
func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		telemetry.SetQueueDepth(d.queue.Len())
		d.process(job)

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.RateLimit):
		}
	}
}

// process executes one job: queued target goes running, then either
// completed (after a transactional commit of record plus links) or error.
func (d *Dispatcher) process(job crawler.CrawlJob) {
	ctx := context.Background()
	logger := d.logger.With(
		zap.Int64("target_id", job.TargetID),
		zap.String("url", job.URL),
	)
	logger.Info("processing crawl job")

	if err := d.store.UpdateTargetStatus(ctx, job.TargetID, crawler.StatusRunning, nil); err != nil {
		logger.Error("set target running failed", zap.Error(err))
		return
	}

	start := d.clock.Now()
	res, err := d.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		d.fail(ctx, logger, job, err, d.clock.Now().Sub(start))
		return
	}

	facts := d.extractor.Extract(res.HTML, job.URL)
	elapsed := d.clock.Now().Sub(start)
	if len(facts.ParseNotes) > 0 {
		logger.Debug("non-fatal parse notes", zap.Strings("notes", facts.ParseNotes))
	}

	d.archiveHTML(ctx, logger, job, res)

	record := buildRecord(job.TargetID, facts, d.clock.Now(), elapsed)
	links := buildLinkRows(job.TargetID, facts.Links, d.cfg.MaxLinks, d.clock.Now())

	if err := d.store.SaveCrawl(ctx, record, links); err != nil {
		terr := crawler.NewCrawlError(
			crawler.ErrKindTransaction,
			fmt.Sprintf("failed to save crawl results: %v", err),
			job.URL, err)
		d.fail(ctx, logger, job, terr, elapsed)
		return
	}

	d.publishCompletion(ctx, logger, job, record)
	telemetry.ObserveCrawl("completed", elapsed, res.Bytes, len(links))
	logger.Info("crawl completed",
		zap.Int("links", len(links)),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("elapsed", elapsed),
	)
}

// fail transitions the target to error with the failure's message. Crawl
// failures are terminal per target; there is no automatic retry.
func (d *Dispatcher) fail(
	ctx context.Context,
	logger *zap.Logger,
	job crawler.CrawlJob,
	err error,
	elapsed time.Duration,
) {
	msg := err.Error()
	if updErr := d.store.UpdateTargetStatus(ctx, job.TargetID, crawler.StatusError, &msg); updErr != nil {
		logger.Error("set target error failed", zap.Error(updErr))
	}
	telemetry.ObserveCrawl(outcomeLabel(err), elapsed, 0, 0)
	logger.Warn("crawl failed", zap.Error(err), zap.Duration("elapsed", elapsed))
}

// archiveHTML stores the raw body when an archive is configured. Archive
// problems do not fail the job.
func (d *Dispatcher) archiveHTML(
	ctx context.Context,
	logger *zap.Logger,
	job crawler.CrawlJob,
	res crawler.FetchResult,
) {
	if d.archive == nil {
		return
	}
	prefix := strings.Trim(d.cfg.ArchivePrefix, "/")
	path := fmt.Sprintf("%d/%d.html", job.TargetID, d.clock.Now().UnixMilli())
	if prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := d.archive.PutObject(ctx, path, res.ContentType, []byte(res.HTML))
	if err != nil {
		logger.Warn("archive html failed", zap.Error(err))
		return
	}
	logger.Debug("html archived", zap.String("uri", uri))
}

func (d *Dispatcher) publishCompletion(
	ctx context.Context,
	logger *zap.Logger,
	job crawler.CrawlJob,
	record crawler.CrawlRecord,
) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"target_id":      job.TargetID,
		"url":            job.URL,
		"crawled_at":     record.CrawledAt.Format(time.RFC3339),
		"internal_links": record.InternalLinkCount,
		"external_links": record.ExternalLinkCount,
		"has_login_form": record.HasLoginForm,
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, payload); err != nil {
		// The commit already happened; a lost event is not a job failure.
		logger.Warn("publish completion event failed", zap.Error(err))
	}
}

func buildRecord(
	targetID int64,
	facts *crawler.PageFacts,
	now time.Time,
	elapsed time.Duration,
) crawler.CrawlRecord {
	counts := make(map[string]int, len(facts.HeadingCounts))
	for k, v := range facts.HeadingCounts {
		counts[k] = v
	}
	return crawler.CrawlRecord{
		TargetID:          targetID,
		HTMLVersion:       facts.HTMLVersion,
		Title:             facts.Title,
		HeadingCounts:     counts,
		InternalLinkCount: facts.InternalLinkCount(),
		ExternalLinkCount: facts.ExternalLinkCount(),
		// Link checking is deferred; the count stays zero for now.
		InaccessibleLinkCount: 0,
		HasLoginForm:          facts.HasLoginForm,
		CrawledAt:             now,
		DurationMs:            elapsed.Milliseconds(),
	}
}

// buildLinkRows normalizes discovered links for persistence: URL and text
// truncation, empty text dropped to nil, and the first maxLinks in
// document order kept.
func buildLinkRows(
	targetID int64,
	links []crawler.Link,
	maxLinks int,
	now time.Time,
) []crawler.LinkRow {
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	rows := make([]crawler.LinkRow, 0, len(links))
	for _, l := range links {
		rows = append(rows, crawler.LinkRow{
			TargetID:  targetID,
			URL:       truncate(strings.TrimSpace(l.URL), maxLinkURLLen),
			Text:      normalizeLinkText(l.Text),
			Internal:  l.Internal,
			CreatedAt: now,
		})
	}
	return rows
}

func normalizeLinkText(text string) *string {
	cleaned := truncate(strings.Join(strings.Fields(text), " "), maxLinkTextLen)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func outcomeLabel(err error) string {
	var cerr *crawler.CrawlError
	if errors.As(err, &cerr) {
		return string(cerr.Kind)
	}
	return "error"
}
