package crawler

import (
	"context"
	"time"
)

// Queue provides bounded FIFO semantics for crawl jobs. TryEnqueue never
// blocks; Dequeue blocks until a job arrives, the queue closes, or the
// context finishes.
type Queue interface {
	TryEnqueue(job CrawlJob) error
	Dequeue(ctx context.Context) (CrawlJob, error)
	Len() int
	Cap() int
	Close()
}

// Fetcher retrieves one URL and returns the body plus metadata, or a
// *CrawlError classifying the failure.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// TargetStore persists targets, crawl records, and discovered links.
//
// SaveCrawl is the transactional commit step of the pipeline: it replaces
// any existing record and links for the target, writes the new ones, and
// marks the target completed, all atomically.
type TargetStore interface {
	CreateTarget(ctx context.Context, rawURL string) (Target, error)
	GetTarget(ctx context.Context, id int64) (Target, error)
	// ListTargets returns every target joined with its latest crawl
	// record (nil for targets never crawled). Links are not loaded.
	ListTargets(ctx context.Context) ([]TargetDetail, error)
	DeleteTarget(ctx context.Context, id int64) error
	UpdateTargetStatus(ctx context.Context, id int64, status TargetStatus, errMsg *string) error
	SaveCrawl(ctx context.Context, record CrawlRecord, links []LinkRow) error
	GetCrawl(ctx context.Context, targetID int64) (*CrawlRecord, []LinkRow, error)
}

// Publisher pushes crawl-completed events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event and request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
