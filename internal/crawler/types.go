// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// TargetStatus represents the lifecycle state of a crawl target.
type TargetStatus string

// Target status values persisted in the target store.
const (
	StatusQueued    TargetStatus = "queued"
	StatusRunning   TargetStatus = "running"
	StatusCompleted TargetStatus = "completed"
	StatusError     TargetStatus = "error"
)

// Target is a URL registered for crawling, with lifecycle status.
// ErrorMessage is set iff Status is StatusError.
type Target struct {
	ID           int64        `json:"id"`
	URL          string       `json:"url"`
	Status       TargetStatus `json:"status"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CrawlJob is an in-memory unit of work consumed exactly once by the
// dispatcher's worker. It is never persisted; the Target row carries the
// durable status.
type CrawlJob struct {
	TargetID   int64     `json:"target_id"`
	URL        string    `json:"url"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Link is one anchor discovered on a page, already resolved against the
// page's base URL and classified by host.
type Link struct {
	URL      string `json:"url"`
	Text     string `json:"text"`
	Internal bool   `json:"internal"`
}

// PageFacts is the output of extracting one HTML document. It is a pure
// value: extracting the same document twice yields identical facts.
type PageFacts struct {
	HTMLVersion   *string        `json:"html_version,omitempty"`
	Title         *string        `json:"title,omitempty"`
	HeadingCounts map[string]int `json:"heading_counts"`
	Links         []Link         `json:"links"`
	HasLoginForm  bool           `json:"has_login_form"`
	ParseNotes    []string       `json:"parse_notes,omitempty"`
}

// InternalLinkCount returns the number of same-host links.
func (f *PageFacts) InternalLinkCount() int {
	n := 0
	for _, l := range f.Links {
		if l.Internal {
			n++
		}
	}
	return n
}

// ExternalLinkCount returns the number of links pointing at other hosts.
func (f *PageFacts) ExternalLinkCount() int {
	return len(f.Links) - f.InternalLinkCount()
}

// CrawlRecord is the persisted per-target extraction result. Exactly one
// record exists per target at a time; a re-crawl replaces the previous one.
type CrawlRecord struct {
	TargetID              int64          `json:"target_id"`
	HTMLVersion           *string        `json:"html_version,omitempty"`
	Title                 *string        `json:"title,omitempty"`
	HeadingCounts         map[string]int `json:"heading_counts"`
	InternalLinkCount     int            `json:"internal_link_count"`
	ExternalLinkCount     int            `json:"external_link_count"`
	InaccessibleLinkCount int            `json:"inaccessible_link_count"`
	HasLoginForm          bool           `json:"has_login_form"`
	CrawledAt             time.Time      `json:"crawled_at"`
	DurationMs            int64          `json:"duration_ms"`
}

// LinkRow is one discovered link as persisted. Accessibility fields stay
// nil until link checking lands.
type LinkRow struct {
	TargetID     int64     `json:"target_id"`
	URL          string    `json:"url"`
	Text         *string   `json:"text,omitempty"`
	Internal     bool      `json:"internal"`
	StatusCode   *int      `json:"status_code,omitempty"`
	Accessible   *bool     `json:"accessible,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TargetDetail bundles a target with its latest crawl output for the read
// side of the API.
type TargetDetail struct {
	Target Target       `json:"target"`
	Result *CrawlRecord `json:"result,omitempty"`
	Links  []LinkRow    `json:"links,omitempty"`
}

// FetchResult is returned by a Fetcher implementation on success.
type FetchResult struct {
	HTML        string
	StatusCode  int
	ContentType string
	Bytes       int64
	Duration    time.Duration
	FinalURL    string
}

// QueueStatus is a point-in-time snapshot of the dispatcher queue.
type QueueStatus struct {
	Running  bool `json:"running"`
	Length   int  `json:"length"`
	Capacity int  `json:"capacity"`
}
