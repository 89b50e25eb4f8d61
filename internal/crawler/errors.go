package crawler

import "errors"

// ErrorKind classifies a crawl failure. Every kind is a target-level
// terminal failure: the target transitions to StatusError with the message
// attached, and the dispatcher keeps running.
type ErrorKind string

// Crawl failure kinds.
const (
	ErrKindInvalidURL     ErrorKind = "invalid_url"
	ErrKindDNS            ErrorKind = "dns_error"
	ErrKindConnection     ErrorKind = "connection_error"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindRedirect       ErrorKind = "redirect_error"
	ErrKindNetwork        ErrorKind = "network"
	ErrKindHTTP           ErrorKind = "http_error"
	ErrKindInvalidContent ErrorKind = "invalid_content"
	ErrKindTooLarge       ErrorKind = "too_large"
	ErrKindRead           ErrorKind = "read_error"
	ErrKindTransaction    ErrorKind = "transaction_error"
)

// ErrQueueFull is returned by a non-blocking enqueue on a full queue.
var ErrQueueFull = errors.New("crawl queue is full")

// ErrNotRunning is returned when jobs are submitted to a stopped dispatcher.
var ErrNotRunning = errors.New("dispatcher is not running")

// ErrTargetNotFound is returned by stores for unknown target IDs.
var ErrTargetNotFound = errors.New("target not found")

// ErrDuplicateTarget is returned when a URL is registered twice.
var ErrDuplicateTarget = errors.New("target already exists")

// CrawlError is a classified crawl failure with its originating URL.
type CrawlError struct {
	Kind    ErrorKind
	Message string
	URL     string
	Err     error
}

// NewCrawlError builds a CrawlError.
func NewCrawlError(kind ErrorKind, message, url string, err error) *CrawlError {
	return &CrawlError{
		Kind:    kind,
		Message: message,
		URL:     url,
		Err:     err,
	}
}

func (e *CrawlError) Error() string {
	return e.Message
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}
