// Package fetcher performs single, safety-bounded HTTP GETs for the crawl
// pipeline. It knows nothing about persistence; failures come back as
// classified *crawler.CrawlError values.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/crawler"
)

// Config controls the safety bounds applied to every fetch.
type Config struct {
	MaxPageSize  int64         `mapstructure:"max_page_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// DefaultConfig returns the default safety bounds.
func DefaultConfig() Config {
	return Config{
		MaxPageSize:  5 * 1024 * 1024,
		Timeout:      30 * time.Second,
		MaxRedirects: 5,
		UserAgent:    "webinsight-bot/1.0 (+https://github.com/pagelens/webinsight)",
	}
}

var errTooManyRedirects = errors.New("too many redirects")

// Client fetches URLs over HTTP with bounded time, size, and redirects.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a Client. A zero-valued field in cfg falls back to its
// default bound.
func New(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Fetch retrieves rawURL and returns the HTML body plus response metadata.
// Every error returned is a *crawler.CrawlError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	start := time.Now()

	if err := ValidateURL(rawURL); err != nil {
		return crawler.FetchResult{}, crawler.NewCrawlError(
			crawler.ErrKindInvalidURL, "invalid URL format", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawler.FetchResult{}, crawler.NewCrawlError(
			crawler.ErrKindInvalidURL, "failed to build HTTP request", rawURL, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cerr := classifyTransportError(rawURL, err)
		c.logger.Debug("fetch transport failure",
			zap.String("url", rawURL),
			zap.String("kind", string(cerr.Kind)),
			zap.Error(err),
		)
		return crawler.FetchResult{}, cerr
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body", zap.String("url", rawURL), zap.Error(closeErr))
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return crawler.FetchResult{}, crawler.NewCrawlError(
			crawler.ErrKindHTTP,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
			rawURL, nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContent(contentType) {
		return crawler.FetchResult{}, crawler.NewCrawlError(
			crawler.ErrKindInvalidContent,
			fmt.Sprintf("content type %q is not HTML", contentType),
			rawURL, nil)
	}

	body, err := c.readBody(resp.Body, rawURL)
	if err != nil {
		return crawler.FetchResult{}, err
	}

	return crawler.FetchResult{
		HTML:        string(body),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Bytes:       int64(len(body)),
		Duration:    time.Since(start),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// ValidateURL checks that rawURL parses, uses http or https, and has a host.
// The API layer reuses this check when registering targets.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("URL must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
}

// classifyTransportError maps transport failures onto the crawl error
// taxonomy.
func classifyTransportError(rawURL string, err error) *crawler.CrawlError {
	if errors.Is(err, errTooManyRedirects) {
		return crawler.NewCrawlError(crawler.ErrKindRedirect, "too many redirects", rawURL, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return crawler.NewCrawlError(crawler.ErrKindTimeout, "request timed out", rawURL, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawler.NewCrawlError(crawler.ErrKindDNS, "DNS lookup failed", rawURL, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return crawler.NewCrawlError(crawler.ErrKindConnection, "connection refused", rawURL, err)
	}

	return crawler.NewCrawlError(crawler.ErrKindNetwork, "network error", rawURL, err)
}

func isHTMLContent(contentType string) bool {
	if contentType == "" {
		// Assume HTML when the server sends nothing.
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// readBody reads through a limited reader capped one byte above the page
// size limit so an oversized body is detectable without buffering it all.
func (c *Client) readBody(r io.Reader, rawURL string) ([]byte, error) {
	limited := io.LimitReader(r, c.cfg.MaxPageSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, crawler.NewCrawlError(
			crawler.ErrKindRead, "failed to read response body", rawURL, err)
	}
	if int64(len(body)) > c.cfg.MaxPageSize {
		return nil, crawler.NewCrawlError(
			crawler.ErrKindTooLarge,
			fmt.Sprintf("response exceeds %d byte limit", c.cfg.MaxPageSize),
			rawURL, nil)
	}
	return body, nil
}
