package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/crawler"
)

func requireKind(t *testing.T, err error, kind crawler.ErrorKind) {
	t.Helper()
	var cerr *crawler.CrawlError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, kind, cerr.Kind)
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	const page = "<!DOCTYPE html><title>ok</title>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	got, err := New(Config{}, zap.NewNop()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, page, got.HTML)
	require.Equal(t, http.StatusOK, got.StatusCode)
	require.Equal(t, int64(len(page)), got.Bytes)
	require.Equal(t, srv.URL+"/", got.FinalURL)
	require.Positive(t, got.Duration)
}

func TestFetch_InvalidURLs(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"ftp://example.com/file",
		"https://",
		"not a url at all",
	} {
		_, err := New(Config{}, nil).Fetch(context.Background(), raw)
		requireKind(t, err, crawler.ErrKindInvalidURL)
	}
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	requireKind(t, err, crawler.ErrKindHTTP)
	require.Contains(t, err.Error(), "HTTP 404")
}

func TestFetch_NonHTMLContentRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not":"html"}`))
	}))
	defer srv.Close()

	_, err := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	requireKind(t, err, crawler.ErrKindInvalidContent)
}

func TestFetch_MissingContentTypeAssumedHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("<p>bare</p>"))
	}))
	defer srv.Close()

	got, err := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, got.HTML, "bare")
}

func TestFetch_BodyOverSizeLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer srv.Close()

	_, err := New(Config{MaxPageSize: 1024}, nil).Fetch(context.Background(), srv.URL)
	requireKind(t, err, crawler.ErrKindTooLarge)
}

func TestFetch_BodyExactlyAtLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("a", 1024)))
	}))
	defer srv.Close()

	got, err := New(Config{MaxPageSize: 1024}, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(1024), got.Bytes)
}

func TestFetch_RedirectLimit(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	})

	_, err := New(Config{MaxRedirects: 3}, nil).Fetch(context.Background(), srv.URL+"/hop/")
	requireKind(t, err, crawler.ErrKindRedirect)
}

func TestFetch_RedirectsFollowedToFinalURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<p>landed</p>")
	})

	got, err := New(Config{}, nil).Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/final", got.FinalURL)
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte("<p>late</p>"))
	}))
	defer srv.Close()

	_, err := New(Config{Timeout: 50 * time.Millisecond}, nil).Fetch(context.Background(), srv.URL)
	requireKind(t, err, crawler.ErrKindTimeout)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: 2 * time.Second}, nil).Fetch(context.Background(), addr)
	requireKind(t, err, crawler.ErrKindConnection)
}

func TestClassifyTransportError_DNS(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("get: %w", &net.DNSError{Err: "no such host", Name: "nope.invalid"})
	cerr := classifyTransportError("https://nope.invalid", wrapped)
	require.Equal(t, crawler.ErrKindDNS, cerr.Kind)
}

func TestClassifyTransportError_Generic(t *testing.T) {
	t.Parallel()

	cerr := classifyTransportError("https://example.com", errors.New("wire snapped"))
	require.Equal(t, crawler.ErrKindNetwork, cerr.Kind)
}
