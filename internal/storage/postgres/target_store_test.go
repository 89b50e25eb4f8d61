package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/webinsight/internal/crawler"
)

var targetColumns = []string{"id", "url", "status", "error_message", "created_at", "updated_at"}

func TestCreateTargetInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("INSERT INTO targets").
		WithArgs("https://example.com/", crawler.StatusQueued).
		WillReturnRows(pgxmock.NewRows(targetColumns).
			AddRow(int64(1), "https://example.com/", crawler.StatusQueued, nil, now, now))

	target, err := store.CreateTarget(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, int64(1), target.ID)
	require.Equal(t, "https://example.com/", target.URL)
	require.Equal(t, crawler.StatusQueued, target.Status)
	require.Nil(t, target.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTargetDuplicateURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO targets").
		WithArgs("https://example.com/", crawler.StatusQueued).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "targets_url_key"})

	_, err = store.CreateTarget(context.Background(), "https://example.com/")
	require.ErrorIs(t, err, crawler.ErrDuplicateTarget)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, url, status").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetTarget(context.Background(), 42)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTargetsJoinsLatestResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	version := "HTML5"
	title := "Example Domain"
	crawled := 1
	external := 2
	inaccessible := 0
	hasLogin := false
	resultID := int64(1)
	durationMs := int64(120)

	columns := []string{
		"id", "url", "status", "error_message", "created_at", "updated_at",
		"target_id", "html_version", "title", "heading_counts",
		"internal_link_count", "external_link_count", "inaccessible_link_count",
		"has_login_form", "crawled_at", "duration_ms",
	}
	mock.ExpectQuery("SELECT t.id, t.url").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(int64(1), "https://example.com/", crawler.StatusCompleted, nil, now, now,
				&resultID, &version, &title, []byte(`{"h1":1}`),
				&crawled, &external, &inaccessible, &hasLogin, &now, &durationMs).
			AddRow(int64(2), "https://fresh.test/", crawler.StatusQueued, nil, now, now,
				(*int64)(nil), (*string)(nil), (*string)(nil), []byte(nil),
				(*int)(nil), (*int)(nil), (*int)(nil), (*bool)(nil), (*time.Time)(nil), (*int64)(nil)))

	details, err := store.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, details, 2)

	require.Equal(t, int64(1), details[0].Target.ID)
	require.NotNil(t, details[0].Result)
	require.Equal(t, "HTML5", *details[0].Result.HTMLVersion)
	require.Equal(t, 1, details[0].Result.HeadingCounts["h1"])
	require.Equal(t, 2, details[0].Result.ExternalLinkCount)

	require.Equal(t, int64(2), details[1].Target.ID)
	require.Nil(t, details[1].Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTargetStatusClearsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE targets").
		WithArgs(int64(7), crawler.StatusRunning, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateTargetStatus(context.Background(), 7, crawler.StatusRunning, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTargetStatusNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	msg := "HTTP 404: Not Found"
	mock.ExpectExec("UPDATE targets").
		WithArgs(int64(99), crawler.StatusError, &msg).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateTargetStatus(context.Background(), 99, crawler.StatusError, &msg)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTargetNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM targets").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = store.DeleteTarget(context.Background(), 3)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCrawlReplacesInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	version := "HTML5"
	title := "Example Domain"
	record := crawler.CrawlRecord{
		TargetID:          5,
		HTMLVersion:       &version,
		Title:             &title,
		HeadingCounts:     map[string]int{"h1": 1},
		InternalLinkCount: 1,
		ExternalLinkCount: 1,
		HasLoginForm:      false,
		CrawledAt:         now,
		DurationMs:        120,
	}
	text := "About"
	links := []crawler.LinkRow{
		{TargetID: 5, URL: "https://example.com/about", Text: &text, Internal: true, CreatedAt: now},
		{TargetID: 5, URL: "https://other.test/x", Internal: false, CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM crawl_results").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM discovered_links").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs(
			int64(5), &version, &title, []byte(`{"h1":1}`),
			1, 1, 0, false, now, int64(120),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO discovered_links").
		WithArgs(int64(5), "https://example.com/about", &text, true,
			(*int)(nil), (*bool)(nil), (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO discovered_links").
		WithArgs(int64(5), "https://other.test/x", (*string)(nil), false,
			(*int)(nil), (*bool)(nil), (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec("UPDATE targets").
		WithArgs(int64(5), crawler.StatusCompleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.SaveCrawl(context.Background(), record, links)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCrawlRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := crawler.CrawlRecord{TargetID: 5, HeadingCounts: map[string]int{}, CrawledAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM crawl_results").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM discovered_links").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO crawl_results").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err = store.SaveCrawl(context.Background(), record, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCrawlWithoutResults(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT target_id, html_version").
		WithArgs(int64(8)).
		WillReturnError(pgx.ErrNoRows)

	record, links, err := store.GetCrawl(context.Background(), 8)
	require.NoError(t, err)
	require.Nil(t, record)
	require.Empty(t, links)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCrawlLoadsRecordAndLinks(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTargetStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	version := "HTML5"
	mock.ExpectQuery("SELECT target_id, html_version").
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{
			"target_id", "html_version", "title", "heading_counts",
			"internal_link_count", "external_link_count", "inaccessible_link_count",
			"has_login_form", "crawled_at", "duration_ms",
		}).AddRow(int64(8), &version, (*string)(nil), []byte(`{"h2":3}`), 2, 1, 0, true, now, int64(88)))

	text := "Docs"
	mock.ExpectQuery("SELECT target_id, url, link_text").
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{
			"target_id", "url", "link_text", "internal", "status_code",
			"accessible", "error_message", "created_at",
		}).AddRow(int64(8), "https://example.com/docs", &text, true, (*int)(nil), (*bool)(nil), (*string)(nil), now))

	record, links, err := store.GetCrawl(context.Background(), 8)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "HTML5", *record.HTMLVersion)
	require.Nil(t, record.Title)
	require.Equal(t, 3, record.HeadingCounts["h2"])
	require.True(t, record.HasLoginForm)
	require.Len(t, links, 1)
	require.Equal(t, "https://example.com/docs", links[0].URL)
	require.Equal(t, "Docs", *links[0].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}
