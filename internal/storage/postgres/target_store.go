// Package postgres provides Postgres-backed persistence implementations.
//
// Schema (migrations live alongside deployment config):
//
//	CREATE TABLE targets (
//	    id            BIGSERIAL PRIMARY KEY,
//	    url           TEXT NOT NULL UNIQUE,
//	    status        TEXT NOT NULL DEFAULT 'queued',
//	    error_message TEXT,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE crawl_results (
//	    target_id               BIGINT PRIMARY KEY REFERENCES targets(id) ON DELETE CASCADE,
//	    html_version            TEXT,
//	    title                   TEXT,
//	    heading_counts          JSONB NOT NULL DEFAULT '{}',
//	    internal_link_count     INT NOT NULL DEFAULT 0,
//	    external_link_count     INT NOT NULL DEFAULT 0,
//	    inaccessible_link_count INT NOT NULL DEFAULT 0,
//	    has_login_form          BOOLEAN NOT NULL DEFAULT FALSE,
//	    crawled_at              TIMESTAMPTZ NOT NULL,
//	    duration_ms             BIGINT NOT NULL DEFAULT 0
//	);
//
//	CREATE TABLE discovered_links (
//	    id            BIGSERIAL PRIMARY KEY,
//	    target_id     BIGINT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
//	    url           TEXT NOT NULL,
//	    link_text     TEXT,
//	    internal      BOOLEAN NOT NULL,
//	    status_code   INT,
//	    accessible    BOOLEAN,
//	    error_message TEXT,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX discovered_links_target_id_idx ON discovered_links (target_id);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelens/webinsight/internal/crawler"
)

// linkBatchSize bounds how many link inserts ride in one batch round trip.
const linkBatchSize = 50

const uniqueViolationCode = "23505"

// TargetStoreConfig controls the Postgres connection pool used for targets
// and crawl results.
type TargetStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// TargetStore persists targets, crawl records, and discovered links in
// Postgres. It implements crawler.TargetStore.
type TargetStore struct {
	pool pgxPool
}

// NewTargetStore creates a Postgres-backed TargetStore using the provided config.
func NewTargetStore(ctx context.Context, cfg TargetStoreConfig) (*TargetStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TargetStore{pool: pool}, nil
}

// NewTargetStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTargetStoreWithPool(pool pgxPool) (*TargetStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TargetStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TargetStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateTarget inserts a new target in status queued. A URL that already
// exists fails with crawler.ErrDuplicateTarget.
func (s *TargetStore) CreateTarget(ctx context.Context, rawURL string) (crawler.Target, error) {
	const query = `
INSERT INTO targets (url, status)
VALUES ($1, $2)
RETURNING id, url, status, error_message, created_at, updated_at`

	var t crawler.Target
	err := s.pool.QueryRow(ctx, query, rawURL, crawler.StatusQueued).Scan(
		&t.ID, &t.URL, &t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return crawler.Target{}, fmt.Errorf("%w: %s", crawler.ErrDuplicateTarget, rawURL)
		}
		return crawler.Target{}, fmt.Errorf("insert target: %w", err)
	}
	return t, nil
}

// GetTarget loads one target by ID.
func (s *TargetStore) GetTarget(ctx context.Context, id int64) (crawler.Target, error) {
	const query = `
SELECT id, url, status, error_message, created_at, updated_at
FROM targets
WHERE id = $1`

	var t crawler.Target
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.URL, &t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Target{}, crawler.ErrTargetNotFound
	}
	if err != nil {
		return crawler.Target{}, fmt.Errorf("select target: %w", err)
	}
	return t, nil
}

// ListTargets returns all targets ordered by ID with their latest crawl
// record joined in a single round trip. Targets never crawled carry a nil
// record.
func (s *TargetStore) ListTargets(ctx context.Context) ([]crawler.TargetDetail, error) {
	const query = `
SELECT t.id, t.url, t.status, t.error_message, t.created_at, t.updated_at,
       r.target_id, r.html_version, r.title, r.heading_counts,
       r.internal_link_count, r.external_link_count, r.inaccessible_link_count,
       r.has_login_form, r.crawled_at, r.duration_ms
FROM targets t
LEFT JOIN crawl_results r ON r.target_id = t.id
ORDER BY t.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	details := make([]crawler.TargetDetail, 0)
	for rows.Next() {
		var (
			t            crawler.Target
			resultID     *int64
			version      *string
			title        *string
			headingJSON  []byte
			internal     *int
			external     *int
			inaccessible *int
			hasLogin     *bool
			crawledAt    *time.Time
			durationMs   *int64
		)
		if err := rows.Scan(
			&t.ID, &t.URL, &t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
			&resultID, &version, &title, &headingJSON,
			&internal, &external, &inaccessible,
			&hasLogin, &crawledAt, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}

		detail := crawler.TargetDetail{Target: t}
		if resultID != nil {
			record := crawler.CrawlRecord{
				TargetID:              *resultID,
				HTMLVersion:           version,
				Title:                 title,
				InternalLinkCount:     *internal,
				ExternalLinkCount:     *external,
				InaccessibleLinkCount: *inaccessible,
				HasLoginForm:          *hasLogin,
				CrawledAt:             *crawledAt,
				DurationMs:            *durationMs,
			}
			if len(headingJSON) > 0 {
				if err := json.Unmarshal(headingJSON, &record.HeadingCounts); err != nil {
					return nil, fmt.Errorf("unmarshal heading counts: %w", err)
				}
			}
			detail.Result = &record
		}
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return details, nil
}

// DeleteTarget removes a target; crawl results and links follow via the
// cascading foreign keys.
func (s *TargetStore) DeleteTarget(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrTargetNotFound
	}
	return nil
}

// UpdateTargetStatus moves a target through the crawl state machine. A nil
// errMsg clears any previous error message.
func (s *TargetStore) UpdateTargetStatus(ctx context.Context, id int64, status crawler.TargetStatus, errMsg *string) error {
	const query = `
UPDATE targets
SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update target status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrTargetNotFound
	}
	return nil
}

// SaveCrawl commits a crawl in one transaction: previous results and links
// for the target are replaced, the new record and links are written, and
// the target is marked completed. Either everything lands or nothing does.
func (s *TargetStore) SaveCrawl(ctx context.Context, record crawler.CrawlRecord, links []crawler.LinkRow) error {
	headingJSON, err := json.Marshal(record.HeadingCounts)
	if err != nil {
		return fmt.Errorf("marshal heading counts: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save crawl: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM crawl_results WHERE target_id = $1`, record.TargetID); err != nil {
		return fmt.Errorf("clear previous result: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM discovered_links WHERE target_id = $1`, record.TargetID); err != nil {
		return fmt.Errorf("clear previous links: %w", err)
	}

	const insertResult = `
INSERT INTO crawl_results (
	target_id,
	html_version,
	title,
	heading_counts,
	internal_link_count,
	external_link_count,
	inaccessible_link_count,
	has_login_form,
	crawled_at,
	duration_ms
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	if _, err := tx.Exec(ctx, insertResult,
		record.TargetID,
		record.HTMLVersion,
		record.Title,
		headingJSON,
		record.InternalLinkCount,
		record.ExternalLinkCount,
		record.InaccessibleLinkCount,
		record.HasLoginForm,
		record.CrawledAt,
		record.DurationMs,
	); err != nil {
		return fmt.Errorf("insert crawl result: %w", err)
	}

	if err := insertLinks(ctx, tx, links); err != nil {
		return err
	}

	const markCompleted = `
UPDATE targets
SET status = $2, error_message = NULL, updated_at = now()
WHERE id = $1`

	if _, err := tx.Exec(ctx, markCompleted, record.TargetID, crawler.StatusCompleted); err != nil {
		return fmt.Errorf("mark target completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save crawl: %w", err)
	}
	return nil
}

const insertLink = `
INSERT INTO discovered_links (
	target_id, url, link_text, internal, status_code, accessible, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

// insertLinks writes link rows in batches to keep round trips bounded on
// link-heavy pages.
func insertLinks(ctx context.Context, tx pgx.Tx, links []crawler.LinkRow) error {
	for start := 0; start < len(links); start += linkBatchSize {
		end := start + linkBatchSize
		if end > len(links) {
			end = len(links)
		}

		batch := &pgx.Batch{}
		for _, l := range links[start:end] {
			batch.Queue(insertLink,
				l.TargetID, l.URL, l.Text, l.Internal,
				l.StatusCode, l.Accessible, l.ErrorMessage, l.CreatedAt,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range links[start:end] {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert links: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close link batch: %w", err)
		}
	}
	return nil
}

// GetCrawl loads the latest crawl record and links for a target. A target
// that has never completed a crawl returns a nil record and no links.
func (s *TargetStore) GetCrawl(ctx context.Context, targetID int64) (*crawler.CrawlRecord, []crawler.LinkRow, error) {
	const resultQuery = `
SELECT target_id, html_version, title, heading_counts,
       internal_link_count, external_link_count, inaccessible_link_count,
       has_login_form, crawled_at, duration_ms
FROM crawl_results
WHERE target_id = $1`

	var (
		record      crawler.CrawlRecord
		headingJSON []byte
	)
	err := s.pool.QueryRow(ctx, resultQuery, targetID).Scan(
		&record.TargetID,
		&record.HTMLVersion,
		&record.Title,
		&headingJSON,
		&record.InternalLinkCount,
		&record.ExternalLinkCount,
		&record.InaccessibleLinkCount,
		&record.HasLoginForm,
		&record.CrawledAt,
		&record.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("select crawl result: %w", err)
	}
	if len(headingJSON) > 0 {
		if err := json.Unmarshal(headingJSON, &record.HeadingCounts); err != nil {
			return nil, nil, fmt.Errorf("unmarshal heading counts: %w", err)
		}
	}

	const linksQuery = `
SELECT target_id, url, link_text, internal, status_code, accessible, error_message, created_at
FROM discovered_links
WHERE target_id = $1
ORDER BY id`

	rows, err := s.pool.Query(ctx, linksQuery, targetID)
	if err != nil {
		return nil, nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()

	links := make([]crawler.LinkRow, 0)
	for rows.Next() {
		var l crawler.LinkRow
		if err := rows.Scan(&l.TargetID, &l.URL, &l.Text, &l.Internal, &l.StatusCode, &l.Accessible, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate links: %w", err)
	}
	return &record, links, nil
}
