// Package memory provides an in-memory TargetStore for development mode
// and tests. It honors the same transactional contract as the Postgres
// store: SaveCrawl either applies completely or not at all.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pagelens/webinsight/internal/crawler"
)

// TargetStore keeps targets, crawl records, and links in process memory.
type TargetStore struct {
	mu      sync.RWMutex
	nextID  int64
	targets map[int64]crawler.Target
	results map[int64]crawler.CrawlRecord
	links   map[int64][]crawler.LinkRow
	clock   crawler.Clock
}

// New creates an empty TargetStore.
func New(clock crawler.Clock) *TargetStore {
	return &TargetStore{
		nextID:  1,
		targets: make(map[int64]crawler.Target),
		results: make(map[int64]crawler.CrawlRecord),
		links:   make(map[int64][]crawler.LinkRow),
		clock:   clock,
	}
}

// CreateTarget registers a URL with status queued. Duplicate URLs are
// rejected, mirroring the unique constraint in the Postgres schema.
func (s *TargetStore) CreateTarget(_ context.Context, rawURL string) (crawler.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.URL == rawURL {
			return crawler.Target{}, crawler.ErrDuplicateTarget
		}
	}
	now := s.clock.Now()
	t := crawler.Target{
		ID:        s.nextID,
		URL:       rawURL,
		Status:    crawler.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.targets[t.ID] = t
	return t, nil
}

// GetTarget returns one target by ID.
func (s *TargetStore) GetTarget(_ context.Context, id int64) (crawler.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return crawler.Target{}, crawler.ErrTargetNotFound
	}
	return t, nil
}

// ListTargets returns all targets ordered by ID, each with its latest
// crawl record attached when one exists.
func (s *TargetStore) ListTargets(_ context.Context) ([]crawler.TargetDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.TargetDetail, 0, len(s.targets))
	for id, t := range s.targets {
		detail := crawler.TargetDetail{Target: t}
		if rec, ok := s.results[id]; ok {
			cp := rec
			detail.Result = &cp
		}
		out = append(out, detail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.ID < out[j].Target.ID })
	return out, nil
}

// DeleteTarget removes a target and cascades to its record and links.
func (s *TargetStore) DeleteTarget(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return crawler.ErrTargetNotFound
	}
	delete(s.targets, id)
	delete(s.results, id)
	delete(s.links, id)
	return nil
}

// UpdateTargetStatus sets the target's lifecycle status. A nil errMsg
// clears any previous error message.
func (s *TargetStore) UpdateTargetStatus(
	_ context.Context,
	id int64,
	status crawler.TargetStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return crawler.ErrTargetNotFound
	}
	t.Status = status
	t.ErrorMessage = errMsg
	t.UpdatedAt = s.clock.Now()
	s.targets[id] = t
	return nil
}

// SaveCrawl atomically replaces the target's crawl record and links and
// marks the target completed.
func (s *TargetStore) SaveCrawl(
	_ context.Context,
	record crawler.CrawlRecord,
	links []crawler.LinkRow,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[record.TargetID]
	if !ok {
		return crawler.ErrTargetNotFound
	}

	s.results[record.TargetID] = record
	s.links[record.TargetID] = append([]crawler.LinkRow(nil), links...)

	t.Status = crawler.StatusCompleted
	t.ErrorMessage = nil
	t.UpdatedAt = s.clock.Now()
	s.targets[record.TargetID] = t
	return nil
}

// GetCrawl returns the latest crawl record and links for a target, or a
// nil record when the target has not completed a crawl yet.
func (s *TargetStore) GetCrawl(
	_ context.Context,
	targetID int64,
) (*crawler.CrawlRecord, []crawler.LinkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.targets[targetID]; !ok {
		return nil, nil, crawler.ErrTargetNotFound
	}
	rec, ok := s.results[targetID]
	if !ok {
		return nil, nil, nil
	}
	out := rec
	return &out, append([]crawler.LinkRow(nil), s.links[targetID]...), nil
}
