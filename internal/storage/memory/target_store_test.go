package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/webinsight/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newStore() *TargetStore {
	return New(fixedClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)})
}

func TestCreateTargetAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	s := newStore()
	a, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)
	b, err := s.CreateTarget(context.Background(), "https://b.test/")
	require.NoError(t, err)

	require.Equal(t, int64(1), a.ID)
	require.Equal(t, int64(2), b.ID)
	require.Equal(t, crawler.StatusQueued, a.Status)
}

func TestCreateTargetRejectsDuplicateURL(t *testing.T) {
	t.Parallel()

	s := newStore()
	_, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)

	_, err = s.CreateTarget(context.Background(), "https://a.test/")
	require.ErrorIs(t, err, crawler.ErrDuplicateTarget)
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()

	s := newStore()
	_, err := s.GetTarget(context.Background(), 42)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
}

func TestListTargetsOrderedByID(t *testing.T) {
	t.Parallel()

	s := newStore()
	for _, u := range []string{"https://c.test/", "https://a.test/", "https://b.test/"} {
		_, err := s.CreateTarget(context.Background(), u)
		require.NoError(t, err)
	}
	title := "crawled"
	require.NoError(t, s.SaveCrawl(context.Background(),
		crawler.CrawlRecord{TargetID: 2, Title: &title, HeadingCounts: map[string]int{}}, nil))

	details, err := s.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, details, 3)
	require.Equal(t, int64(1), details[0].Target.ID)
	require.Equal(t, int64(3), details[2].Target.ID)

	require.Nil(t, details[0].Result)
	require.NotNil(t, details[1].Result)
	require.Equal(t, "crawled", *details[1].Result.Title)
}

func TestDeleteTargetCascades(t *testing.T) {
	t.Parallel()

	s := newStore()
	target, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.NoError(t, s.SaveCrawl(context.Background(),
		crawler.CrawlRecord{TargetID: target.ID, HeadingCounts: map[string]int{}},
		[]crawler.LinkRow{{TargetID: target.ID, URL: "https://a.test/x", Internal: true}},
	))

	require.NoError(t, s.DeleteTarget(context.Background(), target.ID))
	require.ErrorIs(t, s.DeleteTarget(context.Background(), target.ID), crawler.ErrTargetNotFound)

	_, _, err = s.GetCrawl(context.Background(), target.ID)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
}

func TestUpdateTargetStatusSetsAndClearsError(t *testing.T) {
	t.Parallel()

	s := newStore()
	target, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)

	msg := "timeout: request exceeded deadline"
	require.NoError(t, s.UpdateTargetStatus(context.Background(), target.ID, crawler.StatusError, &msg))
	got, err := s.GetTarget(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusError, got.Status)
	require.Equal(t, msg, *got.ErrorMessage)

	require.NoError(t, s.UpdateTargetStatus(context.Background(), target.ID, crawler.StatusQueued, nil))
	got, err = s.GetTarget(context.Background(), target.ID)
	require.NoError(t, err)
	require.Nil(t, got.ErrorMessage)
}

func TestSaveCrawlReplacesPreviousResults(t *testing.T) {
	t.Parallel()

	s := newStore()
	target, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)

	v1 := "v1"
	require.NoError(t, s.SaveCrawl(context.Background(),
		crawler.CrawlRecord{TargetID: target.ID, Title: &v1, HeadingCounts: map[string]int{}},
		[]crawler.LinkRow{
			{TargetID: target.ID, URL: "https://a.test/1", Internal: true},
			{TargetID: target.ID, URL: "https://a.test/2", Internal: true},
		},
	))

	v2 := "v2"
	require.NoError(t, s.SaveCrawl(context.Background(),
		crawler.CrawlRecord{TargetID: target.ID, Title: &v2, HeadingCounts: map[string]int{}},
		[]crawler.LinkRow{{TargetID: target.ID, URL: "https://a.test/only", Internal: true}},
	))

	record, links, err := s.GetCrawl(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", *record.Title)
	require.Len(t, links, 1)

	got, err := s.GetTarget(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusCompleted, got.Status)
	require.Nil(t, got.ErrorMessage)
}

func TestSaveCrawlUnknownTarget(t *testing.T) {
	t.Parallel()

	s := newStore()
	err := s.SaveCrawl(context.Background(), crawler.CrawlRecord{TargetID: 9}, nil)
	require.ErrorIs(t, err, crawler.ErrTargetNotFound)
}

func TestGetCrawlBeforeFirstCrawl(t *testing.T) {
	t.Parallel()

	s := newStore()
	target, err := s.CreateTarget(context.Background(), "https://a.test/")
	require.NoError(t, err)

	record, links, err := s.GetCrawl(context.Background(), target.ID)
	require.NoError(t, err)
	require.Nil(t, record)
	require.Empty(t, links)
}
