package library

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/anime-client/internal/store"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *store.MemoryStore) {
	t.Helper()
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	st := store.NewMemoryStore()
	c := newCache(st, o.retention.policy(), o.log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, st
}

// barrier waits until every previously queued write has been executed.
func barrier(t *testing.T, c *Cache) {
	t.Helper()
	require.NoError(t, c.do(context.Background(), func(context.Context) error { return nil }))
}

func TestCache_WatchlistUpsertIsDeduplicated(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddToWatchlist(ctx, "frieren", "Frieren", "https://img/1.jpg"))
	require.NoError(t, c.AddToWatchlist(ctx, "frieren", "Frieren: Beyond Journey's End", "https://img/2.jpg"))

	rows, err := c.Watchlist(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Frieren: Beyond Journey's End", rows[0].Title)
	assert.Equal(t, "https://img/2.jpg", rows[0].ThumbnailURL)
}

func TestCache_RemoveFromWatchlist(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddToWatchlist(ctx, "gintama", "Gintama", ""))

	removed, err := c.RemoveFromWatchlist(ctx, "gintama")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.RemoveFromWatchlist(ctx, "gintama")
	require.NoError(t, err)
	assert.False(t, removed, "removing an absent entry is a no-op")
}

func TestCache_RecordDownloadReplacesPath(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.RecordDownload(ctx, "ep-1", "720p", "/a"))
	require.NoError(t, c.RecordDownload(ctx, "ep-1", "720p", "/b"))

	rows, err := c.Downloads(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/b", rows[0].FilePath)
}

func TestCache_RemoveDownloadsFor(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.RecordDownload(ctx, "naruto-ep-1", "720p", "/n1"))
	require.NoError(t, c.RecordDownload(ctx, "naruto-ep-2", "1080p", "/n2"))
	require.NoError(t, c.RecordDownload(ctx, "bleach-ep-1", "720p", "/b1"))

	n, err := c.RemoveDownloadsFor(ctx, "naruto")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := c.Downloads(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bleach-ep-1", rows[0].EpisodeSlug)
}

func TestCache_OutOfOrderProgressKeepsNewerState(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ReportProgress("frieren", "frieren-ep-3", 90_000, 0, 100))
	barrier(t, c)
	require.NoError(t, c.ReportProgress("frieren", "frieren-ep-3", 10_000, 0, 50))
	barrier(t, c)

	progress, _, found, err := c.ResumePoint(ctx, "frieren", "frieren-ep-3", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(90_000), progress, "stale tick must not regress the resume point")

	history, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(100), history[0].UpdatedAtMs)
}

func TestCache_CoalescedStaleTickNeverLands(t *testing.T) {
	c, st := newTestCache(t)

	// Two ticks queued back to back with no barrier: the stale one
	// folds into the pending job and the newer state is what persists.
	require.NoError(t, c.ReportProgress("a", "a-ep-1", 90_000, 0, 100))
	require.NoError(t, c.ReportProgress("a", "a-ep-1", 10_000, 0, 50))
	barrier(t, c)

	e, ok, err := st.FindHistory(context.Background(), "a", "a-ep-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), e.UpdatedAtMs)
	assert.Equal(t, int64(90_000), e.ProgressMs)
}

func TestCache_ReportProgressRejectsBadInput(t *testing.T) {
	c, _ := newTestCache(t)

	assert.ErrorIs(t, c.ReportProgress("", "ep", 0, 0, 0), ErrInvalidInput)
	assert.ErrorIs(t, c.ReportProgress("a", "", 0, 0, 0), ErrInvalidInput)
	assert.ErrorIs(t, c.ReportProgress("a", "ep", -1, 0, 0), ErrInvalidInput)
}

func TestCache_ReportProgressUpdatesRecentsImmediately(t *testing.T) {
	c, _ := newTestCache(t)

	require.NoError(t, c.ReportProgress("a", "a-ep-1", 1000, 0, 10))
	require.NoError(t, c.ReportProgress("b", "b-ep-1", 1000, 0, 20))
	require.NoError(t, c.ReportProgress("a", "a-ep-1", 2000, 0, 30))

	// No barrier: session recency is visible before the durable writes.
	recents := c.Recents()
	require.Len(t, recents, 2)
	assert.Equal(t, RecentItem{AnimeSlug: "a", EpisodeSlug: "a-ep-1"}, recents[0])
	assert.Equal(t, RecentItem{AnimeSlug: "b", EpisodeSlug: "b-ep-1"}, recents[1])
}

func TestCache_SessionAndDurableRecencyAgree(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ReportProgress("a", "a-ep-1", 1000, 0, 10))
	require.NoError(t, c.ReportProgress("b", "b-ep-1", 1000, 0, 20))
	require.NoError(t, c.ReportProgress("c", "c-ep-1", 1000, 0, 30))
	barrier(t, c)

	history, err := c.History(ctx)
	require.NoError(t, err)
	recents := c.Recents()
	require.Len(t, history, 3)
	require.Len(t, recents, 3)
	for i := range history {
		assert.Equal(t, recents[i].EpisodeSlug, history[i].EpisodeSlug,
			"session and durable recency disagree at position %d", i)
	}
}

func TestCache_HistoryRetention(t *testing.T) {
	c, _ := newTestCache(t, WithRetention(Retention{MaxHistory: 100}))
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		require.NoError(t, c.ReportProgress("show", fmt.Sprintf("show-ep-%d", i), 1000, 0, int64(1000+i)))
	}
	barrier(t, c)

	history, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 100)
	assert.Equal(t, int64(1149), history[0].UpdatedAtMs)
	assert.Equal(t, int64(1050), history[99].UpdatedAtMs)
}

func TestCache_ResumePointPercent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ReportProgress("a", "a-ep-1", 5000, 10_000, 100))
	barrier(t, c)

	progress, percent, found, err := c.ResumePoint(ctx, "a", "a-ep-1", 10_000)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(5000), progress)
	assert.Equal(t, 50, percent)

	// Duration still unknown at read time: fallback heuristic.
	_, percent, _, err = c.ResumePoint(ctx, "a", "a-ep-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, percent)

	_, _, found, err = c.ResumePoint(ctx, "a", "never-played", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_SnapshotPublishedAfterDurableWrite(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var seen []Snapshot
	c.Subscribe(func(s Snapshot) { seen = append(seen, s) })

	require.NoError(t, c.AddToWatchlist(ctx, "frieren", "Frieren", ""))

	// Synchronous contract: by the time AddToWatchlist returned, the
	// snapshot had been delivered.
	require.Len(t, seen, 1)
	require.Len(t, seen[0].Watchlist, 1)
	assert.Equal(t, "frieren", seen[0].Watchlist[0].AnimeSlug)
}

func TestCache_FailedWritePublishesNothing(t *testing.T) {
	c, st := newTestCache(t)
	ctx := context.Background()

	var published int
	c.Subscribe(func(Snapshot) { published++ })

	st.FailWrites = true
	err := c.AddToWatchlist(ctx, "frieren", "Frieren", "")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Zero(t, published, "failed write must not publish a snapshot")

	st.FailWrites = false
	require.NoError(t, c.AddToWatchlist(ctx, "frieren", "Frieren", ""))
	assert.Equal(t, 1, published)
}

func TestCache_Unsubscribe(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int
	id := c.Subscribe(func(Snapshot) { calls++ })

	require.NoError(t, c.AddToWatchlist(ctx, "a", "A", ""))
	c.Unsubscribe(id)
	require.NoError(t, c.AddToWatchlist(ctx, "b", "B", ""))

	assert.Equal(t, 1, calls)
}

func TestCache_CloseDrainsPendingTicks(t *testing.T) {
	st := store.NewMemoryStore()
	c := newCache(st, store.DefaultRetention(), zap.NewNop())

	require.NoError(t, c.ReportProgress("a", "a-ep-1", 42_000, 0, 7))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	e, ok, err := st.FindHistory(context.Background(), "a", "a-ep-1")
	require.NoError(t, err)
	require.True(t, ok, "pending tick must be flushed on shutdown")
	assert.Equal(t, int64(42_000), e.ProgressMs)
}

func TestCache_OperationsAfterClose(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Close(ctx))

	assert.ErrorIs(t, c.AddToWatchlist(ctx, "a", "A", ""), ErrClosed)
	assert.ErrorIs(t, c.ReportProgress("a", "ep", 0, 0, 0), ErrClosed)
	_, err := c.RemoveFromWatchlist(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCache_ClearHistory(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ReportProgress("a", "a-ep-1", 1000, 0, 10))
	require.NoError(t, c.ReportProgress("b", "b-ep-1", 1000, 0, 20))
	barrier(t, c)

	n, err := c.ClearHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	history, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, c.Recents())
}

func TestCache_ConcurrentWritersSingleRowPerKey(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	done := make(chan error, 2)
	go func() {
		var err error
		for i := 0; i < 50 && err == nil; i++ {
			err = c.ReportProgress("show", "show-ep-1", int64(i*100), 0, int64(i))
		}
		done <- err
	}()
	go func() {
		var err error
		for i := 0; i < 20 && err == nil; i++ {
			err = c.AddToWatchlist(ctx, "show", "Show", "")
		}
		done <- err
	}()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	barrier(t, c)

	history, err := c.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	watchlist, err := c.Watchlist(ctx)
	require.NoError(t, err)
	assert.Len(t, watchlist, 1)
}

func TestOpenInMemory_RejectsInvalidRetention(t *testing.T) {
	_, err := OpenInMemory(WithRetention(Retention{MaxHistory: -1}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
