// Package library is the local library cache of the client: the durable
// record of what the user is watching, has watched, has queued and has
// downloaded, plus the reactive snapshot the UI observes. All mutation
// flows through a Cache; presentation code never touches storage
// directly.
package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/anime-client/internal/platform/config"
	"github.com/example/anime-client/internal/platform/logging"
	"github.com/example/anime-client/internal/store"
)

var (
	// ErrInvalidInput marks arguments rejected before any durable
	// access (empty slugs, negative progress).
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("library cache is closed")

	// ErrStorage marks a durable-storage failure. The previously
	// durable state is intact and still visible.
	ErrStorage = store.ErrStorage

	// ErrInvalidConfig marks a configuration value rejected at Open.
	ErrInvalidConfig = store.ErrInvalidConfig
)

// Cache owns the record store and is the single mutation path into it.
// Safe for concurrent callers: writes are serialized through one writer
// goroutine, progress ticks are coalesced per episode, and reads go to
// the store directly.
type Cache struct {
	log     *zap.Logger
	store   store.Store
	policy  store.RetentionPolicy
	queue   *writeQueue
	recents *recentsList
	pub     *publisher

	writerDone chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
}

// Open opens (creating on first run) the library database at dbPath and
// starts the cache.
func Open(dbPath string, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	policy := o.retention.policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return newCache(st, policy, o.log), nil
}

// OpenFromEnv builds the cache from environment configuration (and the
// optional LIBRARY_CONFIG YAML overlay). Explicit options still win
// over the environment.
func OpenFromEnv(opts ...Option) (*Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		return nil, err
	}

	merged := []Option{
		WithLogger(log),
		WithRetention(Retention{
			MaxDownloads: cfg.Retention.MaxDownloads,
			MaxHistory:   cfg.Retention.MaxHistory,
			MaxWatchlist: cfg.Retention.MaxWatchlist,
		}),
	}
	merged = append(merged, opts...)
	return Open(cfg.DBPath, merged...)
}

// OpenInMemory starts a cache with no durability, for development and
// tests.
func OpenInMemory(opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	policy := o.retention.policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return newCache(store.NewMemoryStore(), policy, o.log), nil
}

func newCache(st store.Store, policy store.RetentionPolicy, log *zap.Logger) *Cache {
	c := &Cache{
		log:        log,
		store:      st,
		policy:     policy,
		queue:      newWriteQueue(),
		recents:    newRecentsList(policy.MaxHistory),
		pub:        newPublisher(),
		writerDone: make(chan struct{}),
	}
	go c.runWriter()
	return c
}

// Close stops intake, drains every pending durable write and closes the
// store. No queued write is dropped; ctx bounds only how long the drain
// may take.
func (c *Cache) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.queue.close()
		select {
		case <-c.writerDone:
			err = c.store.Close()
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (c *Cache) runWriter() {
	defer close(c.writerDone)
	for {
		j, ok := c.queue.next()
		if !ok {
			return
		}
		err := j.run(context.Background())
		if err != nil {
			c.log.Error("durable write failed", zap.Error(err))
		}
		if j.reply != nil {
			j.reply <- err
		}
	}
}

// do queues an awaited write and blocks until the writer has executed
// it (and published the resulting snapshot) or ctx expires.
func (c *Cache) do(ctx context.Context, run func(ctx context.Context) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	reply := make(chan error, 1)
	if err := c.queue.enqueue(&job{run: run, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- watchlist ---

// AddToWatchlist upserts the anime keyed by slug, storing the
// denormalized display data as given.
func (c *Cache) AddToWatchlist(ctx context.Context, animeSlug, title, thumbnailURL string) error {
	if strings.TrimSpace(animeSlug) == "" {
		return fmt.Errorf("%w: empty anime slug", ErrInvalidInput)
	}
	return c.do(ctx, func(ctx context.Context) error {
		_, inserted, err := c.store.UpsertWatchlist(ctx, store.WatchlistEntry{
			AnimeSlug:    animeSlug,
			Title:        title,
			ThumbnailURL: thumbnailURL,
		})
		if err != nil {
			return err
		}
		if inserted {
			if _, err := c.policy.TrimWatchlist(ctx, c.store); err != nil {
				return err
			}
		}
		c.publish(ctx)
		return nil
	})
}

// RemoveFromWatchlist deletes by anime slug. Removing an absent entry
// is a no-op, reported via the boolean.
func (c *Cache) RemoveFromWatchlist(ctx context.Context, animeSlug string) (bool, error) {
	if strings.TrimSpace(animeSlug) == "" {
		return false, fmt.Errorf("%w: empty anime slug", ErrInvalidInput)
	}
	var affected int64
	err := c.do(ctx, func(ctx context.Context) error {
		n, err := c.store.DeleteWatchlistBySlug(ctx, animeSlug)
		if err != nil {
			return err
		}
		affected = n
		if n > 0 {
			c.publish(ctx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Watchlist returns entries newest-first.
func (c *Cache) Watchlist(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := c.store.ListWatchlist(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]WatchlistEntry, len(rows))
	for i, r := range rows {
		out[i] = WatchlistEntry(r)
	}
	return out, nil
}

// --- downloads ---

// RecordDownload upserts the completed download keyed by episode and
// resolution; a repeated completion replaces the stored file path.
func (c *Cache) RecordDownload(ctx context.Context, episodeSlug, resolutionLabel, filePath string) error {
	if strings.TrimSpace(episodeSlug) == "" || strings.TrimSpace(resolutionLabel) == "" {
		return fmt.Errorf("%w: empty episode slug or resolution", ErrInvalidInput)
	}
	return c.do(ctx, func(ctx context.Context) error {
		_, inserted, err := c.store.UpsertDownload(ctx, store.Download{
			EpisodeSlug:     episodeSlug,
			ResolutionLabel: resolutionLabel,
			FilePath:        filePath,
		})
		if err != nil {
			return err
		}
		if inserted {
			if _, err := c.policy.TrimDownloads(ctx, c.store); err != nil {
				return err
			}
		}
		c.publish(ctx)
		return nil
	})
}

// RemoveDownload deletes by surrogate id (user deletion or file-loss
// detection by the download manager).
func (c *Cache) RemoveDownload(ctx context.Context, id int64) (bool, error) {
	var affected int64
	err := c.do(ctx, func(ctx context.Context) error {
		n, err := c.store.DeleteDownload(ctx, id)
		if err != nil {
			return err
		}
		affected = n
		if n > 0 {
			c.publish(ctx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RemoveDownloadsFor deletes every download of the anime. Episode slugs
// embed the anime slug as a prefix.
func (c *Cache) RemoveDownloadsFor(ctx context.Context, animeSlug string) (int64, error) {
	if strings.TrimSpace(animeSlug) == "" {
		return 0, fmt.Errorf("%w: empty anime slug", ErrInvalidInput)
	}
	var affected int64
	err := c.do(ctx, func(ctx context.Context) error {
		n, err := c.store.DeleteDownloadsByPrefix(ctx, animeSlug)
		if err != nil {
			return err
		}
		affected = n
		if n > 0 {
			c.publish(ctx)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Downloads returns downloads newest-first.
func (c *Cache) Downloads(ctx context.Context) ([]Download, error) {
	rows, err := c.store.ListDownloads(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Download, len(rows))
	for i, r := range rows {
		out[i] = Download(r)
	}
	return out, nil
}

// --- history / playback ---

// ReportProgress records a playback tick. Fire-and-forget: the session
// recents reorder is visible immediately, the durable upsert is queued,
// and ticks for the same episode coalesce so only the newest pending
// one reaches the store. Out-of-order ticks are resolved by the store's
// monotonicity rule, not by arrival order. durationMs is not persisted.
func (c *Cache) ReportProgress(animeSlug, episodeSlug string, progressMs, durationMs, timestampMs int64) error {
	if strings.TrimSpace(animeSlug) == "" || strings.TrimSpace(episodeSlug) == "" {
		return fmt.Errorf("%w: empty anime or episode slug", ErrInvalidInput)
	}
	if progressMs < 0 {
		return fmt.Errorf("%w: negative progress %d", ErrInvalidInput, progressMs)
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.recents.touch(RecentItem{AnimeSlug: animeSlug, EpisodeSlug: episodeSlug})

	j := &job{
		key: "history\x00" + animeSlug + "\x00" + episodeSlug,
		tick: store.HistoryEntry{
			AnimeSlug:   animeSlug,
			EpisodeSlug: episodeSlug,
			ProgressMs:  progressMs,
			UpdatedAtMs: timestampMs,
		},
	}
	// The run closure reads j.tick at execution time: a later tick that
	// folded into this pending job is the one that lands.
	j.run = func(ctx context.Context) error {
		_, inserted, err := c.store.UpsertHistory(ctx, j.tick)
		if err != nil {
			return err
		}
		if inserted {
			if _, err := c.policy.TrimHistory(ctx, c.store); err != nil {
				return err
			}
		}
		c.publish(ctx)
		return nil
	}
	return c.queue.enqueue(j)
}

// ResumePoint returns the stored progress for the episode and its
// percentage, estimated against the caller-provided duration (zero if
// the player has not reported one yet).
func (c *Cache) ResumePoint(ctx context.Context, animeSlug, episodeSlug string, durationMs int64) (int64, int, bool, error) {
	e, ok, err := c.store.FindHistory(ctx, animeSlug, episodeSlug)
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		return 0, 0, false, nil
	}
	return e.ProgressMs, EstimatePercent(e.ProgressMs, durationMs), true, nil
}

// History returns durable history, most recently updated first.
func (c *Cache) History(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := c.store.ListHistory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = HistoryEntry(r)
	}
	return out, nil
}

// ClearHistory wipes the durable history table and the session recents.
func (c *Cache) ClearHistory(ctx context.Context) (int64, error) {
	var affected int64
	err := c.do(ctx, func(ctx context.Context) error {
		n, err := c.store.ClearHistory(ctx)
		if err != nil {
			return err
		}
		affected = n
		c.recents.clear()
		c.publish(ctx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Recents returns the session-recency view, most-recent-first.
func (c *Cache) Recents() []RecentItem {
	return c.recents.snapshot()
}

// --- reactive snapshot ---

// Subscribe registers an observer for every subsequent snapshot and
// returns its token.
func (c *Cache) Subscribe(fn Observer) uuid.UUID {
	return c.pub.subscribe(fn)
}

// Unsubscribe removes the observer registered under id.
func (c *Cache) Unsubscribe(id uuid.UUID) {
	c.pub.unsubscribe(id)
}

// CurrentSnapshot builds a snapshot on demand, outside the publish
// cycle.
func (c *Cache) CurrentSnapshot(ctx context.Context) (Snapshot, error) {
	return c.buildSnapshot(ctx)
}

// publish rebuilds the snapshot from the store and notifies observers.
// Runs on the writer goroutine after a durable mutation, so the store
// cannot change underneath it. A failed rebuild publishes nothing; the
// previous snapshot stays the last one observers saw.
func (c *Cache) publish(ctx context.Context) {
	snap, err := c.buildSnapshot(ctx)
	if err != nil {
		c.log.Error("snapshot rebuild failed", zap.Error(err))
		return
	}
	c.pub.publish(snap)
}

func (c *Cache) buildSnapshot(ctx context.Context) (Snapshot, error) {
	downloads, err := c.Downloads(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	history, err := c.History(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	watchlist, err := c.Watchlist(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Downloads: downloads,
		History:   history,
		Watchlist: watchlist,
		Recents:   c.recents.snapshot(),
	}, nil
}
