package store

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors distinguishing the failure kinds callers branch on.
var (
	// ErrStorage marks a durable-storage failure (I/O, corruption,
	// permissions). The write did not take effect.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidConfig marks a configuration value rejected before any
	// durable access was attempted.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// wrapStorage tags err as a storage failure while keeping the original
// chain visible to errors.Is/As.
func wrapStorage(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

// Download is a completed download on local disk.
// Natural key: (EpisodeSlug, ResolutionLabel).
type Download struct {
	ID              int64
	EpisodeSlug     string
	ResolutionLabel string
	FilePath        string
}

// HistoryEntry is durable watch progress for one episode.
// Natural key: (AnimeSlug, EpisodeSlug).
type HistoryEntry struct {
	ID          int64
	AnimeSlug   string
	EpisodeSlug string
	ProgressMs  int64
	UpdatedAtMs int64
}

// WatchlistEntry is a queued anime with its denormalized display data.
// Natural key: AnimeSlug.
type WatchlistEntry struct {
	ID           int64
	AnimeSlug    string
	Title        string
	ThumbnailURL string
}

// Store defines persistence for the three library tables.
//
// Every mutation is durable before it returns. Upserts are atomic with
// respect to other upserts on the same natural key: a duplicate natural
// key becomes an in-place update of the existing row, the surrogate id
// is never reassigned, and no uniqueness error reaches the caller. The
// inserted return value reports whether a new row was created, which is
// what decides whether retention runs afterwards.
//
// Deletes and updates on ids that do not exist report zero affected
// rows, not an error.
type Store interface {
	// Downloads. Upsert replaces FilePath on conflict.
	UpsertDownload(ctx context.Context, d Download) (Download, bool, error)
	FindDownload(ctx context.Context, episodeSlug, resolutionLabel string) (Download, bool, error)
	DeleteDownload(ctx context.Context, id int64) (int64, error)
	// DeleteDownloadsByPrefix removes every download whose episode slug
	// starts with prefix (episode slugs embed the anime slug).
	DeleteDownloadsByPrefix(ctx context.Context, prefix string) (int64, error)
	// ListDownloads returns rows ordered by insertion id descending.
	ListDownloads(ctx context.Context) ([]Download, error)
	CountDownloads(ctx context.Context) (int64, error)
	TrimDownloads(ctx context.Context, maxRows int) (int64, error)

	// History. Upsert applies the stale-write guard: the incoming write
	// wins only if its UpdatedAtMs is larger, or equal with a larger
	// ProgressMs. The returned entry is the current stored state, which
	// for a losing write is the untouched existing row.
	UpsertHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, bool, error)
	FindHistory(ctx context.Context, animeSlug, episodeSlug string) (HistoryEntry, bool, error)
	DeleteHistory(ctx context.Context, id int64) (int64, error)
	ClearHistory(ctx context.Context) (int64, error)
	// ListHistory returns rows ordered by UpdatedAtMs descending,
	// ties broken by id descending.
	ListHistory(ctx context.Context) ([]HistoryEntry, error)
	CountHistory(ctx context.Context) (int64, error)
	TrimHistory(ctx context.Context, maxRows int) (int64, error)

	// Watchlist. Upsert replaces Title and ThumbnailURL on conflict.
	UpsertWatchlist(ctx context.Context, e WatchlistEntry) (WatchlistEntry, bool, error)
	FindWatchlist(ctx context.Context, animeSlug string) (WatchlistEntry, bool, error)
	// DeleteWatchlistBySlug removes at most one row; zero affected if
	// no such entry exists.
	DeleteWatchlistBySlug(ctx context.Context, animeSlug string) (int64, error)
	ListWatchlist(ctx context.Context) ([]WatchlistEntry, error)
	CountWatchlist(ctx context.Context) (int64, error)
	TrimWatchlist(ctx context.Context, maxRows int) (int64, error)

	Close() error
}

// MergeHistory applies the monotonicity rule shared by both store
// implementations and by the cache's tick coalescing: larger timestamp
// wins; on an equal timestamp the larger progress wins. Returns the
// surviving entry and whether the incoming write was applied.
func MergeHistory(existing, incoming HistoryEntry) (HistoryEntry, bool) {
	if incoming.UpdatedAtMs < existing.UpdatedAtMs {
		return existing, false
	}
	if incoming.UpdatedAtMs == existing.UpdatedAtMs && incoming.ProgressMs <= existing.ProgressMs {
		return existing, false
	}
	existing.ProgressMs = incoming.ProgressMs
	existing.UpdatedAtMs = incoming.UpdatedAtMs
	return existing, true
}
