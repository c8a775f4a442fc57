package library

import (
	"sync"

	"github.com/google/uuid"
)

// Download is the read-only view of one downloaded episode file.
type Download struct {
	ID              int64
	EpisodeSlug     string
	ResolutionLabel string
	FilePath        string
}

// HistoryEntry is the read-only view of one episode's watch progress.
type HistoryEntry struct {
	ID          int64
	AnimeSlug   string
	EpisodeSlug string
	ProgressMs  int64
	UpdatedAtMs int64
}

// WatchlistEntry is the read-only view of one queued anime.
type WatchlistEntry struct {
	ID           int64
	AnimeSlug    string
	Title        string
	ThumbnailURL string
}

// Snapshot is a point-in-time view of the whole library: the three
// durable tables in their display order plus the session-recency list.
// Every field corresponds to a durable store state; observers must not
// mutate the slices they receive.
type Snapshot struct {
	Downloads []Download
	History   []HistoryEntry
	Watchlist []WatchlistEntry
	Recents   []RecentItem
}

// Observer receives each published snapshot. Called synchronously on
// the cache's writer goroutine after the durable write completes, so
// observers should hand off to their own goroutine if they do slow work.
type Observer func(Snapshot)

// publisher fans snapshots out to registered observers. Writer-owned:
// only the cache publishes; any number of readers subscribe.
type publisher struct {
	mu        sync.Mutex
	observers map[uuid.UUID]Observer
}

func newPublisher() *publisher {
	return &publisher{observers: make(map[uuid.UUID]Observer)}
}

func (p *publisher) subscribe(fn Observer) uuid.UUID {
	id := uuid.New()
	p.mu.Lock()
	p.observers[id] = fn
	p.mu.Unlock()
	return id
}

func (p *publisher) unsubscribe(id uuid.UUID) {
	p.mu.Lock()
	delete(p.observers, id)
	p.mu.Unlock()
}

// publish invokes every observer with snap. The observer set is copied
// first so a callback may subscribe or unsubscribe without deadlocking.
func (p *publisher) publish(snap Snapshot) {
	p.mu.Lock()
	fns := make([]Observer, 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
