package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation used by tests and
// development builds. Same semantics as SQLiteStore, no durability.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	downloads map[string]Download       // "episodeSlug\x00resolutionLabel" -> row
	history   map[string]HistoryEntry   // "animeSlug\x00episodeSlug" -> row
	watchlist map[string]WatchlistEntry // animeSlug -> row

	// FailWrites forces every mutation to report a storage failure,
	// for exercising the no-snapshot-on-failed-write path.
	FailWrites bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		downloads: make(map[string]Download),
		history:   make(map[string]HistoryEntry),
		watchlist: make(map[string]WatchlistEntry),
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func (s *MemoryStore) failure(op string) error {
	return wrapStorage(op, fmt.Errorf("simulated write failure"))
}

func (s *MemoryStore) Close() error { return nil }

// --- downloads ---

func (s *MemoryStore) UpsertDownload(_ context.Context, d Download) (Download, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return Download{}, false, s.failure("upsert download")
	}

	key := pairKey(d.EpisodeSlug, d.ResolutionLabel)
	if existing, ok := s.downloads[key]; ok {
		existing.FilePath = d.FilePath
		s.downloads[key] = existing
		return existing, false, nil
	}
	s.nextID++
	d.ID = s.nextID
	s.downloads[key] = d
	return d, true, nil
}

func (s *MemoryStore) FindDownload(_ context.Context, episodeSlug, resolutionLabel string) (Download, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downloads[pairKey(episodeSlug, resolutionLabel)]
	return d, ok, nil
}

func (s *MemoryStore) DeleteDownload(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, s.failure("delete download")
	}
	for key, d := range s.downloads {
		if d.ID == id {
			delete(s.downloads, key)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *MemoryStore) DeleteDownloadsByPrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, s.failure("delete downloads by prefix")
	}
	var n int64
	for key, d := range s.downloads {
		if strings.HasPrefix(d.EpisodeSlug, prefix) {
			delete(s.downloads, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListDownloads(_ context.Context) ([]Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Download, 0, len(s.downloads))
	for _, d := range s.downloads {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountDownloads(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.downloads)), nil
}

func (s *MemoryStore) TrimDownloads(ctx context.Context, maxRows int) (int64, error) {
	rows, err := s.ListDownloads(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(rows))
	for i, d := range rows {
		ids[i] = d.ID
	}
	victims, err := trimVictims(ids, maxRows)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, d := range s.downloads {
		if victims[d.ID] {
			delete(s.downloads, key)
			n++
		}
	}
	return n, nil
}

// --- history ---

func (s *MemoryStore) UpsertHistory(_ context.Context, e HistoryEntry) (HistoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return HistoryEntry{}, false, s.failure("upsert history")
	}

	key := pairKey(e.AnimeSlug, e.EpisodeSlug)
	if existing, ok := s.history[key]; ok {
		merged, _ := MergeHistory(existing, e)
		s.history[key] = merged
		return merged, false, nil
	}
	s.nextID++
	e.ID = s.nextID
	s.history[key] = e
	return e, true, nil
}

func (s *MemoryStore) FindHistory(_ context.Context, animeSlug, episodeSlug string) (HistoryEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.history[pairKey(animeSlug, episodeSlug)]
	return e, ok, nil
}

func (s *MemoryStore) DeleteHistory(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, s.failure("delete history")
	}
	for key, e := range s.history {
		if e.ID == id {
			delete(s.history, key)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *MemoryStore) ClearHistory(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, s.failure("clear history")
	}
	n := int64(len(s.history))
	s.history = make(map[string]HistoryEntry)
	return n, nil
}

func (s *MemoryStore) ListHistory(_ context.Context) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, 0, len(s.history))
	for _, e := range s.history {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAtMs != out[j].UpdatedAtMs {
			return out[i].UpdatedAtMs > out[j].UpdatedAtMs
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountHistory(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.history)), nil
}

func (s *MemoryStore) TrimHistory(ctx context.Context, maxRows int) (int64, error) {
	rows, err := s.ListHistory(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(rows))
	for i, e := range rows {
		ids[i] = e.ID
	}
	victims, err := trimVictims(ids, maxRows)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, e := range s.history {
		if victims[e.ID] {
			delete(s.history, key)
			n++
		}
	}
	return n, nil
}

// --- watchlist ---

func (s *MemoryStore) UpsertWatchlist(_ context.Context, e WatchlistEntry) (WatchlistEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return WatchlistEntry{}, false, s.failure("upsert watchlist")
	}

	if existing, ok := s.watchlist[e.AnimeSlug]; ok {
		existing.Title = e.Title
		existing.ThumbnailURL = e.ThumbnailURL
		s.watchlist[e.AnimeSlug] = existing
		return existing, false, nil
	}
	s.nextID++
	e.ID = s.nextID
	s.watchlist[e.AnimeSlug] = e
	return e, true, nil
}

func (s *MemoryStore) FindWatchlist(_ context.Context, animeSlug string) (WatchlistEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.watchlist[animeSlug]
	return e, ok, nil
}

func (s *MemoryStore) DeleteWatchlistBySlug(_ context.Context, animeSlug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, s.failure("delete watchlist")
	}
	if _, ok := s.watchlist[animeSlug]; !ok {
		return 0, nil
	}
	delete(s.watchlist, animeSlug)
	return 1, nil
}

func (s *MemoryStore) ListWatchlist(_ context.Context) ([]WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WatchlistEntry, 0, len(s.watchlist))
	for _, e := range s.watchlist {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountWatchlist(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.watchlist)), nil
}

func (s *MemoryStore) TrimWatchlist(ctx context.Context, maxRows int) (int64, error) {
	rows, err := s.ListWatchlist(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(rows))
	for i, e := range rows {
		ids[i] = e.ID
	}
	victims, err := trimVictims(ids, maxRows)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for slug, e := range s.watchlist {
		if victims[e.ID] {
			delete(s.watchlist, slug)
			n++
		}
	}
	return n, nil
}

// trimVictims returns the ids falling outside the maxRows window given
// ids already ordered most-recent-first.
func trimVictims(orderedIDs []int64, maxRows int) (map[int64]bool, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("%w: trim window %d, must be positive", ErrInvalidConfig, maxRows)
	}
	victims := make(map[int64]bool)
	for i, id := range orderedIDs {
		if i >= maxRows {
			victims[id] = true
		}
	}
	return victims, nil
}
