package library

import "sync"

// RecentItem identifies one played episode in the session-recency view.
type RecentItem struct {
	AnimeSlug   string
	EpisodeSlug string
}

// recentsList is the in-memory "recently played" companion to the
// durable history table. It is keyed by item identity: playing an item
// already present removes its old position and re-inserts it at the
// front. It reflects session recency and is updated before the durable
// write lands, so the UI sees the reorder immediately.
type recentsList struct {
	mu    sync.Mutex
	items []RecentItem
	max   int
}

func newRecentsList(max int) *recentsList {
	if max <= 0 {
		max = 1
	}
	return &recentsList{max: max}
}

// touch moves item to the front, inserting it if absent, and drops the
// oldest entry once the list exceeds its bound.
func (l *recentsList) touch(item RecentItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.items {
		if existing == item {
			copy(l.items[1:i+1], l.items[:i])
			l.items[0] = item
			return
		}
	}

	l.items = append(l.items, RecentItem{})
	copy(l.items[1:], l.items)
	l.items[0] = item
	if len(l.items) > l.max {
		l.items = l.items[:l.max]
	}
}

// clear empties the list.
func (l *recentsList) clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

// snapshot returns a copy, most-recent-first.
func (l *recentsList) snapshot() []RecentItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RecentItem, len(l.items))
	copy(out, l.items)
	return out
}
