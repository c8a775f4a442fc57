package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(anime, ep string) RecentItem {
	return RecentItem{AnimeSlug: anime, EpisodeSlug: ep}
}

func TestRecentsList_MostRecentFirst(t *testing.T) {
	l := newRecentsList(10)

	l.touch(item("a", "a-ep-1"))
	l.touch(item("b", "b-ep-1"))
	l.touch(item("c", "c-ep-1"))

	got := l.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, item("c", "c-ep-1"), got[0])
	assert.Equal(t, item("a", "a-ep-1"), got[2])
}

func TestRecentsList_TouchExistingMovesToFront(t *testing.T) {
	l := newRecentsList(10)

	l.touch(item("a", "a-ep-1"))
	l.touch(item("b", "b-ep-1"))
	l.touch(item("c", "c-ep-1"))
	l.touch(item("a", "a-ep-1"))

	got := l.snapshot()
	require.Len(t, got, 3, "re-playing an item must not duplicate it")
	assert.Equal(t, item("a", "a-ep-1"), got[0])
	assert.Equal(t, item("c", "c-ep-1"), got[1])
	assert.Equal(t, item("b", "b-ep-1"), got[2])
}

func TestRecentsList_Bounded(t *testing.T) {
	l := newRecentsList(2)

	l.touch(item("a", "1"))
	l.touch(item("b", "2"))
	l.touch(item("c", "3"))

	got := l.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, item("c", "3"), got[0])
	assert.Equal(t, item("b", "2"), got[1])
}

func TestRecentsList_SnapshotIsACopy(t *testing.T) {
	l := newRecentsList(10)
	l.touch(item("a", "1"))

	snap := l.snapshot()
	snap[0] = item("mutated", "x")

	assert.Equal(t, item("a", "1"), l.snapshot()[0])
}

func TestRecentsList_Clear(t *testing.T) {
	l := newRecentsList(10)
	l.touch(item("a", "1"))
	l.clear()
	assert.Empty(t, l.snapshot())
}
