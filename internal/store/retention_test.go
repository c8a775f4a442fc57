package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetentionPolicy_Validate(t *testing.T) {
	if err := DefaultRetention().Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}

	bad := []RetentionPolicy{
		{MaxDownloads: 0, MaxHistory: 10, MaxWatchlist: 10},
		{MaxDownloads: 10, MaxHistory: -5, MaxWatchlist: 10},
		{MaxDownloads: 10, MaxHistory: 10, MaxWatchlist: 0},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("policy %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestRetentionPolicy_TrimHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, _, _ = s.UpsertHistory(ctx, HistoryEntry{
			AnimeSlug:   "haikyuu",
			EpisodeSlug: fmt.Sprintf("haikyuu-ep-%d", i),
			UpdatedAtMs: int64(i),
		})
	}

	p := RetentionPolicy{MaxDownloads: 1, MaxHistory: 3, MaxWatchlist: 1}
	deleted, err := p.TrimHistory(ctx, s)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 5 {
		t.Errorf("expected 5 deletions, got %d", deleted)
	}

	rows, _ := s.ListHistory(ctx)
	if len(rows) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(rows))
	}
	if rows[0].UpdatedAtMs != 7 || rows[2].UpdatedAtMs != 5 {
		t.Errorf("kept the wrong window: %+v", rows)
	}
}

func TestRetentionPolicy_RejectsBeforeDeleting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = s.UpsertDownload(ctx, Download{EpisodeSlug: "ep-1", ResolutionLabel: "720p", FilePath: "/a"})

	p := RetentionPolicy{MaxDownloads: -1, MaxHistory: 1, MaxWatchlist: 1}
	if _, err := p.TrimDownloads(ctx, s); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	n, _ := s.CountDownloads(ctx)
	if n != 1 {
		t.Errorf("invalid policy deleted rows, %d remain", n)
	}
}
