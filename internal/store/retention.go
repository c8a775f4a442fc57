package store

import (
	"context"
	"fmt"
)

// Default per-table retention bounds. History is the fast-growing table
// (one row per episode ever played); downloads and watchlist grow only
// on explicit user action.
const (
	DefaultMaxDownloads = 200
	DefaultMaxHistory   = 100
	DefaultMaxWatchlist = 500
)

// RetentionPolicy bounds each table to its N most-recent rows by that
// table's ordering key. Applied after inserts only; pure updates cannot
// grow a table.
type RetentionPolicy struct {
	MaxDownloads int
	MaxHistory   int
	MaxWatchlist int
}

// DefaultRetention returns the stock per-table bounds.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		MaxDownloads: DefaultMaxDownloads,
		MaxHistory:   DefaultMaxHistory,
		MaxWatchlist: DefaultMaxWatchlist,
	}
}

// Validate rejects non-positive bounds before any durable access.
func (p RetentionPolicy) Validate() error {
	if p.MaxDownloads <= 0 {
		return fmt.Errorf("%w: max downloads %d, must be positive", ErrInvalidConfig, p.MaxDownloads)
	}
	if p.MaxHistory <= 0 {
		return fmt.Errorf("%w: max history %d, must be positive", ErrInvalidConfig, p.MaxHistory)
	}
	if p.MaxWatchlist <= 0 {
		return fmt.Errorf("%w: max watchlist %d, must be positive", ErrInvalidConfig, p.MaxWatchlist)
	}
	return nil
}

// TrimDownloads deletes downloads outside the policy window.
func (p RetentionPolicy) TrimDownloads(ctx context.Context, s Store) (int64, error) {
	if p.MaxDownloads <= 0 {
		return 0, fmt.Errorf("%w: max downloads %d", ErrInvalidConfig, p.MaxDownloads)
	}
	return s.TrimDownloads(ctx, p.MaxDownloads)
}

// TrimHistory deletes history entries outside the policy window.
func (p RetentionPolicy) TrimHistory(ctx context.Context, s Store) (int64, error) {
	if p.MaxHistory <= 0 {
		return 0, fmt.Errorf("%w: max history %d", ErrInvalidConfig, p.MaxHistory)
	}
	return s.TrimHistory(ctx, p.MaxHistory)
}

// TrimWatchlist deletes watchlist entries outside the policy window.
func (p RetentionPolicy) TrimWatchlist(ctx context.Context, s Store) (int64, error) {
	if p.MaxWatchlist <= 0 {
		return 0, fmt.Errorf("%w: max watchlist %d", ErrInvalidConfig, p.MaxWatchlist)
	}
	return s.TrimWatchlist(ctx, p.MaxWatchlist)
}
