package library

import (
	"go.uber.org/zap"

	"github.com/example/anime-client/internal/store"
)

// Retention bounds each durable table to its N most-recent rows.
// Zero-valued fields fall back to the stock defaults.
type Retention struct {
	MaxDownloads int
	MaxHistory   int
	MaxWatchlist int
}

func (r Retention) policy() store.RetentionPolicy {
	p := store.DefaultRetention()
	if r.MaxDownloads != 0 {
		p.MaxDownloads = r.MaxDownloads
	}
	if r.MaxHistory != 0 {
		p.MaxHistory = r.MaxHistory
	}
	if r.MaxWatchlist != 0 {
		p.MaxWatchlist = r.MaxWatchlist
	}
	return p
}

// Option customizes a Cache at construction.
type Option func(*options)

type options struct {
	log       *zap.Logger
	retention Retention
}

func defaultOptions() options {
	return options{log: zap.NewNop()}
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRetention overrides the per-table retention bounds. Non-positive
// values are rejected by Open before any storage access.
func WithRetention(r Retention) Option {
	return func(o *options) {
		o.retention = r
	}
}
