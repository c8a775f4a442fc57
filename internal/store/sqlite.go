package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	platformdb "github.com/example/anime-client/internal/platform/db"
)

// Schema version tracking:
// 1 - Initial schema (downloads, history, watchlist)
const currentSchemaVersion = 1

// AUTOINCREMENT keeps surrogate ids monotonically increasing and never
// reused, even after retention deletes the highest row.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS downloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_slug TEXT NOT NULL,
    resolution_label TEXT NOT NULL,
    file_path TEXT NOT NULL,
    UNIQUE (episode_slug, resolution_label)
);

CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    anime_slug TEXT NOT NULL,
    episode_slug TEXT NOT NULL,
    progress_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0,
    UNIQUE (anime_slug, episode_slug)
);

CREATE INDEX IF NOT EXISTS idx_history_updated ON history (updated_at_ms DESC, id DESC);

CREATE TABLE IF NOT EXISTS watchlist (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    anime_slug TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    thumbnail_url TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore is the production SQLite-backed implementation.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the library database at path and applies
// the schema. Idempotent; an empty database is a valid first-run state.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := platformdb.Open(path)
	if err != nil {
		return nil, wrapStorage("open library database", err)
	}
	if err := applySchema(conn); err != nil {
		conn.Close()
		return nil, wrapStorage("apply schema", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func applySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return err
	}
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx runs fn inside a transaction. Combined with the single-connection
// pool this makes every upsert's check-then-write atomic with respect to
// other writers on the same natural key.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- downloads ---

func (s *SQLiteStore) UpsertDownload(ctx context.Context, d Download) (Download, bool, error) {
	var out Download
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM downloads WHERE episode_slug = ? AND resolution_label = ?`,
			d.EpisodeSlug, d.ResolutionLabel).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO downloads (episode_slug, resolution_label, file_path) VALUES (?, ?, ?)`,
				d.EpisodeSlug, d.ResolutionLabel, d.FilePath)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			inserted = true
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE downloads SET file_path = ? WHERE id = ?`, d.FilePath, id); err != nil {
				return err
			}
		}
		out = Download{ID: id, EpisodeSlug: d.EpisodeSlug, ResolutionLabel: d.ResolutionLabel, FilePath: d.FilePath}
		return nil
	})
	if err != nil {
		return Download{}, false, wrapStorage("upsert download", err)
	}
	return out, inserted, nil
}

func (s *SQLiteStore) FindDownload(ctx context.Context, episodeSlug, resolutionLabel string) (Download, bool, error) {
	var d Download
	err := s.db.QueryRowContext(ctx,
		`SELECT id, episode_slug, resolution_label, file_path FROM downloads
		 WHERE episode_slug = ? AND resolution_label = ?`,
		episodeSlug, resolutionLabel).
		Scan(&d.ID, &d.EpisodeSlug, &d.ResolutionLabel, &d.FilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, wrapStorage("find download", err)
	}
	return d, true, nil
}

func (s *SQLiteStore) DeleteDownload(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return 0, wrapStorage("delete download", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteDownloadsByPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM downloads WHERE episode_slug LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, wrapStorage("delete downloads by prefix", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListDownloads(ctx context.Context) ([]Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, episode_slug, resolution_label, file_path FROM downloads ORDER BY id DESC`)
	if err != nil {
		return nil, wrapStorage("list downloads", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var d Download
		if err := rows.Scan(&d.ID, &d.EpisodeSlug, &d.ResolutionLabel, &d.FilePath); err != nil {
			return nil, wrapStorage("scan download", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list downloads", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountDownloads(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM downloads`)
}

func (s *SQLiteStore) TrimDownloads(ctx context.Context, maxRows int) (int64, error) {
	return s.trim(ctx, maxRows,
		`DELETE FROM downloads WHERE id NOT IN (SELECT id FROM downloads ORDER BY id DESC LIMIT ?)`)
}

// --- history ---

func (s *SQLiteStore) UpsertHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, bool, error) {
	var out HistoryEntry
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing HistoryEntry
		err := tx.QueryRowContext(ctx,
			`SELECT id, progress_ms, updated_at_ms FROM history
			 WHERE anime_slug = ? AND episode_slug = ?`,
			e.AnimeSlug, e.EpisodeSlug).
			Scan(&existing.ID, &existing.ProgressMs, &existing.UpdatedAtMs)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO history (anime_slug, episode_slug, progress_ms, updated_at_ms) VALUES (?, ?, ?, ?)`,
				e.AnimeSlug, e.EpisodeSlug, e.ProgressMs, e.UpdatedAtMs)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			out = HistoryEntry{ID: id, AnimeSlug: e.AnimeSlug, EpisodeSlug: e.EpisodeSlug, ProgressMs: e.ProgressMs, UpdatedAtMs: e.UpdatedAtMs}
			inserted = true
			return nil
		case err != nil:
			return err
		}

		existing.AnimeSlug = e.AnimeSlug
		existing.EpisodeSlug = e.EpisodeSlug
		merged, applied := MergeHistory(existing, e)
		if applied {
			if _, err := tx.ExecContext(ctx,
				`UPDATE history SET progress_ms = ?, updated_at_ms = ? WHERE id = ?`,
				merged.ProgressMs, merged.UpdatedAtMs, merged.ID); err != nil {
				return err
			}
		}
		// A losing (stale) write leaves the row untouched; the stored
		// state is what callers receive either way.
		out = merged
		return nil
	})
	if err != nil {
		return HistoryEntry{}, false, wrapStorage("upsert history", err)
	}
	return out, inserted, nil
}

func (s *SQLiteStore) FindHistory(ctx context.Context, animeSlug, episodeSlug string) (HistoryEntry, bool, error) {
	var e HistoryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, anime_slug, episode_slug, progress_ms, updated_at_ms FROM history
		 WHERE anime_slug = ? AND episode_slug = ?`,
		animeSlug, episodeSlug).
		Scan(&e.ID, &e.AnimeSlug, &e.EpisodeSlug, &e.ProgressMs, &e.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, false, nil
	}
	if err != nil {
		return HistoryEntry{}, false, wrapStorage("find history", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) DeleteHistory(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return 0, wrapStorage("delete history", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ClearHistory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	if err != nil {
		return 0, wrapStorage("clear history", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, anime_slug, episode_slug, progress_ms, updated_at_ms FROM history
		 ORDER BY updated_at_ms DESC, id DESC`)
	if err != nil {
		return nil, wrapStorage("list history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.AnimeSlug, &e.EpisodeSlug, &e.ProgressMs, &e.UpdatedAtMs); err != nil {
			return nil, wrapStorage("scan history", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list history", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountHistory(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM history`)
}

func (s *SQLiteStore) TrimHistory(ctx context.Context, maxRows int) (int64, error) {
	return s.trim(ctx, maxRows,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY updated_at_ms DESC, id DESC LIMIT ?)`)
}

// --- watchlist ---

func (s *SQLiteStore) UpsertWatchlist(ctx context.Context, e WatchlistEntry) (WatchlistEntry, bool, error) {
	var out WatchlistEntry
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM watchlist WHERE anime_slug = ?`, e.AnimeSlug).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO watchlist (anime_slug, title, thumbnail_url) VALUES (?, ?, ?)`,
				e.AnimeSlug, e.Title, e.ThumbnailURL)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			inserted = true
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE watchlist SET title = ?, thumbnail_url = ? WHERE id = ?`,
				e.Title, e.ThumbnailURL, id); err != nil {
				return err
			}
		}
		out = WatchlistEntry{ID: id, AnimeSlug: e.AnimeSlug, Title: e.Title, ThumbnailURL: e.ThumbnailURL}
		return nil
	})
	if err != nil {
		return WatchlistEntry{}, false, wrapStorage("upsert watchlist", err)
	}
	return out, inserted, nil
}

func (s *SQLiteStore) FindWatchlist(ctx context.Context, animeSlug string) (WatchlistEntry, bool, error) {
	var e WatchlistEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, anime_slug, title, thumbnail_url FROM watchlist WHERE anime_slug = ?`,
		animeSlug).
		Scan(&e.ID, &e.AnimeSlug, &e.Title, &e.ThumbnailURL)
	if errors.Is(err, sql.ErrNoRows) {
		return WatchlistEntry{}, false, nil
	}
	if err != nil {
		return WatchlistEntry{}, false, wrapStorage("find watchlist", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) DeleteWatchlistBySlug(ctx context.Context, animeSlug string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE anime_slug = ?`, animeSlug)
	if err != nil {
		return 0, wrapStorage("delete watchlist", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, anime_slug, title, thumbnail_url FROM watchlist ORDER BY id DESC`)
	if err != nil {
		return nil, wrapStorage("list watchlist", err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		if err := rows.Scan(&e.ID, &e.AnimeSlug, &e.Title, &e.ThumbnailURL); err != nil {
			return nil, wrapStorage("scan watchlist", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list watchlist", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountWatchlist(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM watchlist`)
}

func (s *SQLiteStore) TrimWatchlist(ctx context.Context, maxRows int) (int64, error) {
	return s.trim(ctx, maxRows,
		`DELETE FROM watchlist WHERE id NOT IN (SELECT id FROM watchlist ORDER BY id DESC LIMIT ?)`)
}

// --- shared helpers ---

func (s *SQLiteStore) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, wrapStorage("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) trim(ctx context.Context, maxRows int, query string) (int64, error) {
	if maxRows <= 0 {
		return 0, fmt.Errorf("%w: trim window %d, must be positive", ErrInvalidConfig, maxRows)
	}
	res, err := s.db.ExecContext(ctx, query, maxRows)
	if err != nil {
		return 0, wrapStorage("trim", err)
	}
	return res.RowsAffected()
}

// escapeLike escapes LIKE wildcards so a slug prefix matches literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
