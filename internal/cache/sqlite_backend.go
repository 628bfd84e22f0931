package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SqliteBackend is the durable, single-file store for audio bytes,
// grounded on the teacher's database/sql usage elsewhere in the repo but
// swapping the driver for modernc.org/sqlite since the audio cache is a
// local, single-process file rather than a network database.
type SqliteBackend struct {
	db *sql.DB
}

// OpenSqliteBackend opens (creating if absent) a sqlite file at path.
func OpenSqliteBackend(path string) (*SqliteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time
	b := &SqliteBackend{db: db}
	if err := b.schema(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SqliteBackend) schema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audio_cache (
			key           TEXT PRIMARY KEY,
			data          BLOB NOT NULL,
			size          INTEGER NOT NULL,
			created_at    INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			pinned        INTEGER NOT NULL DEFAULT 0,
			archived      INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("cache: create audio_cache table: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_audio_cache_last_accessed
		ON audio_cache (last_accessed) WHERE pinned = 0 AND archived = 0
	`)
	if err != nil {
		return fmt.Errorf("cache: create last_accessed index: %w", err)
	}
	return nil
}

func (b *SqliteBackend) Close() error { return b.db.Close() }

func (b *SqliteBackend) Get(ctx context.Context, key string) (*Entry, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT key, data, size, created_at, last_accessed, pinned, archived
		FROM audio_cache WHERE key = ?
	`, key)

	var e Entry
	var createdAt, lastAccessed int64
	var pinned, archived int
	if err := row.Scan(&e.Key, &e.Data, &e.Size, &createdAt, &lastAccessed, &pinned, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.LastAccessed = time.Unix(lastAccessed, 0)
	e.Pinned = pinned != 0
	e.Archived = archived != 0
	return &e, nil
}

func (b *SqliteBackend) Put(ctx context.Context, e *Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO audio_cache (key, data, size, created_at, last_accessed, pinned, archived)
		VALUES (?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT (key) DO UPDATE SET
			data = excluded.data, size = excluded.size, last_accessed = excluded.last_accessed
	`, e.Key, e.Data, e.Size, e.CreatedAt.Unix(), e.LastAccessed.Unix())
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", e.Key, err)
	}
	return nil
}

func (b *SqliteBackend) Touch(ctx context.Context, key string, at time.Time) error {
	res, err := b.db.ExecContext(ctx, `UPDATE audio_cache SET last_accessed = ? WHERE key = ?`, at.Unix(), key)
	if err != nil {
		return fmt.Errorf("cache: touch %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SqliteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM audio_cache WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (b *SqliteBackend) BatchExists(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := make([]byte, 0, len(keys)*2)
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = k
		result[k] = false
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM audio_cache WHERE key IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("cache: batch_exists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("cache: batch_exists scan: %w", err)
		}
		result[k] = true
	}
	return result, rows.Err()
}

func (b *SqliteBackend) Pin(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if _, err := b.db.ExecContext(ctx, `UPDATE audio_cache SET pinned = 1 WHERE key = ?`, k); err != nil {
			return fmt.Errorf("cache: pin %s: %w", k, err)
		}
	}
	return nil
}

func (b *SqliteBackend) TotalSize(ctx context.Context) (int64, error) {
	row := b.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM audio_cache WHERE archived = 0`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("cache: total_size: %w", err)
	}
	return total, nil
}

// EvictionCandidates returns non-pinned, non-archived keys in ascending
// last_accessed order (oldest-touched first), per spec.md §4.10's
// eviction rule.
func (b *SqliteBackend) EvictionCandidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key FROM audio_cache
		WHERE pinned = 0 AND archived = 0
		ORDER BY last_accessed ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: eviction_candidates: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("cache: eviction_candidates scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// BloatRatio estimates the file-size-to-live-data ratio (total pages over
// in-use pages) via sqlite's page-count / freelist-count pragmas, used by
// VacuumIfNeeded to decide when a VACUUM is worth its cost.
func (b *SqliteBackend) BloatRatio(ctx context.Context) (float64, error) {
	var pageCount, freelistCount int64
	if err := b.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("cache: page_count: %w", err)
	}
	if err := b.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&freelistCount); err != nil {
		return 0, fmt.Errorf("cache: freelist_count: %w", err)
	}
	livePages := pageCount - freelistCount
	if livePages <= 0 {
		return 0, nil
	}
	return float64(pageCount) / float64(livePages), nil
}

func (b *SqliteBackend) Vacuum(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("cache: vacuum: %w", err)
	}
	return nil
}

// MarkArchived flips the archived flag without dropping the row. Archived
// rows no longer count toward TotalSize and are never returned by
// EvictionCandidates. Cache does not call it: its eviction path archives
// and then deletes the row.
func (b *SqliteBackend) MarkArchived(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `UPDATE audio_cache SET archived = 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache: mark_archived %s: %w", key, err)
	}
	return nil
}

var _ Backend = (*SqliteBackend)(nil)
