// Package store holds the Postgres-backed durable persistence for
// variants and usage pools, via database/sql with the lib/pq driver
// registered for its side effect, matching the teacher's database/sql
// usage in internal/reputation and internal/gvisor.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
)

// VariantStore persists fingerprint.Variant rows in Postgres.
type VariantStore struct {
	db *sql.DB
}

// NewVariantStore wraps an existing *sql.DB (shared across stores so the
// process holds one connection pool).
func NewVariantStore(db *sql.DB) *VariantStore {
	return &VariantStore{db: db}
}

// Schema creates the variants table if absent. Called once at startup;
// migrations beyond this are out of scope per spec.md's Non-goals.
func (s *VariantStore) Schema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS variants (
			fingerprint  TEXT PRIMARY KEY,
			model_id     TEXT NOT NULL,
			voice_id     TEXT NOT NULL,
			codec        TEXT NOT NULL DEFAULT '',
			sample_rate  INTEGER NOT NULL DEFAULT 0,
			channels     INTEGER NOT NULL DEFAULT 0,
			sample_width INTEGER NOT NULL DEFAULT 0,
			duration_ms  BIGINT,
			cache_ref    TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create variants table: %w", err)
	}
	return nil
}

func (s *VariantStore) Get(ctx context.Context, fp string) (*fingerprint.Variant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, model_id, voice_id, codec, sample_rate, channels,
		       sample_width, duration_ms, cache_ref, created_at
		FROM variants WHERE fingerprint = $1
	`, fp)

	var v fingerprint.Variant
	var durationMs sql.NullInt64
	var cacheRef sql.NullString
	err := row.Scan(&v.Fingerprint, &v.ModelID, &v.VoiceID, &v.Codec, &v.SampleRate,
		&v.Channels, &v.SampleWidth, &durationMs, &cacheRef, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fingerprint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get variant %s: %w", fp, err)
	}
	if durationMs.Valid {
		v.DurationMs = &durationMs.Int64
	}
	if cacheRef.Valid {
		v.CacheRef = &cacheRef.String
	}
	return &v, nil
}

func (s *VariantStore) Create(ctx context.Context, v *fingerprint.Variant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variants (fingerprint, model_id, voice_id, codec, sample_rate,
		                       channels, sample_width, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fingerprint) DO NOTHING
	`, v.Fingerprint, v.ModelID, v.VoiceID, v.Codec, v.SampleRate, v.Channels,
		v.SampleWidth, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create variant %s: %w", v.Fingerprint, err)
	}
	return nil
}

func (s *VariantStore) SetCacheRef(ctx context.Context, fp, cacheRef string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE variants SET cache_ref = $2, duration_ms = $3 WHERE fingerprint = $1
	`, fp, cacheRef, durationMs)
	if err != nil {
		return fmt.Errorf("store: set cache_ref %s: %w", fp, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fingerprint.ErrNotFound
	}
	return nil
}

func (s *VariantStore) ClearCacheRef(ctx context.Context, fp string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE variants SET cache_ref = NULL WHERE fingerprint = $1
	`, fp)
	if err != nil {
		return fmt.Errorf("store: clear cache_ref %s: %w", fp, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fingerprint.ErrNotFound
	}
	return nil
}

var _ fingerprint.Store = (*VariantStore)(nil)
