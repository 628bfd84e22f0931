// Package fingerprint computes the stable content hash that identifies a
// synthesis input, and maintains the durable Variant registry keyed by
// that hash.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Compute returns the hex-encoded SHA-256 fingerprint of a synthesis input:
// text || 0x00 || model_slug || 0x00 || voice_slug || 0x00 || canonical_params || 0x00 || codec.
// Identical inputs always produce identical output across processes and
// restarts — no randomness, no machine-local state enters the hash.
func Compute(text, modelSlug, voiceSlug string, params Params, codec string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(modelSlug))
	h.Write([]byte{0})
	h.Write([]byte(voiceSlug))
	h.Write([]byte{0})
	h.Write([]byte(Canonical(params)))
	h.Write([]byte{0})
	h.Write([]byte(codec))
	return hex.EncodeToString(h.Sum(nil))
}

// Variant is the durable record of a fingerprint: the promise that
// synthesizing this exact input is meaningful, plus a pointer to
// materialized audio once synthesis succeeds.
type Variant struct {
	Fingerprint string
	ModelID     string
	VoiceID     string
	Codec       string
	SampleRate  int
	Channels    int
	SampleWidth int
	DurationMs  *int64
	CacheRef    *string
	CreatedAt   time.Time
}

// HasCacheRef reports whether this variant's bytes are known to be
// materialized in the audio cache.
func (v *Variant) HasCacheRef() bool { return v.CacheRef != nil && *v.CacheRef != "" }

// Store persists and retrieves Variant rows. Implemented by
// internal/store.VariantStore against Postgres; tests may supply an
// in-memory fake.
type Store interface {
	Get(ctx context.Context, fp string) (*Variant, error)
	Create(ctx context.Context, v *Variant) error
	SetCacheRef(ctx context.Context, fp string, cacheRef string, durationMs int64) error
	ClearCacheRef(ctx context.Context, fp string) error
}

// ErrNotFound is returned by Store.Get when no variant exists yet.
var ErrNotFound = fmt.Errorf("fingerprint: variant not found")

// Registry resolves a synthesis input to its Variant, creating a durable
// record on first reference. Persistence errors are fatal to the calling
// request per spec: the registry never silently proceeds without a row.
type Registry struct {
	store Store
}

// NewRegistry builds a Registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// VariantOf returns the existing variant for this input or creates one.
// Matches the fingerprint/variant contract of §4.1: persistence failures
// during creation abort the caller with a wrapped error so the dispatcher
// can surface dispatcher.ErrQueueingFailed.
func (r *Registry) VariantOf(ctx context.Context, text, modelID, voiceID string, params Params, codec string) (*Variant, error) {
	fp := Compute(text, modelID, voiceID, params, codec)

	v, err := r.store.Get(ctx, fp)
	if err == nil {
		return v, nil
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("fingerprint: lookup variant %s: %w", fp, err)
	}

	v = &Variant{
		Fingerprint: fp,
		ModelID:     modelID,
		VoiceID:     voiceID,
		Codec:       codec,
		SampleRate:  paramInt(params, "sample_rate", 24000),
		Channels:    paramInt(params, "channels", 1),
		SampleWidth: paramInt(params, "sample_width", 2),
		CreatedAt:   time.Now(),
	}
	if err := r.store.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("fingerprint: create variant %s: %w", fp, err)
	}
	return v, nil
}

// paramInt reads an integer-valued audio format parameter (sample_rate,
// channels, sample_width), falling back to def when absent or of an
// unexpected type — callers tolerate clients that omit format params and
// rely on the model's default.
func paramInt(params Params, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

// Lookup fetches a variant without creating one, for the dispatcher's
// cache-hit check.
func (r *Registry) Lookup(ctx context.Context, fp string) (*Variant, error) {
	v, err := r.store.Get(ctx, fp)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fingerprint: lookup variant %s: %w", fp, err)
	}
	return v, nil
}

// MarkSynthesized records a successful synthesis against the variant,
// called by the Result Consumer.
func (r *Registry) MarkSynthesized(ctx context.Context, fp, cacheRef string, durationMs int64) error {
	if err := r.store.SetCacheRef(ctx, fp, cacheRef, durationMs); err != nil {
		return fmt.Errorf("fingerprint: set cache_ref %s: %w", fp, err)
	}
	return nil
}

// ClearCacheRef is invoked when the audio cache reports a variant's bytes
// are no longer retrievable, preserving the cache-referential-integrity
// invariant (§3 invariant 6).
func (r *Registry) ClearCacheRef(ctx context.Context, fp string) error {
	if err := r.store.ClearCacheRef(ctx, fp); err != nil {
		return fmt.Errorf("fingerprint: clear cache_ref %s: %w", fp, err)
	}
	return nil
}
