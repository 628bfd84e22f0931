package httpapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yapit-tts/yapit-sub000/internal/cache"
	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/evictor"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
)

// testHarness wires a full Server against in-memory fakes, reused across
// both the audio-GET and WebSocket integration tests.
type testHarness struct {
	server   *Server
	registry *fingerprint.Registry
	cache    *cache.Cache
	queue    *fakeQueue
	redis    *fakeRedis
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	redis := newFakeRedis()
	bus := fanout.NewBus(redis, nil)
	q := newFakeQueue()
	registry := fingerprint.NewRegistry(newFakeVariantStore())

	c, err := cache.New(newFakeCacheBackend(), nil, 64, 1<<30)
	require.NoError(t, err)

	catalog := dispatcher.NewStaticCatalog(dispatcher.Model{Slug: "kokoro", UsageMultiplier: 1.0})
	d := dispatcher.New(registry, c, fakeUsageChecker{}, q, bus, nil, redis, catalog)
	ev := evictor.New(q, bus, nil, 5, 10)

	srv := New(d, ev, bus, c, registry, nil, NewBearerAuthenticator(), nil, nil, nil)

	return &testHarness{server: srv, registry: registry, cache: c, queue: q, redis: redis}
}

// seedCachedVariant creates a variant whose fingerprint already has
// materialized audio in the cache, so a synthesize request for it takes
// the cache-hit path (spec.md §4.2 steps 2-3).
func (h *testHarness) seedCachedVariant(t *testing.T, text, model, voice, codec string, audio []byte) string {
	t.Helper()
	ctx := context.Background()

	fp := fingerprint.Compute(text, model, voice, fingerprint.Params{}, codec)
	v, err := h.registry.VariantOf(ctx, text, model, voice, fingerprint.Params{}, codec)
	require.NoError(t, err)
	require.Equal(t, fp, v.Fingerprint)

	require.NoError(t, h.cache.Store(ctx, fp, audio))
	require.NoError(t, h.registry.MarkSynthesized(ctx, fp, fp, int64(len(audio))))
	return fp
}
