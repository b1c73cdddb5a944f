package dedup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
)

func testDedup(t *testing.T, cfg config.DedupConfig) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	return New(store, cfg), mr
}

func defaultConfig() config.DedupConfig {
	return config.DedupConfig{
		ContentTTLMs:     int(time.Hour.Milliseconds()),
		SenderCooldownMs: int((5 * time.Minute).Milliseconds()),
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("Invoice due", "please pay now")
	b := ContentHash("INVOICE DUE", "PLEASE PAY NOW")
	assert.Equal(t, a, b, "hash is case-insensitive")

	c := ContentHash("Invoice due", "different body")
	assert.NotEqual(t, a, c)

	// Only the first 1000 characters of the body participate.
	long := strings.Repeat("x", 2000)
	assert.Equal(t, ContentHash("s", long), ContentHash("s", long[:1000]+"trailing ignored"))
}

func TestCheck_SameContentDifferentSenderSuppressed(t *testing.T) {
	d, _ := testDedup(t, defaultConfig())
	ctx := context.Background()

	d1, err := d.Check(ctx, "a@evil.com", "Verify account", "click here")
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	require.NoError(t, d.RecordProcessed(ctx, "a@evil.com", "Verify account", "click here"))

	// A different sender with identical content is still suppressed.
	d2, err := d.Check(ctx, "b@evil.com", "Verify account", "click here")
	require.NoError(t, err)
	assert.False(t, d2.Allowed)
	assert.Contains(t, d2.Reason, "Duplicate email")
}

func TestCheck_SenderCooldown(t *testing.T) {
	d, _ := testDedup(t, defaultConfig())
	ctx := context.Background()

	base := time.Now()
	d.now = func() time.Time { return base }
	require.NoError(t, d.RecordProcessed(ctx, "repeat@evil.com", "first", "first body"))

	// New content from the same sender within the cooldown.
	dec, err := d.Check(ctx, "repeat@evil.com", "second", "second body")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "next reply allowed at")
	assert.Contains(t, dec.Reason, base.Add(5*time.Minute).UTC().Format(time.RFC3339))
}

func TestCheck_CooldownExpires(t *testing.T) {
	d, mr := testDedup(t, defaultConfig())
	ctx := context.Background()

	base := time.Now()
	d.now = func() time.Time { return base }
	require.NoError(t, d.RecordProcessed(ctx, "repeat@evil.com", "first", "first body"))

	mr.FastForward(6 * time.Minute)
	d.now = func() time.Time { return base.Add(6 * time.Minute) }

	dec, err := d.Check(ctx, "repeat@evil.com", "second", "second body")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheck_CaseInsensitiveSender(t *testing.T) {
	d, _ := testDedup(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, d.RecordProcessed(ctx, "Repeat@Evil.com", "first", "first body"))

	dec, err := d.Check(ctx, "repeat@evil.com", "second", "second body")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestDisabledAllowsEverything(t *testing.T) {
	cfg := defaultConfig()
	cfg.Disabled = true
	d, mr := testDedup(t, cfg)
	ctx := context.Background()

	require.NoError(t, d.RecordProcessed(ctx, "a@evil.com", "s", "b"))
	dec, err := d.Check(ctx, "a@evil.com", "s", "b")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	// Disabled mode performs no writes at all.
	assert.Empty(t, mr.Keys())
}
