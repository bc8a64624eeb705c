package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/provider"
)

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("Acme Health Partners", "OH", "acmehealth.com")

	assert.Equal(t, base, Fingerprint("  acme   health PARTNERS ", "oh", "https://www.acmehealth.com/"))
	assert.NotEqual(t, base, Fingerprint("Acme Health Partners", "MI", "acmehealth.com"))
	assert.NotEqual(t, base, Fingerprint("Acme Health", "OH", "acmehealth.com"))
	assert.NotEqual(t, base, Fingerprint("Acme Health Partners", "OH", "other.com"))
	assert.Len(t, base, 64)
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Field separators prevent "ab"+"c" colliding with "a"+"bc".
	assert.NotEqual(t, Fingerprint("ab", "c", ""), Fingerprint("a", "bc", ""))
}

func TestCachePutGet(t *testing.T) {
	c := New(NewMemoryKV(), time.Hour)
	ctx := context.Background()
	fp := Fingerprint("Acme", "OH", "")

	_, ok := c.Get(ctx, fp)
	assert.False(t, ok)

	c.Put(ctx, fp, Entry{
		Contacts: []provider.ContactCandidate{{FullName: "Jane Roe", Title: "CFO"}},
		Provider: "apollo",
	})

	entry, ok := c.Get(ctx, fp)
	require.True(t, ok)
	require.Len(t, entry.Contacts, 1)
	assert.Equal(t, "Jane Roe", entry.Contacts[0].FullName)
	assert.Equal(t, "apollo", entry.Provider)
	assert.False(t, entry.CachedAt.IsZero())
}

func TestCacheNeverStoresEmptyResults(t *testing.T) {
	c := New(NewMemoryKV(), time.Hour)
	ctx := context.Background()
	fp := Fingerprint("Ghost LLC", "OH", "")

	c.Put(ctx, fp, Entry{Provider: "apollo"})

	_, ok := c.Get(ctx, fp)
	assert.False(t, ok)
}

func TestCacheEntryExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kv := NewMemoryKV().WithNow(func() time.Time { return now })
	c := New(kv, time.Hour)
	ctx := context.Background()
	fp := Fingerprint("Acme", "OH", "")

	c.Put(ctx, fp, Entry{Contacts: []provider.ContactCandidate{{FullName: "Jane Roe"}}})

	_, ok := c.Get(ctx, fp)
	require.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = c.Get(ctx, fp)
	assert.False(t, ok)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	kv := NewMemoryKV()
	c := New(kv, time.Hour)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, keyPrefix+"deadbeef", "{not json", time.Hour))
	_, ok := c.Get(ctx, "deadbeef")
	assert.False(t, ok)
}
