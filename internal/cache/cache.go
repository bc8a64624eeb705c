// Package cache stores enrichment results keyed by company fingerprint
// so re-imported or re-queued companies do not spend provider budget
// twice inside the freshness window.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/provider"
)

// DefaultTTL is the freshness window for cached enrichment results.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "leadgen:enrich:"

// KV is the minimal key-value surface the cache needs. The production
// implementation is Redis; tests use the in-memory store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Entry is the cached payload for one company fingerprint.
type Entry struct {
	Contacts []provider.ContactCandidate `json:"contacts"`
	Provider string                      `json:"provider"`
	CachedAt time.Time                   `json:"cached_at"`
}

// Cache is an advisory read-through layer over a KV store. All errors
// degrade to a miss; the pipeline never fails because the cache did.
type Cache struct {
	kv  KV
	ttl time.Duration
}

// New creates a Cache with the given TTL; ttl <= 0 uses DefaultTTL.
func New(kv KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Get returns the cached entry for the fingerprint, or ok=false on miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (Entry, bool) {
	raw, ok, err := c.kv.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		zap.L().Warn("cache: read failed, treating as miss", zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		zap.L().Warn("cache: corrupt entry, treating as miss", zap.Error(err))
		return Entry{}, false
	}
	return entry, true
}

// Put stores the contacts for the fingerprint. Empty results are never
// cached: a provider outage must not mask a company for a full TTL.
func (c *Cache) Put(ctx context.Context, fingerprint string, entry Entry) {
	if len(entry.Contacts) == 0 {
		return
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("cache: marshal entry", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, keyPrefix+fingerprint, string(raw), c.ttl); err != nil {
		zap.L().Warn("cache: write failed", zap.Error(err))
	}
}

// RedisKV backs the cache with Redis.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps an existing Redis client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "cache: redis get")
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "cache: redis set")
	}
	return nil
}

// MemoryKV is an in-process KV for tests and single-node dev runs.
type MemoryKV struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	nowFunc func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]memoryItem), nowFunc: time.Now}
}

// WithNow injects a clock for testing expiry.
func (m *MemoryKV) WithNow(now func() time.Time) *MemoryKV {
	m.nowFunc = now
	return m
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if !item.expiresAt.IsZero() && m.nowFunc().After(item.expiresAt) {
		delete(m.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.nowFunc().Add(ttl)
	}
	m.items[key] = item
	return nil
}
