// Package cache provides a Redis-backed lookaside cache for the hot
// admission lookups: fingerprint existence and active-cooldown flags. The
// database stays authoritative; a miss here always falls through to it.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Stats provides cache performance metrics
type Stats struct {
	HitRate     float64   `json:"hit_rate"`
	TotalHits   int64     `json:"total_hits"`
	TotalMisses int64     `json:"total_misses"`
	TotalSets   int64     `json:"total_sets"`
	ErrorCount  int64     `json:"error_count"`
	LastError   string    `json:"last_error,omitempty"`
	Connected   bool      `json:"connected"`
	LastPing    time.Time `json:"last_ping"`
}

// Cache is the lookaside store consulted before the database.
type Cache interface {
	// SeenFingerprint reports (seen, hit): hit is false on a miss or a
	// transport error, and the caller must consult the database.
	SeenFingerprint(ctx context.Context, fingerprint string) (bool, bool)

	// MarkFingerprint records that a fingerprint now exists in storage
	MarkFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) error

	// CooldownActive reports (active, hit) for a fingerprint
	CooldownActive(ctx context.Context, fingerprint string) (bool, bool)

	// MarkCooldown records a cooldown flag until the recheck time
	MarkCooldown(ctx context.Context, fingerprint string, active bool, ttl time.Duration) error

	// InvalidateCooldown drops the cooldown flag after a manual override
	InvalidateCooldown(ctx context.Context, fingerprint string) error

	Stats() Stats
	Health(ctx context.Context) bool
	Close() error
}

const (
	fingerprintPrefix = "pipeline:fp:"
	cooldownPrefix    = "pipeline:cd:"
)

// Config holds cache connection configuration
type Config struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl"`
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED"`
}

// DefaultConfig returns reasonable cache defaults
func DefaultConfig() Config {
	return Config{
		Addr:    "localhost:6379",
		TTL:     6 * time.Hour,
		Enabled: false,
	}
}

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client

	mu    sync.Mutex
	stats Stats
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(cfg Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return NewRedisCacheWithClient(client)
}

// NewRedisCacheWithClient wraps an existing client, used by tests
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		stats:  Stats{Connected: true},
	}
}

// SeenFingerprint reports whether a fingerprint is cached as existing
func (r *RedisCache) SeenFingerprint(ctx context.Context, fingerprint string) (bool, bool) {
	return r.getFlag(ctx, fingerprintPrefix+fingerprint)
}

// MarkFingerprint records fingerprint existence
func (r *RedisCache) MarkFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) error {
	return r.setFlag(ctx, fingerprintPrefix+fingerprint, true, ttl)
}

// CooldownActive reports a cached cooldown flag
func (r *RedisCache) CooldownActive(ctx context.Context, fingerprint string) (bool, bool) {
	return r.getFlag(ctx, cooldownPrefix+fingerprint)
}

// MarkCooldown records a cooldown flag
func (r *RedisCache) MarkCooldown(ctx context.Context, fingerprint string, active bool, ttl time.Duration) error {
	return r.setFlag(ctx, cooldownPrefix+fingerprint, active, ttl)
}

// InvalidateCooldown drops the cooldown flag
func (r *RedisCache) InvalidateCooldown(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, cooldownPrefix+fingerprint).Err()
}

func (r *RedisCache) getFlag(ctx context.Context, key string) (bool, bool) {
	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err == redis.Nil {
			r.stats.TotalMisses++
			r.updateHitRate()
			return false, false
		}
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("get error: %v", err)
		r.stats.Connected = false
		return false, false
	}

	r.mu.Lock()
	r.stats.TotalHits++
	r.updateHitRate()
	r.mu.Unlock()

	return result == "1", true
}

func (r *RedisCache) setFlag(ctx context.Context, key string, value bool, ttl time.Duration) error {
	payload := "0"
	if value {
		payload = "1"
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.mu.Lock()
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("set error: %v", err)
		r.stats.Connected = false
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.stats.TotalSets++
	r.stats.Connected = true
	r.mu.Unlock()
	return nil
}

// Stats returns cache performance statistics
func (r *RedisCache) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateHitRate()
	return r.stats
}

// Health checks Redis connection health
func (r *RedisCache) Health(ctx context.Context) bool {
	pong, err := r.client.Ping(ctx).Result()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || pong != "PONG" {
		r.stats.Connected = false
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("health check failed: %v", err)
		return false
	}

	r.stats.Connected = true
	r.stats.LastPing = time.Now()
	return true
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// caller must hold r.mu
func (r *RedisCache) updateHitRate() {
	total := r.stats.TotalHits + r.stats.TotalMisses
	if total > 0 {
		r.stats.HitRate = float64(r.stats.TotalHits) / float64(total)
	}
}

// MemoryCache is the in-process fallback used when Redis is disabled.
type MemoryCache struct {
	mu    sync.Mutex
	data  map[string]memoryEntry
	stats Stats
}

type memoryEntry struct {
	value     bool
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]memoryEntry),
		stats: Stats{
			Connected: true,
			LastPing:  time.Now(),
		},
	}
}

// SeenFingerprint reports whether a fingerprint is cached as existing
func (m *MemoryCache) SeenFingerprint(_ context.Context, fingerprint string) (bool, bool) {
	return m.get(fingerprintPrefix + fingerprint)
}

// MarkFingerprint records fingerprint existence
func (m *MemoryCache) MarkFingerprint(_ context.Context, fingerprint string, ttl time.Duration) error {
	m.set(fingerprintPrefix+fingerprint, true, ttl)
	return nil
}

// CooldownActive reports a cached cooldown flag
func (m *MemoryCache) CooldownActive(_ context.Context, fingerprint string) (bool, bool) {
	return m.get(cooldownPrefix + fingerprint)
}

// MarkCooldown records a cooldown flag
func (m *MemoryCache) MarkCooldown(_ context.Context, fingerprint string, active bool, ttl time.Duration) error {
	m.set(cooldownPrefix+fingerprint, active, ttl)
	return nil
}

// InvalidateCooldown drops the cooldown flag
func (m *MemoryCache) InvalidateCooldown(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, cooldownPrefix+fingerprint)
	return nil
}

func (m *MemoryCache) get(key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(m.data, key)
		m.stats.TotalMisses++
		m.updateHitRate()
		return false, false
	}

	m.stats.TotalHits++
	m.updateHitRate()
	return entry.value, true
}

func (m *MemoryCache) set(key string, value bool, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.stats.TotalSets++
}

// Stats returns cache statistics
func (m *MemoryCache) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateHitRate()
	return m.stats
}

// Health always succeeds for the in-memory cache
func (m *MemoryCache) Health(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.LastPing = time.Now()
	return true
}

// Close is a no-op for the in-memory cache
func (m *MemoryCache) Close() error {
	return nil
}

// caller must hold m.mu
func (m *MemoryCache) updateHitRate() {
	total := m.stats.TotalHits + m.stats.TotalMisses
	if total > 0 {
		m.stats.HitRate = float64(m.stats.TotalHits) / float64(total)
	}
}
