package a2a

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator decides whether a streaming chunk, identified by a stable
// content hash, has already been emitted for its stream. Implementations
// must preserve first-occurrence order: SeenBefore returns false exactly
// once per distinct key, true on every subsequent call with that key.
type Deduplicator interface {
	SeenBefore(ctx context.Context, key string) (bool, error)
}

// contentHash returns a stable SHA-256 hex digest of v's canonical JSON
// encoding, scoped by streamID so identical chunks on two different streams
// don't collide. Any stable content hash works here; canonical-JSON
// SHA-256 is the concrete choice.
func contentHash(streamID string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(streamID))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MemDeduplicator is the default, in-process Deduplicator: a guarded set of
// seen keys, unbounded for the lifetime of one process (streams are
// short-lived relative to host uptime).
type MemDeduplicator struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemDeduplicator constructs an empty MemDeduplicator.
func NewMemDeduplicator() *MemDeduplicator {
	return &MemDeduplicator{seen: make(map[string]bool)}
}

// SeenBefore reports and records whether key has been seen.
func (d *MemDeduplicator) SeenBefore(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

// RedisDeduplicator is the optional cross-process Deduplicator, backing the
// same content-hash SET semantics with a Redis SETNX so multiple host
// processes sharing a stream id (for example behind a load balancer) agree
// on which chunks have already been emitted.
type RedisDeduplicator struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduplicator constructs a RedisDeduplicator. ttl bounds how long a
// key is remembered; it should exceed the longest expected stream duration.
func NewRedisDeduplicator(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, prefix: prefix, ttl: ttl}
}

// SeenBefore issues a SET NX against Redis: success means the key was
// unseen (and is now recorded); failure means some process already saw it.
func (d *RedisDeduplicator) SeenBefore(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
