// Package cache provides an in-process TTL cache with capacity-bounded
// eviction, used as the result cache for embeddings and generated answers.
//
// The cache is best-effort, not a source of truth: entries carry no
// identity beyond their key, so recomputation after eviction or expiry is
// always valid. Two independently configured instances form the two
// namespaces of the engine (embedding and answer); package-level defaults
// give their TTL and capacity.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// Namespace defaults. Embeddings of a fixed string never change, so the
// embedding namespace keeps entries far longer than the answer namespace,
// whose entries go stale whenever the underlying corpus moves.
const (
	EmbeddingTTL      = 24 * time.Hour
	EmbeddingCapacity = 1000

	AnswerTTL      = time.Hour
	AnswerCapacity = 500

	// SweepInterval is how often the background sweeper removes expired
	// entries, independent of access patterns.
	SweepInterval = 5 * time.Minute

	// evictFraction is the share of entries removed when the cache is at
	// capacity: the lowest-hit ceil(10%) go first. An approximation of
	// least-frequently-used that is cheap to compute per eviction.
	evictFraction = 0.10
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 when the cache is unused.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	value     V
	timestamp time.Time
	hits      int
}

// Cache is a capacity-bounded TTL cache keyed by content hash.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	ttl      time.Duration
	capacity int

	hits   uint64
	misses uint64

	now    func() time.Time
	logger log.Logger
}

// New creates a cache holding at most capacity entries, each expiring ttl
// after insertion.
func New[V any](ttl time.Duration, capacity int, logger log.Logger) *Cache[V] {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache[V]{
		entries:  make(map[string]*entry[V]),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the cached value for key and increments its hit counter.
// An expired entry is lazily deleted and counts as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	if c.now().Sub(e.timestamp) > c.ttl {
		delete(c.entries, key)
		c.misses++
		var zero V
		return zero, false
	}

	e.hits++
	c.hits++
	return e.value, true
}

// Set inserts value under key with a fresh timestamp and zero hits,
// evicting the lowest-hit entries first when the cache is at capacity.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evict()
	}

	c.entries[key] = &entry[V]{value: value, timestamp: c.now()}
}

// evict removes the ceil(10%) entries with the lowest hit counts.
// Caller must hold c.mu.
func (c *Cache[V]) evict() {
	type hitKey struct {
		key  string
		hits int
	}

	byHits := make([]hitKey, 0, len(c.entries))
	for k, e := range c.entries {
		byHits = append(byHits, hitKey{key: k, hits: e.hits})
	}
	sort.Slice(byHits, func(i, j int) bool { return byHits[i].hits < byHits[j].hits })

	// ceil(len * evictFraction), at least one entry
	n := (len(byHits)*int(evictFraction*100) + 99) / 100
	if n < 1 {
		n = 1
	}
	for _, hk := range byHits[:n] {
		delete(c.entries, hk.key)
	}

	c.logger.Debug("cache eviction", "removed", n, "remaining", len(c.entries))
}

// Clear removes every entry. Hit and miss counters are preserved.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// RemoveExpired deletes all expired entries and returns how many were
// removed. Called by the background sweeper so that write-once/never-read
// keys do not accumulate.
func (c *Cache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     len(c.entries),
		Capacity: c.capacity,
	}
}

// Key derives a cache key from text plus optional scope parts (e.g. the
// subject or resource filter of an answer-cache entry). The text is
// lowercased and whitespace-collapsed before hashing, so formatting
// variants of the same content share a key.
func Key(text string, scope ...string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))

	h := sha256.New()
	h.Write([]byte(normalized))
	for _, s := range scope {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}
