package rendercache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type timestamped interface {
	created() time.Time
}

// counters tracks request outcomes for one table.
type counters struct {
	requests    atomic.Uint64
	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// table is one bounded LRU with TTL expiry. Get promotes, so it takes the
// write lock; read-only inspection takes the read lock.
type table[K comparable, V timestamped] struct {
	mu    sync.RWMutex
	lru   *simplelru.LRU[K, V]
	ttl   time.Duration
	bytes int64
	size  func(K, V) int64
	stats counters
}

func newTable[K comparable, V timestamped](capacity int, ttl time.Duration, size func(K, V) int64) (*table[K, V], error) {
	t := &table[K, V]{ttl: ttl, size: size}
	lru, err := simplelru.NewLRU[K, V](capacity, func(key K, value V) {
		t.bytes -= t.size(key, value)
	})
	if err != nil {
		return nil, err
	}
	t.lru = lru
	return t, nil
}

// get returns the live entry for key. onHit runs under the write lock.
func (t *table[K, V]) get(key K, now time.Time, onHit func(V)) (V, bool) {
	t.stats.requests.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok := t.lru.Get(key)
	if !ok {
		t.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	if expiredAt(value.created(), t.ttl, now) {
		t.lru.Remove(key)
		t.stats.expirations.Add(1)
		t.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	t.stats.hits.Add(1)
	if onHit != nil {
		onHit(value)
	}
	return value, true
}

// peek returns an entry without promoting it or touching counters.
func (t *table[K, V]) peek(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lru.Peek(key)
}

// put inserts or replaces key and reports whether a capacity eviction
// happened.
func (t *table[K, V]) put(key K, value V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.lru.Peek(key); ok {
		t.bytes -= t.size(key, old)
	}
	t.bytes += t.size(key, value)
	evicted := t.lru.Add(key, value)
	if evicted {
		t.stats.evictions.Add(1)
	}
	return evicted
}

func (t *table[K, V]) remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Remove(key)
}

// removeExpired drops every entry older than the table TTL and returns how
// many were removed.
func (t *table[K, V]) removeExpired(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, key := range t.lru.Keys() {
		value, ok := t.lru.Peek(key)
		if ok && expiredAt(value.created(), t.ttl, now) {
			t.lru.Remove(key)
			removed++
		}
	}
	t.stats.expirations.Add(uint64(removed))
	return removed
}

// removeWhere drops entries matching match and returns how many were removed.
func (t *table[K, V]) removeWhere(match func(K, V) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, key := range t.lru.Keys() {
		if value, ok := t.lru.Peek(key); ok && match(key, value) {
			t.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (t *table[K, V]) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
	t.bytes = 0
}

func (t *table[K, V]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lru.Len()
}

func (t *table[K, V]) memory() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytes
}
