// Package cache provides the engine's result cache: a size-bounded LRU split
// into independently locked shards, with a per-entry TTL read against an
// injected clock.
package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Stats reports cache counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Expired uint64
	Entries int
}

// entry is immutable once stored; a Put replaces the pointer, never mutates it.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *entry[V]]
	hits    uint64
	misses  uint64
	expired uint64
}

// Cache is a sharded TTL+LRU cache safe for concurrent use.
// Keys hash to one shard, so unrelated keys never contend on the same lock.
type Cache[V any] struct {
	shards []*shard[V]
	clock  Clock
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	shards int
	clock  Clock
}

// WithShards sets the number of shards (default 16).
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock injects the time source used for TTL checks.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// New creates a cache holding at most size entries across all shards.
func New[V any](size int, opts ...Option) (*Cache[V], error) {
	o := options{shards: 16, clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if size < o.shards {
		o.shards = 1
	}
	if size <= 0 {
		size = 1
	}

	perShard := size / o.shards
	c := &Cache[V]{shards: make([]*shard[V], o.shards), clock: o.clock}
	for i := range c.shards {
		l, err := lru.New[string, *entry[V]](perShard)
		if err != nil {
			return nil, err
		}
		c.shards[i] = &shard[V]{lru: l}
	}
	return c, nil
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Get returns the value for key if present and not expired.
// An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	s := c.shardFor(key)
	now := c.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok {
		s.misses++
		return zero, false
	}
	if !now.Before(e.expiresAt) {
		s.lru.Remove(key)
		s.expired++
		s.misses++
		return zero, false
	}
	s.hits++
	return e.value, true
}

// Put stores value under key for ttl. A non-positive ttl is a no-op.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := &entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
	s := c.shardFor(key)

	s.mu.Lock()
	s.lru.Add(key, e)
	s.mu.Unlock()
}

// Remove deletes key.
func (c *Cache[V]) Remove(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.lru.Remove(key)
	s.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.lru.Purge()
		s.mu.Unlock()
	}
}

// Stats sums counters across shards.
func (c *Cache[V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.mu.Lock()
		st.Hits += s.hits
		st.Misses += s.misses
		st.Expired += s.expired
		st.Entries += s.lru.Len()
		s.mu.Unlock()
	}
	return st
}
