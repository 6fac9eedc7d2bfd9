package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

type memoryEntry struct {
	events     []*storage.Event
	insertedAt time.Time
	sources    map[string]struct{}
}

// memoryTier maps query fingerprints to result sets, bounded by an LRU
// and a uniform TTL. One mutex guards the LRU; nothing under it does I/O.
type memoryTier struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[string, *memoryEntry]
	ttl       time.Duration
	evictions uint64
}

func newMemoryTier(maxEntries int, ttl time.Duration) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	lru, _ := simplelru.NewLRU[string, *memoryEntry](maxEntries, nil)
	return &memoryTier{lru: lru, ttl: ttl}
}

// get touches the entry on hit. Expired entries are dropped lazily here.
func (t *memoryTier) get(fingerprint string, now time.Time) ([]*storage.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lru.Get(fingerprint)
	if !ok {
		return nil, false
	}
	if now.Sub(e.insertedAt) > t.ttl {
		t.lru.Remove(fingerprint)
		t.evictions++
		return nil, false
	}
	return e.events, true
}

func (t *memoryTier) set(fingerprint string, events []*storage.Event, now time.Time) {
	sources := make(map[string]struct{}, 1)
	for _, ev := range events {
		sources[ev.SourceID] = struct{}{}
	}
	entry := &memoryEntry{events: events, insertedAt: now, sources: sources}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lru.Add(fingerprint, entry) {
		t.evictions++
	}
}

// invalidateSource drops every entry containing an event of the source.
// Invalidations are not counted as evictions.
func (t *memoryTier) invalidateSource(sourceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, key := range t.lru.Keys() {
		e, ok := t.lru.Peek(key)
		if !ok {
			continue
		}
		if _, hit := e.sources[sourceID]; hit {
			t.lru.Remove(key)
			n++
		}
	}
	return n
}

// sweep reclaims expired entries proactively.
func (t *memoryTier) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, key := range t.lru.Keys() {
		e, ok := t.lru.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(e.insertedAt) > t.ttl {
			t.lru.Remove(key)
			t.evictions++
			n++
		}
	}
	return n
}

func (t *memoryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

func (t *memoryTier) evicted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}
