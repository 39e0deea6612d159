// Package shard provides a string-keyed map split across independently
// locked shards, so operations on unrelated keys never share a lock.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCount is the number of shards used when none is given
const DefaultCount = 32

type bucket[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// Map is a concurrent map keyed by string
type Map[V any] struct {
	buckets []*bucket[V]
}

// New creates a map with n shards; n <= 0 selects DefaultCount
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultCount
	}
	m := &Map[V]{buckets: make([]*bucket[V], n)}
	for i := range m.buckets {
		m.buckets[i] = &bucket[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.buckets[xxhash.Sum64String(key)%uint64(len(m.buckets))]
}

// Get returns the value stored under key
func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[key]
	return v, ok
}

// GetOrCreate returns the existing value for key, or stores and returns the
// result of create. The boolean reports whether the value was created.
func (m *Map[V]) GetOrCreate(key string, create func() V) (V, bool) {
	b := m.bucketFor(key)

	b.mu.RLock()
	v, ok := b.items[key]
	b.mu.RUnlock()
	if ok {
		return v, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.items[key]; ok {
		return v, false
	}
	v = create()
	b.items[key] = v
	return v, true
}

// SetIfAbsent stores v unless key is present. It reports whether v was stored.
func (m *Map[V]) SetIfAbsent(key string, v V) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[key]; ok {
		return false
	}
	b.items[key] = v
	return true
}

// Set stores v under key, replacing any previous value
func (m *Map[V]) Set(key string, v V) {
	b := m.bucketFor(key)
	b.mu.Lock()
	b.items[key] = v
	b.mu.Unlock()
}

// Delete removes key
func (m *Map[V]) Delete(key string) {
	b := m.bucketFor(key)
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
}

// DeleteIf removes key only while match holds for the stored value.
// It reports whether the entry was removed.
func (m *Map[V]) DeleteIf(key string, match func(V) bool) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[key]
	if !ok || !match(v) {
		return false
	}
	delete(b.items, key)
	return true
}

// Len counts entries across all shards. The result is not an atomic snapshot.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.buckets {
		b.mu.RLock()
		n += len(b.items)
		b.mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry until fn returns false. Each shard is
// copied under its read lock, so fn may call back into the map.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, b := range m.buckets {
		b.mu.RLock()
		keys := make([]string, 0, len(b.items))
		vals := make([]V, 0, len(b.items))
		for k, v := range b.items {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		b.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], vals[i]) {
				return
			}
		}
	}
}

// Clear removes every entry
func (m *Map[V]) Clear() {
	for _, b := range m.buckets {
		b.mu.Lock()
		b.items = make(map[string]V)
		b.mu.Unlock()
	}
}
