// Package store provides the fixed-capacity concurrent tables backing the
// container and process registries.
//
// A Table guarantees atomicity per key only. Sequences of operations across
// keys or tables are not transactional; callers that need a multi-step
// update must tolerate observing it half done.
package store

import (
	"errors"
	"fmt"
	"hash/maphash"
	"iter"
	"sync"
	"sync/atomic"
)

const shardCount = 64

var (
	// ErrFull is returned when inserting a new key into a table at capacity.
	ErrFull = errors.New("table full")
	// ErrNotFound is returned when deleting a key that is not present.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("key exists")
)

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// Table is a sharded map with a hard maximum number of entries fixed at
// construction.
type Table[K comparable, V any] struct {
	name     string
	capacity int
	seed     maphash.Seed
	count    atomic.Int64
	shards   [shardCount]shard[K, V]
}

// NewTable creates an empty table. Capacity must be positive.
func NewTable[K comparable, V any](name string, capacity int) *Table[K, V] {
	if capacity <= 0 {
		panic(fmt.Sprintf("store: table %q: capacity must be positive, got %d", name, capacity))
	}
	t := &Table[K, V]{
		name:     name,
		capacity: capacity,
		seed:     maphash.MakeSeed(),
	}
	for i := range t.shards {
		t.shards[i].m = make(map[K]V)
	}
	return t
}

// Name returns the stable name the table was created with.
func (t *Table[K, V]) Name() string { return t.name }

// Cap returns the maximum number of entries.
func (t *Table[K, V]) Cap() int { return t.capacity }

// Len returns the current number of entries.
func (t *Table[K, V]) Len() int { return int(t.count.Load()) }

func (t *Table[K, V]) shardFor(k K) *shard[K, V] {
	return &t.shards[maphash.Comparable(t.seed, k)%shardCount]
}

// Lookup returns the value stored under k.
func (t *Table[K, V]) Lookup(k K) (V, bool) {
	s := t.shardFor(k)
	s.mu.RLock()
	v, ok := s.m[k]
	s.mu.RUnlock()
	return v, ok
}

// Update inserts or overwrites the value under k.
func (t *Table[K, V]) Update(k K, v V) error {
	return t.put(k, v, false)
}

// Insert stores v under k only if k is absent.
func (t *Table[K, V]) Insert(k K, v V) error {
	return t.put(k, v, true)
}

func (t *Table[K, V]) put(k K, v V, exclusive bool) error {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[k]; ok {
		if exclusive {
			return fmt.Errorf("%s: %w", t.name, ErrExists)
		}
		s.m[k] = v
		return nil
	}

	if t.count.Add(1) > int64(t.capacity) {
		t.count.Add(-1)
		return fmt.Errorf("%s: %w (capacity %d)", t.name, ErrFull, t.capacity)
	}
	s.m[k] = v
	return nil
}

// Delete removes k.
func (t *Table[K, V]) Delete(k K) error {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[k]; !ok {
		return fmt.Errorf("%s: %w", t.name, ErrNotFound)
	}
	delete(s.m, k)
	t.count.Add(-1)
	return nil
}

// All iterates over at most Cap() entries. Each shard is copied under its
// read lock before its entries are yielded, so the consumer may modify the
// table while iterating. Entries inserted or removed concurrently may or may
// not be observed.
func (t *Table[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		remaining := t.capacity
		var keys []K
		var vals []V
		for i := range t.shards {
			s := &t.shards[i]
			keys, vals = keys[:0], vals[:0]
			s.mu.RLock()
			for k, v := range s.m {
				keys = append(keys, k)
				vals = append(vals, v)
			}
			s.mu.RUnlock()

			for j := range keys {
				if remaining == 0 {
					return
				}
				remaining--
				if !yield(keys[j], vals[j]) {
					return
				}
			}
		}
	}
}
