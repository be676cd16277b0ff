package store

import (
	"context"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
)

// MemoryKV keeps each bucket in a red-black tree keyed by string.
type MemoryKV struct {
	mu       sync.RWMutex
	buckets  map[string]*treemap.Map
	counters map[string]uint64
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		buckets:  make(map[string]*treemap.Map),
		counters: make(map[string]uint64),
	}
}

func (m *MemoryKV) bucket(name string, create bool) *treemap.Map {
	tree, ok := m.buckets[name]
	if !ok && create {
		tree = treemap.NewWithStringComparator()
		m.buckets[name] = tree
	}
	return tree
}

func (m *MemoryKV) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree := m.bucket(bucket, false)
	if tree == nil {
		return nil, ErrNotFound
	}
	value, ok := tree.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value.([]byte)), nil
}

func (m *MemoryKV) Insert(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree := m.bucket(bucket, true)
	if _, ok := tree.Get(key); ok {
		return ErrExists
	}
	tree.Put(key, clone(value))
	return nil
}

func (m *MemoryKV) Put(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(bucket, true).Put(key, clone(value))
	return nil
}

func (m *MemoryKV) Update(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree := m.bucket(bucket, false)
	if tree == nil {
		return ErrNotFound
	}
	if _, ok := tree.Get(key); !ok {
		return ErrNotFound
	}
	tree.Put(key, clone(value))
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tree := m.bucket(bucket, false); tree != nil {
		tree.Remove(key)
	}
	return nil
}

// Scan copies the matching entries before calling fn, so fn may write to m.
func (m *MemoryKV) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry

	m.mu.RLock()
	if tree := m.bucket(bucket, false); tree != nil {
		it := tree.Iterator()
		for it.Next() {
			key := it.Key().(string)
			if key < prefix {
				continue
			}
			if !strings.HasPrefix(key, prefix) {
				break
			}
			entries = append(entries, entry{key: key, value: clone(it.Value().([]byte))})
		}
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryKV) Next(_ context.Context, counter string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter]++
	return m.counters[counter], nil
}

func (m *MemoryKV) Ping(context.Context) error { return nil }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
