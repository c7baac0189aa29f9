package cache

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/brunobiangulo/mindforge/metrics"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process LRU cache with a per-entry TTL.
type Memory struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, memoryEntry]
	max     int
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a cache bounded to max entries.
func NewMemory(max int, ttl time.Duration) *Memory {
	return &Memory{
		entries: orderedmap.New[string, memoryEntry](),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if ok && m.now().After(e.expires) {
		m.entries.Delete(key)
		ok = false
	}
	metrics.CacheResult("memory", ok)
	if !ok {
		return "", false
	}
	// Most recently used entries live at the back.
	_ = m.entries.MoveToBack(key)
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Set(key, memoryEntry{value: value, expires: m.now().Add(m.ttl)})
	_ = m.entries.MoveToBack(key)
	for m.entries.Len() > m.max {
		oldest := m.entries.Oldest()
		m.entries.Delete(oldest.Key)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

func (m *Memory) Close() error { return nil }
