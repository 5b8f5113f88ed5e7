package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"chatcore/internal/infrastructure/cache/port"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryCache is an in-process port.Cache with lazy expiry.
type MemoryCache struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]memoryEntry
}

var _ port.Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache. clk may be nil.
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{clock: clk, data: make(map[string]memoryEntry)}
}

func (m *MemoryCache) live(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.data, key)
		return e, false
	}
	return e, true
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", port.ErrMiss
	}
	return e.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryCache) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			n++
		}
		delete(m.data, k)
	}
	return n, nil
}

func (m *MemoryCache) Scan(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if e, ok := m.live(k); ok {
			out[k] = e.value
		}
	}
	return out, nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }

func (m *MemoryCache) Close() error { return nil }
