package adapter

import (
	"context"
	"sync"
	"time"

	"chatcore/internal/infrastructure/cache/port"
)

// MemorySessionSet is the single-process port.SessionSet.
type MemorySessionSet struct {
	mu    sync.Mutex
	users map[string]map[string]time.Time // user -> conn -> expiry
}

var _ port.SessionSet = (*MemorySessionSet)(nil)

func NewMemorySessionSet() *MemorySessionSet {
	return &MemorySessionSet{users: make(map[string]map[string]time.Time)}
}

func (m *MemorySessionSet) count(userID string, now time.Time) int64 {
	var n int64
	for _, exp := range m.users[userID] {
		if exp.After(now) {
			n++
		}
	}
	return n
}

func (m *MemorySessionSet) Add(_ context.Context, s port.Session, now time.Time, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.users[s.UserID]
	if conns == nil {
		conns = make(map[string]time.Time)
		m.users[s.UserID] = conns
	}
	conns[s.ConnID] = now.Add(ttl)
	return m.count(s.UserID, now), nil
}

func (m *MemorySessionSet) Remove(_ context.Context, s port.Session, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns := m.users[s.UserID]; conns != nil {
		delete(conns, s.ConnID)
		if len(conns) == 0 {
			delete(m.users, s.UserID)
		}
	}
	return m.count(s.UserID, now), nil
}

func (m *MemorySessionSet) Count(_ context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count(userID, now), nil
}

func (m *MemorySessionSet) Reap(_ context.Context, now time.Time) ([]port.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []port.Session
	for user, conns := range m.users {
		for conn, exp := range conns {
			if exp.After(now) {
				continue
			}
			delete(conns, conn)
			out = append(out, port.Session{UserID: user, ConnID: conn})
		}
		if len(conns) == 0 {
			delete(m.users, user)
		}
	}
	return out, nil
}
