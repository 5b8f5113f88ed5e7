package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/cache/port"
)

// Writer is satisfied by *Tracker.
type Writer interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

// Sessions counts a user's sockets across every instance sharing set. The
// user goes online with the first live session anywhere and offline when the
// last one closes or lapses. Sessions owned by this process are refreshed by
// Run; those of a process that died expire after ttl and are reaped.
type Sessions struct {
	set    port.SessionSet
	writer Writer
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu    sync.Mutex
	owned map[port.Session]struct{}
}

type SessionsOption func(*Sessions)

func WithSessionTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithSessionClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

func WithSessionLogger(l *zap.Logger) SessionsOption {
	return func(s *Sessions) { s.log = l }
}

func NewSessions(set port.SessionSet, writer Writer, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		set:    set,
		writer: writer,
		ttl:    90 * time.Second,
		now:    time.Now,
		log:    zap.NewNop(),
		owned:  make(map[port.Session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open registers a socket and marks the user online when it is their only
// live session.
func (s *Sessions) Open(ctx context.Context, userID, connID string) error {
	key := port.Session{UserID: userID, ConnID: connID}
	s.mu.Lock()
	s.owned[key] = struct{}{}
	s.mu.Unlock()

	n, err := s.set.Add(ctx, key, s.now(), s.ttl)
	if err != nil {
		return err
	}
	if n == 1 {
		return s.writer.MarkOnline(ctx, userID)
	}
	return nil
}

// Close drops a socket and marks the user offline when no live session is
// left on any instance.
func (s *Sessions) Close(ctx context.Context, userID, connID string) error {
	key := port.Session{UserID: userID, ConnID: connID}
	s.mu.Lock()
	delete(s.owned, key)
	s.mu.Unlock()

	n, err := s.set.Remove(ctx, key, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return s.writer.MarkOffline(ctx, userID)
	}
	return nil
}

// Sweep refreshes owned sessions, then reaps lapsed ones and marks their
// users offline when nothing else keeps them online.
func (s *Sessions) Sweep(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	owned := make([]port.Session, 0, len(s.owned))
	for k := range s.owned {
		owned = append(owned, k)
	}
	s.mu.Unlock()

	for _, k := range owned {
		if _, err := s.set.Add(ctx, k, now, s.ttl); err != nil {
			return err
		}
	}

	lapsed, err := s.set.Reap(ctx, now)
	if err != nil {
		return err
	}
	checked := make(map[string]struct{}, len(lapsed))
	for _, k := range lapsed {
		if _, done := checked[k.UserID]; done {
			continue
		}
		checked[k.UserID] = struct{}{}
		n, err := s.set.Count(ctx, k.UserID, now)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		s.log.Info("session lapsed, marking offline", zap.String("user_id", k.UserID), zap.String("conn_id", k.ConnID))
		if err := s.writer.MarkOffline(ctx, k.UserID); err != nil {
			s.log.Warn("mark offline failed", zap.String("user_id", k.UserID), zap.Error(err))
		}
	}
	return nil
}

// Run sweeps every third of the ttl until ctx is done.
func (s *Sessions) Run(ctx context.Context) error {
	t := time.NewTicker(s.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}
