// Package presence tracks which users are online. State is written through
// the store and mirrored locally from the presence topic.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// Fabric is the subset of *realtime.Fabric the tracker uses.
type Fabric interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
	Publish(ctx context.Context, ev realtime.Event) error
}

const entityPresence = "presence"

type Tracker struct {
	repo   repository.PresenceRepository
	fabric Fabric
	log    *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state map[string]chat.Presence
}

type Option func(*Tracker)

func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = l } }

func WithNow(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func NewTracker(repo repository.PresenceRepository, fabric Fabric, opts ...Option) *Tracker {
	t := &Tracker{
		repo:   repo,
		fabric: fabric,
		log:    zap.NewNop(),
		now:    time.Now,
		state:  make(map[string]chat.Presence),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkOnline records userID as online and announces a join.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) error {
	return t.mark(ctx, userID, true)
}

// MarkOffline records userID as offline and announces a leave.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) error {
	return t.mark(ctx, userID, false)
}

func (t *Tracker) mark(ctx context.Context, userID string, online bool) error {
	if userID == "" {
		return &chat.ValidationError{Field: "user_id", Reason: "is required"}
	}
	p := chat.Presence{UserID: userID, IsOnline: online, LastSeenAt: t.now().UTC()}
	if err := t.repo.SetPresence(ctx, p); err != nil {
		return fmt.Errorf("presence: store: %w", err)
	}
	t.apply(p)

	kind := realtime.KindLeave
	if online {
		kind = realtime.KindJoin
	}
	ev, err := realtime.NewEvent(realtime.PresenceTopic, kind, entityPresence, p)
	if err == nil {
		err = t.fabric.Publish(ctx, ev)
	}
	if err != nil {
		// peers catch up on their next presence sync
		t.log.Warn("presence publish failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
	return nil
}

// IsOnline reports the most recently observed state for userID.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[userID].IsOnline
}

// LastSeen returns the last observed activity time, or false if unknown.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.state[userID]
	if !ok || p.LastSeenAt.IsZero() {
		return time.Time{}, false
	}
	return p.LastSeenAt, true
}

// Get resolves presence from the store, for callers without a live mirror.
func (t *Tracker) Get(ctx context.Context, userID string) (chat.Presence, error) {
	p, err := t.repo.GetPresence(ctx, userID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Presence{UserID: userID}, nil
	}
	return p, err
}

func (t *Tracker) apply(p chat.Presence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.state[p.UserID]; ok && !p.Newer(cur) {
		return
	}
	t.state[p.UserID] = p
}

// reconcile replaces local state with the snapshot. Users missing from the
// online snapshot are marked offline but keep their last-seen time.
func (t *Tracker) reconcile(online []chat.Presence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	present := make(map[string]struct{}, len(online))
	for _, p := range online {
		present[p.UserID] = struct{}{}
		if cur, ok := t.state[p.UserID]; ok && !p.Newer(cur) {
			continue
		}
		t.state[p.UserID] = p
	}
	for id, cur := range t.state {
		if _, ok := present[id]; !ok && cur.IsOnline {
			cur.IsOnline = false
			t.state[id] = cur
		}
	}
}

// Snapshot serves presence syncs: the currently online set.
func (t *Tracker) Snapshot(ctx context.Context, _ string) (json.RawMessage, error) {
	online, err := t.repo.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	if online == nil {
		online = []chat.Presence{}
	}
	return json.Marshal(online)
}

// Run mirrors the presence topic until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	sub, err := t.fabric.Subscribe(ctx, realtime.PresenceTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	realtime.Consume(ctx, sub, realtime.Handlers{
		OnSync: func(_ string, snapshot json.RawMessage) {
			var online []chat.Presence
			if len(snapshot) > 0 {
				if err := json.Unmarshal(snapshot, &online); err != nil {
					t.log.Warn("presence sync undecodable", zap.Error(err))
					return
				}
			}
			t.reconcile(online)
		},
		OnEvent: func(ev realtime.Event) {
			var p chat.Presence
			if err := ev.Decode(&p); err != nil {
				t.log.Warn("presence event undecodable", zap.Error(err))
				return
			}
			t.apply(p)
		},
		OnError: func(_ string, err error) {
			t.log.Warn("presence sync failed", zap.Error(err))
		},
	})
	return ctx.Err()
}
