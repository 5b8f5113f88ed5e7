// Package typing propagates short-lived "user is typing" signals.
//
// The typing user's bus owns a countdown per (conversation, user) and clears
// the signal when it fires. Observers independently drop a signal once it is
// older than TTL plus a margin, so a lost clear never leaves a stale indicator.
package typing

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatcore/internal/infrastructure/cache/port"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
)

const entityTyping = "typing"

// Fabric is the subset of *realtime.Fabric the bus uses.
type Fabric interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
	Publish(ctx context.Context, ev realtime.Event) error
}

type key struct{ conv, user string }

type Bus struct {
	fabric  Fabric
	cache   port.Cache
	clock   clock.Clock
	log     *zap.Logger
	ttl     time.Duration
	margin  time.Duration
	refresh rate.Limit

	mu       sync.Mutex
	own      map[key]*ownSignal
	limiters map[key]*rate.Limiter
	peers    map[string]map[string]*peerSignal // conversation -> user -> signal
	onChange func(conversationID string, users []string)
}

type ownSignal struct {
	timer *clock.Timer
}

type peerSignal struct {
	at    time.Time
	timer *clock.Timer
}

type Option func(*Bus)

func WithClock(c clock.Clock) Option { return func(b *Bus) { b.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(b *Bus) { b.log = l } }

// WithCache mirrors own signals into the ephemeral typing table.
func WithCache(c port.Cache) Option { return func(b *Bus) { b.cache = c } }

func WithTTL(ttl, margin time.Duration) Option {
	return func(b *Bus) {
		if ttl > 0 {
			b.ttl = ttl
		}
		if margin >= 0 {
			b.margin = margin
		}
	}
}

// OnChange is called, outside the bus lock, whenever the observed typing set
// of a conversation changes.
func OnChange(fn func(conversationID string, users []string)) Option {
	return func(b *Bus) { b.onChange = fn }
}

func NewBus(fabric Fabric, opts ...Option) *Bus {
	b := &Bus{
		fabric:   fabric,
		clock:    clock.New(),
		log:      zap.NewNop(),
		ttl:      chat.TypingTTL,
		margin:   chat.TypingMargin,
		own:      make(map[key]*ownSignal),
		limiters: make(map[key]*rate.Limiter),
		peers:    make(map[string]map[string]*peerSignal),
	}
	for _, opt := range opts {
		opt(b)
	}
	// refresh often enough that observers never time out during a burst
	b.refresh = rate.Every(b.ttl / 3)
	return b
}

// CacheKey is the typing table key for (conversation, user).
func CacheKey(conversationID, userID string) string {
	return "typing:" + conversationID + ":" + userID
}

// SetTyping announces userID as typing and restarts the local countdown.
// Repeated calls within a burst re-publish at most once per TTL/3.
func (b *Bus) SetTyping(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" || userID == "" {
		return &chat.ValidationError{Field: "typing", Reason: "conversation and user are required"}
	}
	k := key{conversationID, userID}
	now := b.clock.Now()

	b.mu.Lock()
	prev, active := b.own[k]
	if active {
		prev.timer.Stop()
	}
	sig := &ownSignal{}
	sig.timer = b.clock.AfterFunc(b.ttl, func() { b.expire(k, sig) })
	b.own[k] = sig
	lim := b.limiters[k]
	if lim == nil {
		lim = rate.NewLimiter(b.refresh, 1)
		b.limiters[k] = lim
	}
	publish := lim.AllowN(now, 1) || !active
	b.mu.Unlock()

	if !publish {
		return nil
	}
	b.store(ctx, k, true)
	return b.publish(ctx, chat.TypingState{ConversationID: conversationID, UserID: userID, IsTyping: true, At: now.UTC()})
}

// ClearTyping cancels the countdown and announces typing=false.
func (b *Bus) ClearTyping(ctx context.Context, conversationID, userID string) error {
	k := key{conversationID, userID}
	b.mu.Lock()
	if sig := b.own[k]; sig != nil {
		sig.timer.Stop()
	}
	delete(b.own, k)
	delete(b.limiters, k)
	b.mu.Unlock()

	b.store(ctx, k, false)
	return b.publish(ctx, chat.TypingState{ConversationID: conversationID, UserID: userID, IsTyping: false, At: b.clock.Now().UTC()})
}

// IsTyping reports whether this bus currently holds an unexpired own signal.
func (b *Bus) IsTyping(conversationID, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.own[key{conversationID, userID}]
	return ok
}

// expire clears sig unless a later SetTyping has replaced it.
func (b *Bus) expire(k key, sig *ownSignal) {
	b.mu.Lock()
	if b.own[k] != sig {
		b.mu.Unlock()
		return
	}
	delete(b.own, k)
	delete(b.limiters, k)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.ttl)
	defer cancel()
	b.store(ctx, k, false)
	if err := b.publish(ctx, chat.TypingState{ConversationID: k.conv, UserID: k.user, IsTyping: false, At: b.clock.Now().UTC()}); err != nil {
		b.log.Debug("typing expiry publish failed", zap.String("conversation_id", k.conv), zap.Error(err))
	}
}

func (b *Bus) store(ctx context.Context, k key, typing bool) {
	if b.cache == nil {
		return
	}
	var err error
	if typing {
		err = b.cache.Set(ctx, CacheKey(k.conv, k.user), "1", b.ttl)
	} else {
		_, err = b.cache.Del(ctx, CacheKey(k.conv, k.user))
	}
	if err != nil {
		b.log.Debug("typing cache write failed", zap.Error(err))
	}
}

// publish is best-effort; a disconnected fabric is not an error for typing.
func (b *Bus) publish(ctx context.Context, st chat.TypingState) error {
	ev, err := realtime.NewEvent(realtime.TypingTopic(st.ConversationID), realtime.KindUpdate, entityTyping, st)
	if err != nil {
		return err
	}
	if err := b.fabric.Publish(ctx, ev); err != nil {
		if errors.Is(err, realtime.ErrDisconnected) {
			b.log.Debug("typing not published", zap.String("conversation_id", st.ConversationID), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Typing returns the users observed typing in the conversation, sorted.
func (b *Bus) Typing(conversationID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typingLocked(conversationID)
}

func (b *Bus) typingLocked(conversationID string) []string {
	now := b.clock.Now()
	var users []string
	for user, sig := range b.peers[conversationID] {
		st := chat.TypingState{IsTyping: true, At: sig.at}
		if !st.Stale(now, b.ttl, b.margin) {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

// observe records a peer signal received now.
func (b *Bus) observe(st chat.TypingState) {
	b.mu.Lock()
	peers := b.peers[st.ConversationID]
	if peers == nil {
		peers = make(map[string]*peerSignal)
		b.peers[st.ConversationID] = peers
	}
	before := len(b.typingLocked(st.ConversationID))
	if old := peers[st.UserID]; old != nil {
		old.timer.Stop()
		delete(peers, st.UserID)
	}
	if st.IsTyping {
		sig := &peerSignal{at: b.clock.Now()}
		conv, user := st.ConversationID, st.UserID
		sig.timer = b.clock.AfterFunc(b.ttl+b.margin, func() { b.dropPeer(conv, user, sig) })
		peers[st.UserID] = sig
	}
	users := b.typingLocked(st.ConversationID)
	changed := st.IsTyping || len(users) != before
	b.mu.Unlock()

	if changed {
		b.notify(st.ConversationID, users)
	}
}

func (b *Bus) dropPeer(conv, user string, sig *peerSignal) {
	b.mu.Lock()
	if b.peers[conv][user] != sig {
		b.mu.Unlock()
		return
	}
	delete(b.peers[conv], user)
	users := b.typingLocked(conv)
	b.mu.Unlock()
	b.notify(conv, users)
}

// resync replaces the peer set for a conversation with the snapshot.
func (b *Bus) resync(conversationID string, states []chat.TypingState) {
	b.mu.Lock()
	for _, sig := range b.peers[conversationID] {
		sig.timer.Stop()
	}
	delete(b.peers, conversationID)
	b.mu.Unlock()
	for _, st := range states {
		st.ConversationID = conversationID
		st.IsTyping = true
		b.observe(st)
	}
	b.notify(conversationID, b.Typing(conversationID))
}

func (b *Bus) notify(conv string, users []string) {
	if b.onChange != nil {
		b.onChange(conv, users)
	}
}

// Watch observes the typing topic of a conversation until ctx is done.
// Signals from selfID are ignored.
func (b *Bus) Watch(ctx context.Context, conversationID, selfID string) error {
	sub, err := b.fabric.Subscribe(ctx, realtime.TypingTopic(conversationID))
	if err != nil {
		return err
	}
	defer sub.Close()

	realtime.Consume(ctx, sub, realtime.Handlers{
		OnSync: func(_ string, snapshot json.RawMessage) {
			var states []chat.TypingState
			if len(snapshot) > 0 {
				if err := json.Unmarshal(snapshot, &states); err != nil {
					b.log.Warn("typing sync undecodable", zap.Error(err))
					return
				}
			}
			others := states[:0]
			for _, st := range states {
				if st.UserID != selfID {
					others = append(others, st)
				}
			}
			b.resync(conversationID, others)
		},
		OnEvent: func(ev realtime.Event) {
			var st chat.TypingState
			if err := ev.Decode(&st); err != nil {
				b.log.Warn("typing event undecodable", zap.Error(err))
				return
			}
			if st.UserID == selfID || st.ConversationID != conversationID {
				return
			}
			b.observe(st)
		},
	})
	return ctx.Err()
}

// Snapshot serves typing syncs from the typing table.
func (b *Bus) Snapshot(ctx context.Context, topic string) (json.RawMessage, error) {
	_, conv := realtime.TopicID(topic)
	states := []chat.TypingState{}
	if b.cache == nil || conv == "" {
		return json.Marshal(states)
	}
	prefix := CacheKey(conv, "")
	entries, err := b.cache.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	now := b.clock.Now().UTC()
	for k := range entries {
		states = append(states, chat.TypingState{ConversationID: conv, UserID: strings.TrimPrefix(k, prefix), IsTyping: true, At: now})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UserID < states[j].UserID })
	return json.Marshal(states)
}
