// Package view keeps one client's local picture of a conversation.
//
// Every input (local send, remote event, catch-up page, status result,
// foreground toggle) is applied by a single goroutine, Run. Ledger calls run
// on helper goroutines and report back through the same loop, so the loop
// keeps receiving fabric events while a write is outstanding. Readers get an
// immutable Snapshot.
package view

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

// ErrStopped is returned by calls made after Run has exited.
var ErrStopped = errors.New("view: stopped")

type Fabric interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

type Lister interface {
	Execute(ctx context.Context, in usecase.ListMessagesInput) (*usecase.ListMessagesPage, error)
}

type Advancer interface {
	Execute(ctx context.Context, in usecase.AdvanceStatusInput) (*usecase.AdvanceStatusResult, error)
}

type ReadMarker interface {
	Execute(ctx context.Context, in usecase.MarkConversationReadInput) ([]chat.Message, error)
}

type Sender interface {
	Execute(ctx context.Context, in usecase.SendMessageInput) (*usecase.SendMessageResult, error)
}

type ReactionLister interface {
	Execute(ctx context.Context, messageID string) ([]chat.ReactionGroup, error)
}

// Ledger groups the use cases a view drives.
type Ledger struct {
	List     Lister
	Advance  Advancer
	MarkRead  ReadMarker
	Send      Sender
	Reactions ReactionLister // optional; reactions are reloaded on sync when set
}

// PendingMessage is a local send the ledger has not acknowledged yet.
type PendingMessage struct {
	DedupeKey  string
	Content    string
	Attachment *chat.Attachment
	QueuedAt   time.Time
}

// Snapshot is a read-only copy of the view. Messages are in server order.
type Snapshot struct {
	ConversationID string
	Messages       []chat.Message
	Pending        []PendingMessage
	Cursor         chat.Cursor
	Foreground     bool
	Synced         bool // at least one catch-up has completed
	Degraded       bool // the last catch-up gave up; contents may be stale
	reactions      map[string][]chat.Reaction
}

// Reactions groups the current reactions on a message.
func (s *Snapshot) Reactions(messageID string) []chat.ReactionGroup {
	return chat.GroupReactions(s.reactions[messageID])
}

type state struct {
	messages   []chat.Message
	index      map[string]int
	pending    []PendingMessage
	reactions  map[string]map[string]chat.Reaction // message -> user -> reaction
	cursor     chat.Cursor                         // newest message merged from any source
	caughtUp   chat.Cursor                         // end of the last catch-up; only fetch moves it
	foreground bool
	synced     bool
	degraded   bool

	catchingUp   bool
	resyncQueued bool
	delivering   map[string]struct{}
	readUpTo     int64 // highest seq a read watermark was requested for

	reactionClock   uint64
	reactionTouched map[string]uint64 // message -> clock of its last reaction event
}

type command struct {
	fn   func(*state)
	done chan struct{}
}

type View struct {
	conversationID string
	selfID         string
	fabric         Fabric
	ledger         Ledger
	log            *zap.Logger
	pageSize       int
	readRetries    uint64
	onChange       func(*Snapshot)

	cmds    chan command
	stopped chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]
	wg      sync.WaitGroup
	runCtx  context.Context
	st      state
}

type Option func(*View)

func WithLogger(l *zap.Logger) Option { return func(v *View) { v.log = l } }

func WithPageSize(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// OnChange is called from the loop after every applied input.
func OnChange(fn func(*Snapshot)) Option { return func(v *View) { v.onChange = fn } }

func New(conversationID, selfID string, fabric Fabric, ledger Ledger, opts ...Option) *View {
	v := &View{
		conversationID: conversationID,
		selfID:         selfID,
		fabric:         fabric,
		ledger:         ledger,
		log:            zap.NewNop(),
		pageSize:       100,
		readRetries:    3,
		cmds:           make(chan command),
		stopped:        make(chan struct{}),
		st: state{
			index:      make(map[string]int),
			reactions:  make(map[string]map[string]chat.Reaction),
			delivering:      make(map[string]struct{}),
			reactionTouched: make(map[string]uint64),
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With(zap.String("conversation_id", conversationID), zap.String("user_id", selfID))
	v.snap.Store(&Snapshot{ConversationID: conversationID})
	return v
}

// Snapshot returns the latest published state.
func (v *View) Snapshot() *Snapshot { return v.snap.Load() }

// Run owns the view until ctx is done. It may be called once.
func (v *View) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return errors.New("view: already running")
	}
	defer v.wg.Wait()
	defer close(v.stopped)

	sub, err := v.fabric.Subscribe(ctx, realtime.MessagesTopic(v.conversationID))
	if err != nil {
		return err
	}
	defer sub.Close()
	v.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.C():
			if !ok {
				return ErrStopped
			}
			v.handle(d)
		case c := <-v.cmds:
			c.fn(&v.st)
			if c.done != nil {
				close(c.done)
			}
		}
		v.publish()
	}
}

// do runs fn on the loop and waits for it to be applied.
func (v *View) do(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	select {
	case v.cmds <- command{fn: fn, done: done}:
	case <-v.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post hands a result from a helper goroutine back to the loop.
func (v *View) post(fn func(*state)) {
	select {
	case v.cmds <- command{fn: fn}:
	case <-v.stopped:
	}
}

func (v *View) async(fn func(ctx context.Context)) {
	ctx := v.runCtx
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn(ctx)
	}()
}

func (v *View) publish() {
	s := &v.st
	snap := &Snapshot{
		ConversationID: v.conversationID,
		Messages:       append([]chat.Message(nil), s.messages...),
		Pending:        append([]PendingMessage(nil), s.pending...),
		Cursor:         s.cursor,
		Foreground:     s.foreground,
		Synced:         s.synced,
		Degraded:       s.degraded,
		reactions:      make(map[string][]chat.Reaction, len(s.reactions)),
	}
	for id, byUser := range s.reactions {
		for _, r := range byUser {
			snap.reactions[id] = append(snap.reactions[id], r)
		}
	}
	v.snap.Store(snap)
	if v.onChange != nil {
		v.onChange(snap)
	}
}

func (v *View) handle(d realtime.Delivery) {
	switch d.Type {
	case realtime.DeliverySync:
		v.catchUp()
	case realtime.DeliveryError:
		v.log.Warn("messages sync failed", zap.Error(d.Err))
	case realtime.DeliveryEvent:
		v.apply(d.Event)
	}
}

func (v *View) apply(ev realtime.Event) {
	s := &v.st
	switch ev.Entity {
	case usecase.EntityMessage:
		var m chat.Message
		if err := ev.Decode(&m); err != nil {
			v.log.Warn("message event undecodable", zap.Error(err))
			return
		}
		v.merge(m)
		v.acknowledge()
	case usecase.EntityStatus:
		var c chat.StatusChange
		if err := ev.Decode(&c); err != nil {
			v.log.Warn("status event undecodable", zap.Error(err))
			return
		}
		v.raise(c.MessageID, c.Status)
	case usecase.EntityReaction:
		var c chat.ReactionChange
		if err := ev.Decode(&c); err != nil {
			v.log.Warn("reaction event undecodable", zap.Error(err))
			return
		}
		s.reactionClock++
		s.reactionTouched[c.MessageID] = s.reactionClock
		byUser := s.reactions[c.MessageID]
		if c.Emoji == "" {
			delete(byUser, c.UserID)
			return
		}
		if byUser == nil {
			byUser = make(map[string]chat.Reaction)
			s.reactions[c.MessageID] = byUser
		}
		byUser[c.UserID] = chat.Reaction{MessageID: c.MessageID, UserID: c.UserID, Emoji: c.Emoji, CreatedAt: ev.At}
	}
}

// merge inserts m in server order, or raises the status of a known copy.
// A confirmed message retires the pending send with the same dedupe key.
func (v *View) merge(m chat.Message) {
	s := &v.st
	if m.ConversationID != v.conversationID {
		return
	}
	if m.DedupeKey != "" {
		for i, p := range s.pending {
			if p.DedupeKey == m.DedupeKey {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	if _, ok := s.index[m.ID]; ok {
		v.raise(m.ID, m.Status)
		return
	}
	c := m.Cursor()
	i := sort.Search(len(s.messages), func(i int) bool { return c.Before(s.messages[i].Cursor()) })
	s.messages = append(s.messages, chat.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	for j := i; j < len(s.messages); j++ {
		s.index[s.messages[j].ID] = j
	}
	if s.cursor.Before(c) {
		s.cursor = c
	}
}

// raise only ever moves a status forward.
func (v *View) raise(id string, status chat.Status) {
	s := &v.st
	i, ok := s.index[id]
	if !ok {
		return
	}
	if chat.CanAdvance(s.messages[i].Status, status) {
		s.messages[i].Status = status
	}
}

// catchUp relists the ledger from the earlier of the last catch-up and the
// oldest held message not yet read, so missed inserts and status changes
// both land. Reactions of every held or fetched message are reloaded.
// Overlapping requests collapse into one follow-up pass.
func (v *View) catchUp() {
	s := &v.st
	if s.catchingUp {
		s.resyncQueued = true
		return
	}
	s.catchingUp = true
	from := s.caughtUp
	for i, m := range s.messages {
		if m.Status == chat.StatusRead {
			continue
		}
		start := chat.Cursor{}
		if i > 0 {
			start = s.messages[i-1].Cursor()
		}
		if start.Before(from) {
			from = start
		}
		break
	}
	held := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		held = append(held, m.ID)
	}
	mark := s.reactionClock

	v.async(func(ctx context.Context) {
		msgs, last, err := v.fetch(ctx, from)
		var reactions map[string][]chat.ReactionGroup
		if err == nil {
			for _, m := range msgs {
				held = append(held, m.ID)
			}
			reactions, err = v.reloadReactions(ctx, held)
		}
		v.post(func(s *state) {
			s.catchingUp = false
			for _, m := range msgs {
				v.merge(m)
			}
			if len(msgs) > 0 && s.caughtUp.Before(last) {
				s.caughtUp = last
			}
			for id, groups := range reactions {
				if s.reactionTouched[id] > mark {
					continue
				}
				byUser := make(map[string]chat.Reaction)
				for _, g := range groups {
					for _, u := range g.Reactors {
						byUser[u] = chat.Reaction{MessageID: id, UserID: u, Emoji: g.Emoji, CreatedAt: g.FirstSeen}
					}
				}
				s.reactions[id] = byUser
			}
			if err != nil {
				s.degraded = true
				v.log.Warn("catch-up failed", zap.Error(err))
			} else {
				s.degraded = false
				s.synced = true
			}
			v.acknowledge()
			if s.resyncQueued {
				s.resyncQueued = false
				v.catchUp()
			}
		})
	})
}

func (v *View) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || chat.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), v.readRetries), ctx))
}

// fetch pages the ledger after from. last is the cursor of the final message
// returned, or from when the ledger holds nothing newer.
func (v *View) fetch(ctx context.Context, from chat.Cursor) ([]chat.Message, chat.Cursor, error) {
	var out []chat.Message
	cursor := from
	for {
		var page *usecase.ListMessagesPage
		err := v.retry(ctx, func() error {
			p, err := v.ledger.List.Execute(ctx, usecase.ListMessagesInput{
				ConversationID: v.conversationID,
				ReaderID:       v.selfID,
				After:          cursor,
				Limit:          v.pageSize,
			})
			page = p
			return err
		})
		if err != nil {
			return out, cursor, err
		}
		out = append(out, page.Messages...)
		if n := len(page.Messages); n > 0 {
			cursor = page.Messages[n-1].Cursor()
		}
		if len(page.Messages) < v.pageSize {
			return out, cursor, nil
		}
	}
}

func (v *View) reloadReactions(ctx context.Context, ids []string) (map[string][]chat.ReactionGroup, error) {
	if v.ledger.Reactions == nil {
		return nil, nil
	}
	out := make(map[string][]chat.ReactionGroup, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		var groups []chat.ReactionGroup
		err := v.retry(ctx, func() error {
			g, err := v.ledger.Reactions.Execute(ctx, id)
			groups = g
			return err
		})
		if err != nil {
			return out, err
		}
		out[id] = groups
	}
	return out, nil
}

// acknowledge advances peer messages: to read while foreground, otherwise
// to delivered.
func (v *View) acknowledge() {
	s := &v.st
	if s.foreground {
		var upto int64
		for _, m := range s.messages {
			if m.SenderID != v.selfID && m.Status != chat.StatusRead && m.Seq > upto {
				upto = m.Seq
			}
		}
		if upto <= s.readUpTo {
			return
		}
		s.readUpTo = upto
		v.async(func(ctx context.Context) {
			changed, err := v.ledger.MarkRead.Execute(ctx, usecase.MarkConversationReadInput{
				ConversationID: v.conversationID,
				ReaderID:       v.selfID,
				UptoSeq:        upto,
				Target:         chat.StatusRead,
			})
			v.post(func(s *state) {
				if err != nil {
					v.log.Warn("mark read failed", zap.Error(err))
					if s.readUpTo == upto {
						s.readUpTo = 0
					}
					return
				}
				for _, m := range changed {
					v.raise(m.ID, m.Status)
				}
			})
		})
		return
	}

	for _, m := range s.messages {
		if m.SenderID == v.selfID || m.Status != chat.StatusSent {
			continue
		}
		if _, busy := s.delivering[m.ID]; busy {
			continue
		}
		s.delivering[m.ID] = struct{}{}
		id := m.ID
		v.async(func(ctx context.Context) {
			res, err := v.ledger.Advance.Execute(ctx, usecase.AdvanceStatusInput{
				MessageID: id,
				Target:    string(chat.StatusDelivered),
				ActorID:   v.selfID,
			})
			v.post(func(s *state) {
				delete(s.delivering, id)
				if err != nil {
					v.log.Warn("mark delivered failed", zap.String("message_id", id), zap.Error(err))
					return
				}
				v.raise(id, res.Message.Status)
			})
		})
	}
}

// SetForeground records whether the conversation is visible. Becoming
// visible reads every peer message received so far.
func (v *View) SetForeground(ctx context.Context, on bool) error {
	return v.do(ctx, func(s *state) {
		s.foreground = on
		if on {
			v.acknowledge()
		}
	})
}

// Send appends a message through the ledger. The message is shown as pending
// until the ledger acknowledges it, or for as long as it waits in the outbox.
func (v *View) Send(ctx context.Context, content string, attachment *chat.Attachment) (*usecase.SendMessageResult, error) {
	p := PendingMessage{DedupeKey: uuid.NewString(), Content: content, Attachment: attachment, QueuedAt: time.Now().UTC()}
	if err := v.do(ctx, func(s *state) { s.pending = append(s.pending, p) }); err != nil {
		return nil, err
	}

	res, err := v.ledger.Send.Execute(ctx, usecase.SendMessageInput{
		ConversationID: v.conversationID,
		SenderID:       v.selfID,
		Content:        content,
		Attachment:     attachment,
		DedupeKey:      p.DedupeKey,
	})
	if err != nil {
		_ = v.do(context.Background(), func(s *state) {
			for i, q := range s.pending {
				if q.DedupeKey == p.DedupeKey {
					s.pending = append(s.pending[:i], s.pending[i+1:]...)
					break
				}
			}
		})
		return nil, err
	}
	if res.Message != nil {
		msg := *res.Message
		_ = v.do(context.Background(), func(*state) { v.merge(msg) })
	}
	return res, nil
}
