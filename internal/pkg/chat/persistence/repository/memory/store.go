// Package memory is an in-process implementation of the chat repository
// ports. It enforces the same uniqueness and monotonicity rules as the
// Postgres schema and backs local mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	now func() time.Time

	conversations map[string]chat.Conversation // id -> conversation
	pairs         map[string]string            // pair key -> conversation id
	messages      map[string]chat.Message      // id -> message
	ledger        map[string][]string          // conversation id -> message ids in order
	dedupe        map[string]string            // conversation id + dedupe key -> message id
	seq           int64
	lastCreated   map[string]time.Time

	reactions map[string]chat.Reaction // message id + user id -> reaction
	presence  map[string]chat.Presence
}

var (
	_ repository.ChatRepository     = (*Store)(nil)
	_ repository.ReactionRepository = (*Store)(nil)
	_ repository.PresenceRepository = (*Store)(nil)
)

// NewStore returns an empty store. now may be nil.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:           now,
		conversations: make(map[string]chat.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]chat.Message),
		ledger:        make(map[string][]string),
		dedupe:        make(map[string]string),
		lastCreated:   make(map[string]time.Time),
		reactions:     make(map[string]chat.Reaction),
		presence:      make(map[string]chat.Presence),
	}
}

func (s *Store) FindConversationByPair(_ context.Context, userA, userB string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[chat.PairKey(userA, userB)]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return s.conversations[id], nil
}

func (s *Store) InsertConversation(_ context.Context, c chat.Conversation) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chat.PairKey(c.ParticipantA, c.ParticipantB)
	if _, exists := s.pairs[key]; exists {
		return chat.Conversation{}, chat.ErrConflict
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.conversations[c.ID] = c
	s.pairs[key] = c.ID
	return c, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (s *Store) InsertMessage(_ context.Context, m chat.Message) (chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return chat.Message{}, false, chat.ErrNotFound
	}
	if m.DedupeKey != "" {
		if id, dup := s.dedupe[m.ConversationID+"\x00"+m.DedupeKey]; dup {
			return s.messages[id], false, nil
		}
	}

	// server-assigned time, never earlier than the previous message
	created := s.now().UTC()
	if last := s.lastCreated[m.ConversationID]; created.Before(last) {
		created = last
	}
	s.seq++
	m.ID = uuid.NewString()
	m.Seq = s.seq
	m.CreatedAt = created
	m.Status = chat.StatusSent

	s.messages[m.ID] = m
	s.ledger[m.ConversationID] = append(s.ledger[m.ConversationID], m.ID)
	s.lastCreated[m.ConversationID] = created
	if m.DedupeKey != "" {
		s.dedupe[m.ConversationID+"\x00"+m.DedupeKey] = m.ID
	}
	if created.After(c.LastActivityAt) {
		c.LastActivityAt = created
		s.conversations[c.ID] = c
	}
	return m, true, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []chat.Message
	for _, id := range s.ledger[conversationID] {
		m := s.messages[id]
		if !after.IsZero() && !after.Before(m.Cursor()) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AdvanceStatus(_ context.Context, messageID string, target chat.Status) (chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return chat.Message{}, false, chat.ErrNotFound
	}
	if !chat.CanAdvance(m.Status, target) {
		return m, false, nil
	}
	m.Status = target
	s.messages[messageID] = m
	return m, true, nil
}

func (s *Store) AdvanceConversationStatus(_ context.Context, conversationID, readerID string, uptoSeq int64, target chat.Status) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []chat.Message
	for _, id := range s.ledger[conversationID] {
		m := s.messages[id]
		if m.Seq > uptoSeq || m.SenderID == readerID || !chat.CanAdvance(m.Status, target) {
			continue
		}
		m.Status = target
		s.messages[id] = m
		changed = append(changed, m)
	}
	return changed, nil
}

func reactionKey(messageID, userID string) string { return messageID + "\x00" + userID }

func (s *Store) GetReaction(_ context.Context, messageID, userID string) (chat.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reactions[reactionKey(messageID, userID)]
	if !ok {
		return chat.Reaction{}, chat.ErrNotFound
	}
	return r, nil
}

func (s *Store) PutReaction(_ context.Context, r chat.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return chat.ErrNotFound
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.reactions[reactionKey(r.MessageID, r.UserID)] = r
	return nil
}

func (s *Store) DeleteReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey(messageID, userID)
	r, ok := s.reactions[key]
	if !ok || r.Emoji != emoji {
		return false, nil
	}
	delete(s.reactions, key)
	return true, nil
}

func (s *Store) ListReactions(_ context.Context, messageID string) ([]chat.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Reaction
	for _, r := range s.reactions {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) SetPresence(_ context.Context, p chat.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.presence[p.UserID]; ok && !p.Newer(cur) {
		return nil
	}
	s.presence[p.UserID] = p
	return nil
}

func (s *Store) GetPresence(_ context.Context, userID string) (chat.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	if !ok {
		return chat.Presence{}, chat.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListOnline(_ context.Context) ([]chat.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Presence
	for _, p := range s.presence {
		if p.IsOnline {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
