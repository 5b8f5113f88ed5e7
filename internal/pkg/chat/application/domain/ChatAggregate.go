package chat

import (
	"time"
)

// Chat is the domain aggregate for a conversation and its posting rules.
//
// The application layer hydrates it with the conversation and, when known,
// the timestamp of the last persisted message before invoking its behaviors.
// Persistence is handled by repositories outside the domain.
type Chat struct {
	Conversation  Conversation
	LastMessageAt *time.Time
}

// PostMessage applies domain rules and returns a validated message ready to persist.
//
// Validations:
// - Conversation/message identity must match
// - Sender must be a participant
// - Message must include content or an attachment
//
// Behavior:
// - CreatedAt is clamped to LastMessageAt so the ledger never goes backwards.
// - On success, c.LastMessageAt is advanced to m.CreatedAt.
func (c *Chat) PostMessage(m Message, now time.Time) (Message, error) {
	if m.ConversationID == "" || c.Conversation.ID == "" || m.ConversationID != c.Conversation.ID {
		return Message{}, invalid("conversation_id", "does not match the conversation")
	}
	if !c.Conversation.HasParticipant(m.SenderID) {
		return Message{}, ErrNotParticipant
	}

	if m.CreatedAt.IsZero() {
		if now.IsZero() {
			now = time.Now()
		}
		m.CreatedAt = now
	}
	if c.LastMessageAt != nil && m.CreatedAt.Before(*c.LastMessageAt) {
		m.CreatedAt = *c.LastMessageAt
	}

	validated, err := NewMessage(m)
	if err != nil {
		return Message{}, err
	}

	ts := validated.CreatedAt
	c.LastMessageAt = &ts
	return *validated, nil
}
