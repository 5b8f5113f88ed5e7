package chat

import (
	"strings"
	"time"
)

// Attachment is an opaque external reference. Bytes are never touched by this core.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is an immutable log entry in a conversation. Status is the only
// mutable field and only advances.
type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	SenderID       string      `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Seq            int64       `db:"seq" json:"seq"`
	Status         Status      `db:"status" json:"status"`
	Attachment     *Attachment `db:"attachment" json:"attachment,omitempty"`
	DedupeKey      string      `db:"dedupe_key" json:"dedupe_key,omitempty"`
}

// Cursor returns the position of m in its conversation's ledger.
func (m Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, Seq: m.Seq}
}

// NewMessage validates a message draft. Content is trimmed; a message with
// neither content nor attachment is rejected.
func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" {
		return nil, invalid("conversation_id", "is required")
	}
	if m.SenderID == "" {
		return nil, invalid("sender_id", "is required")
	}

	m.Content = strings.TrimSpace(m.Content)
	if m.Attachment != nil && m.Attachment.URL == "" {
		m.Attachment = nil
	}
	if m.Content == "" && m.Attachment == nil {
		return nil, invalid("content", "message must contain either content or attachment")
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.Status = StatusSent
	return &m, nil
}

// Excerpt shortens content for notification bodies.
func (m Message) Excerpt(max int) string {
	if m.Content == "" && m.Attachment != nil {
		return "Sent an attachment"
	}
	r := []rune(m.Content)
	if max <= 0 || len(r) <= max {
		return m.Content
	}
	return string(r[:max]) + "…"
}
