package chat

import "time"

const (
	// TypingTTL is how long a typing signal lives without a refresh.
	TypingTTL = 3 * time.Second
	// TypingMargin is the extra grace peers allow before treating a signal as stale.
	TypingMargin = time.Second
)

// TypingState is keyed by (ConversationID, UserID). Never persisted beyond its TTL.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	At             time.Time `json:"at"`
}

// Stale reports whether a typing-true signal observed at s.At has outlived ttl+margin.
func (s TypingState) Stale(now time.Time, ttl, margin time.Duration) bool {
	return !s.IsTyping || !now.Before(s.At.Add(ttl+margin))
}
