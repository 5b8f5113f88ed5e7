package chat

import (
	"strings"
	"time"
)

// Conversation represents a 1:1 thread between an unordered pair of users.
// ParticipantA is always the lexically smaller identifier.
type Conversation struct {
	ID             string    `db:"id" json:"id"`
	ParticipantA   string    `db:"participant_a" json:"participant_a"`
	ParticipantB   string    `db:"participant_b" json:"participant_b"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// OrderedPair returns the two user ids sorted so (a,b) and (b,a) map to the same pair.
func OrderedPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// PairKey is the uniqueness key for a conversation between two users.
func PairKey(userA, userB string) string {
	a, b := OrderedPair(userA, userB)
	return a + ":" + b
}

// NewConversation validates the pair and returns an unsaved conversation.
func NewConversation(userA, userB string, now time.Time) (Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return Conversation{}, invalid("participants", "both user ids are required")
	}
	if userA == userB {
		return Conversation{}, invalid("participants", "a conversation needs two distinct users")
	}
	a, b := OrderedPair(userA, userB)
	now = now.UTC()
	return Conversation{ParticipantA: a, ParticipantB: b, CreatedAt: now, LastActivityAt: now}, nil
}

// HasParticipant tells whether userID is part of this conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}
