package chat

import "strings"

// Status is the delivery state of a message: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// ParseStatus accepts the canonical lower-case names.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", invalid("status", "unknown status "+v)
	}
	return s, nil
}

// CanAdvance reports whether moving from -> to is a forward transition.
// Equal or earlier targets are never forward.
func CanAdvance(from, to Status) bool {
	return to.Valid() && to.Rank() > from.Rank()
}

// StatusChange is fanned out when a message status advances.
type StatusChange struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
	ActorID        string `json:"actor_id"`
}
