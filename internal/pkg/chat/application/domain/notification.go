package chat

import "time"

// NotificationTypeMessage tags notifications synthesized from inbound messages.
const NotificationTypeMessage = "message"

// NotificationEvent is derived, denormalized UX data. Its absence or
// duplication never affects delivery correctness.
type NotificationEvent struct {
	ID          string            `json:"id" bson:"_id"`
	RecipientID string            `json:"recipient_id" bson:"recipient_id"`
	Title       string            `json:"title" bson:"title"`
	Body        string            `json:"body" bson:"body"`
	Type        string            `json:"type" bson:"type"`
	Data        map[string]string `json:"data" bson:"data"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
}

// NewMessageNotification builds the notification for recipient, or returns
// false when the recipient is the sender.
func NewMessageNotification(m Message, recipientID, senderName string, now time.Time) (NotificationEvent, bool) {
	if recipientID == "" || recipientID == m.SenderID {
		return NotificationEvent{}, false
	}
	if senderName == "" {
		senderName = m.SenderID
	}
	return NotificationEvent{
		ID:          m.ID + ":" + recipientID,
		RecipientID: recipientID,
		Title:       senderName,
		Body:        m.Excerpt(120),
		Type:        NotificationTypeMessage,
		Data: map[string]string{
			"conversation_id": m.ConversationID,
			"message_id":      m.ID,
			"sender_id":       m.SenderID,
		},
		CreatedAt: now.UTC(),
	}, true
}
