package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind tags an incremental change on a topic.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindUpdate EventKind = "update"
	KindJoin   EventKind = "join"
	KindLeave  EventKind = "leave"
)

// Event is the wire envelope for every fabric publish.
type Event struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	Kind   EventKind       `json:"kind"`
	Entity string          `json:"entity"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent marshals v into a fresh envelope.
func NewEvent(topic string, kind EventKind, entity string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode %s event: %w", entity, err)
	}
	return Event{
		ID:     uuid.NewString(),
		Topic:  topic,
		Kind:   kind,
		Entity: entity,
		Data:   data,
		At:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// DeliveryType distinguishes the three things a subscription can yield.
type DeliveryType string

const (
	DeliverySync  DeliveryType = "sync"
	DeliveryEvent DeliveryType = "event"
	DeliveryError DeliveryType = "error"
)

// Delivery is one item read from a Subscription.
type Delivery struct {
	Type     DeliveryType
	Topic    string
	Snapshot json.RawMessage // DeliverySync
	Event    Event           // DeliveryEvent
	Err      error           // DeliveryError
}

// Topic names.
const (
	PresenceTopic = "presence"

	messagesPrefix      = "messages:"
	typingPrefix        = "typing:"
	notificationsPrefix = "notifications:"
)

func MessagesTopic(conversationID string) string { return messagesPrefix + conversationID }

func TypingTopic(conversationID string) string { return typingPrefix + conversationID }

func NotificationsTopic(userID string) string { return notificationsPrefix + userID }

// TopicID strips a known prefix, returning the scoped identifier.
func TopicID(topic string) (prefix, id string) {
	for _, p := range []string{messagesPrefix, typingPrefix, notificationsPrefix} {
		if strings.HasPrefix(topic, p) {
			return p, strings.TrimPrefix(topic, p)
		}
	}
	return topic, ""
}
