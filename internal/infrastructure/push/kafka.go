// Package push hands notification tuples to the platform push pipeline.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	chat "chatcore/internal/pkg/chat/application/domain"
)

// Record is the boundary tuple downstream push services consume.
type Record struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Type        string            `json:"type"`
	Data        map[string]string `json:"data"`
}

type KafkaPusher struct {
	writer *kafkago.Writer
}

func NewKafkaPusher(brokers []string, topic string) (*KafkaPusher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("push: brokers and topic are required")
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		MaxAttempts:  1,
		WriteTimeout: 5 * time.Second,
	}
	return &KafkaPusher{writer: w}, nil
}

// Push writes one record keyed by recipient so a user's pushes stay ordered
// within a partition.
func (p *KafkaPusher) Push(ctx context.Context, n chat.NotificationEvent) error {
	b, err := json.Marshal(Record{
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Body:        n.Body,
		Type:        n.Type,
		Data:        n.Data,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(n.RecipientID),
		Value: b,
		Time:  n.CreatedAt,
	})
}

func (p *KafkaPusher) Close() error {
	return p.writer.Close()
}
