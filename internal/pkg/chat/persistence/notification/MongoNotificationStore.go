// Package notification stores delivered notifications for later retrieval.
package notification

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	chat "chatcore/internal/pkg/chat/application/domain"
)

const collection = "notifications"

type MongoNotificationStore struct {
	col *mongo.Collection
}

func NewMongoNotificationStore(db *mongo.Database) *MongoNotificationStore {
	return &MongoNotificationStore{col: db.Collection(collection)}
}

// Save upserts by notification id, so a duplicate delivery rewrites the same document.
func (s *MongoNotificationStore) Save(ctx context.Context, n chat.NotificationEvent) error {
	if s == nil || s.col == nil {
		return errors.New("MongoNotificationStore: nil collection")
	}
	if n.ID == "" {
		return &chat.ValidationError{Field: "id", Reason: "is required"}
	}
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": n.ID}, n, options.Replace().SetUpsert(true))
	return err
}

// ListForRecipient returns the newest notifications for a user.
func (s *MongoNotificationStore) ListForRecipient(ctx context.Context, userID string, limit int64) ([]chat.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := s.col.Find(ctx, bson.M{"recipient_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []chat.NotificationEvent{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
