package usecase

import (
	"context"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/realtime"
)

// Publisher fans events out to topic subscribers. *realtime.Fabric satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

// fanOut publishes best-effort: a failed publish is logged, never returned.
// Subscribers that miss it reconcile on their next sync.
func fanOut(ctx context.Context, pub Publisher, log *zap.Logger, topic string, kind realtime.EventKind, entity string, v any) {
	if pub == nil {
		return
	}
	ev, err := realtime.NewEvent(topic, kind, entity, v)
	if err == nil {
		err = pub.Publish(ctx, ev)
	}
	if err != nil {
		log.Warn("fan-out failed", zap.String("topic", topic), zap.String("entity", entity), zap.Error(err))
	}
}

// Entity names carried on fabric events.
const (
	EntityMessage  = "message"
	EntityStatus   = "status"
	EntityReaction = "reaction"
)
