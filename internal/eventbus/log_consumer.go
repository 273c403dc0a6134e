package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	log *zap.Logger
}

func NewLogConsumer(log *zap.Logger) *LogConsumer {
	return &LogConsumer{log: log.Named("event")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	entities := make([]string, len(evt.AffectedEntities))
	for i, ref := range evt.AffectedEntities {
		entities[i] = ref.EntityType + ":" + ref.EntityID
	}
	level := zap.InfoLevel
	if evt.Polarity == "negative" {
		level = zap.WarnLevel
	}
	c.log.Log(level, evt.Summary,
		zap.String("event_type", evt.EventType),
		zap.String("category", evt.Category),
		zap.String("weight", evt.Weight),
		zap.Strings("entities", entities))
	return nil
}
