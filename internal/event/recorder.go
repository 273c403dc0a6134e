// Package event provides domain event recording for the intake, concierge and
// portal services. Events are fanned out as ActivityEntry records via the
// activity.Store interface, then published to the in-process event bus for
// downstream consumers.
package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// Recorder writes domain events to the activity store.
type Recorder interface {
	Record(ctx context.Context, evt DomainEvent) error
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// ActivityRecorder implements Recorder by fanning out a DomainEvent into
// one ActivityEntry per affected entity, then writing via activity.Store.
// If a Publisher is set, the event is also published to the event bus
// after the store write succeeds.
type ActivityRecorder struct {
	store activity.Store
	bus   Publisher
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// SetPublisher attaches an event bus. Events are published after store writes.
func (r *ActivityRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

// Record fans out a DomainEvent into ActivityEntry records, writes them,
// and publishes to the event bus.
func (r *ActivityRecorder) Record(ctx context.Context, evt DomainEvent) error {
	entries := make([]types.ActivityEntry, 0, len(evt.AffectedEntities))
	for _, ref := range evt.AffectedEntities {
		entries = append(entries, types.ActivityEntry{
			EventID:           evt.ID,
			EventType:         evt.EventType,
			OccurredAt:        evt.OccurredAt,
			IndexedEntityType: ref.EntityType,
			IndexedEntityID:   ref.EntityID,
			EntityRole:        ref.Role,
			SourceRefs:        evt.AffectedEntities,
			Summary:           evt.Summary,
			Category:          evt.Category,
			Weight:            evt.Weight,
			Polarity:          evt.Polarity,
			Payload:           evt.Payload,
		})
	}
	if err := r.store.WriteEntries(ctx, entries); err != nil {
		return err
	}

	if r.bus != nil {
		r.bus.Publish(ctx, evt)
	}
	return nil
}

// Best records evt and logs a failure instead of returning it. Activity is
// never allowed to fail the request that produced it.
func Best(ctx context.Context, r Recorder, log *zap.Logger, evt DomainEvent) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, evt); err != nil {
		log.Warn("recording event",
			zap.String("event_type", evt.EventType),
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
}

// Discard is a Recorder that drops every event. Useful in tests that do not
// assert on activity.
type Discard struct{}

func (Discard) Record(context.Context, DomainEvent) error { return nil }
