// internal/events/handler.go
package events

import (
	"context"

	"go.uber.org/zap"
)

// Handler processes events of a specific type.
type Handler interface {
	// Handle processes an event. Handlers of one shard run sequentially,
	// so a slow handler delays the curves hashed to it.
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription represents a subscription to events.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

// Unsubscribe removes this subscription from the event bus.
func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}

// LogHandler logs every event it receives at debug level.
func LogHandler(logger *zap.Logger) Handler {
	return HandlerFunc(func(_ context.Context, e Event) error {
		logger.Debug("Event delivered",
			zap.String("event_type", string(e.Type())),
			zap.String("curve_id", e.Curve()),
			zap.Time("at", e.Timestamp()))
		return nil
	})
}
