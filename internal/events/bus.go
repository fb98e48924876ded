// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки публикации
var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("event channel full")
)

// Publisher is the side of the bus the engine depends on.
type Publisher interface {
	Publish(event Event) error
}

// Bus is an in-memory event bus. Events of one curve go through the same
// shard, so handlers observe them in commit order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shards     []chan Event
	bufferSize int
	closeOnce  sync.Once
}

// Stats describes the bus load.
type Stats struct {
	BufferSize      int            `json:"bufferSize"`
	Shards          int            `json:"shards"`
	PendingEvents   int            `json:"pendingEvents"`
	HandlersPerType map[string]int `json:"handlersPerType"`
}

// NewBus creates a new event bus with the given number of ordered shards.
func NewBus(logger *zap.Logger, shards, bufferSize int) *Bus {
	if shards <= 0 {
		shards = 1
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		shards:     make([]chan Event, shards),
		bufferSize: bufferSize,
	}

	for i := range bus.shards {
		bus.shards[i] = make(chan Event, bufferSize)
		bus.wg.Add(1)
		go bus.processShard(bus.shards[i])
	}

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		typ:      eventType,
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues an event for asynchronous delivery. It never blocks: a full
// shard drops the event and reports ErrBufferFull.
func (b *Bus) Publish(event Event) error {
	if b.ctx.Err() != nil {
		return ErrBusClosed
	}

	shard := b.shards[b.shardFor(event.Curve())]
	select {
	case shard <- event:
		return nil
	default:
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.String("curve_id", event.Curve()))
		return ErrBufferFull
	}
}

// PublishSync delivers an event to all registered handlers in the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	handlersCopy := make(map[string]Handler, len(handlers))
	for id, h := range handlers {
		handlersCopy[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, handler := range handlersCopy {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bus) shardFor(curveID string) int {
	if len(b.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(curveID))
	return int(h.Sum32() % uint32(len(b.shards)))
}

// processShard delivers one shard's events in order.
func (b *Bus) processShard(ch chan Event) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// Доставляем то, что уже в очереди
			for {
				select {
				case event := <-ch:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-ch:
			if err := b.PublishSync(b.ctx, event); err != nil {
				b.logger.Error("Failed to process event",
					zap.String("event_type", string(event.Type())),
					zap.Error(err))
			}
		}
	}
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events, drains the queues and waits for handlers.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")
	b.closeOnce.Do(b.cancel)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		BufferSize:      b.bufferSize,
		Shards:          len(b.shards),
		HandlersPerType: make(map[string]int, len(b.handlers)),
	}
	for _, ch := range b.shards {
		s.PendingEvents += len(ch)
	}
	for eventType, handlers := range b.handlers {
		s.HandlersPerType[string(eventType)] = len(handlers)
	}
	return s
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) error { return nil }
