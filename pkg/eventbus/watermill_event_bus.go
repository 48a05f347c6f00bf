package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/autoflow/pkg/events"
)

type subscription struct {
	id      uint64
	handler EventHandler
}

// WatermillEventBus maps every event type to a watermill topic. Each topic is
// consumed once and fanned out to all local handlers registered for it.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	closed        bool
	nextID        uint64
	subscriptions map[events.EventType][]subscription
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType][]subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, event *events.Event) error {
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}

	if event.ID == "" {
		event.ID = eb.GenerateID()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.Type, err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, event.ID)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.Type))

	if err := eb.publisher.Publish(string(event.Type), msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	return nil
}

// Subscribe registers handler for eventType. The registration is removed
// when ctx is done.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return ErrBusClosed
	}

	if _, consuming := eb.subscriptions[eventType]; !consuming {
		messages, err := eb.subscriber.Subscribe(eb.ctx, string(eventType))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}

		eb.wg.Add(1)

		go eb.consume(eventType, messages)
	}

	eb.nextID++
	id := eb.nextID
	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], subscription{id: id, handler: handler})

	go func() {
		select {
		case <-ctx.Done():
			eb.unsubscribe(eventType, id)
		case <-eb.ctx.Done():
		}
	}()

	return nil
}

func (eb *WatermillEventBus) unsubscribe(eventType events.EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	current := eb.subscriptions[eventType]
	kept := current[:0:0]

	for _, sub := range current {
		if sub.id != id {
			kept = append(kept, sub)
		}
	}

	// the topic stays consumed; messages without handlers are acked and dropped
	eb.subscriptions[eventType] = kept
}

func (eb *WatermillEventBus) handlers(eventType events.EventType) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs := eb.subscriptions[eventType]
	handlers := make([]EventHandler, 0, len(subs))

	for _, sub := range subs {
		handlers = append(handlers, sub.handler)
	}

	return handlers
}

func (eb *WatermillEventBus) consume(eventType events.EventType, messages <-chan *message.Message) {
	defer eb.wg.Done()

	for msg := range messages {
		var event events.Event

		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			eb.logger.Error("Dropping malformed event", "event_type", eventType, "error", err)
			msg.Ack()

			continue
		}

		// handler failures are logged, not redelivered: a nack would replay
		// the event to every handler of the topic
		for _, handler := range eb.handlers(eventType) {
			if err := handler(eb.ctx, &event); err != nil {
				eb.logger.Error("Event handler failed", "event_type", eventType, "event_id", event.ID, "error", err)
			}
		}

		msg.Ack()
	}
}

func (eb *WatermillEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()

		return nil
	}

	eb.closed = true
	eb.mu.Unlock()

	eb.cancel()

	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	err = eb.subscriber.Close()

	eb.wg.Wait()

	return err
}
