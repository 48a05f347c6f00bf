// Package eventbus provides the publish/subscribe infrastructure shared by
// triggers, actions and execution lifecycle notifications.
package eventbus

import (
	"context"
	"errors"

	"github.com/dukex/autoflow/pkg/events"
)

var ErrBusClosed = errors.New("event bus is closed")

type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// EventSubscriber delivers events of one type to a handler until ctx is done.
type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType events.EventType, handler EventHandler) error
}

type EventHandler func(ctx context.Context, event *events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
