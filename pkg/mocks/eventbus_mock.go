// Package mocks provides testify mocks of the engine's collaborators.
package mocks

import (
	"context"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, event *events.Event) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(ctx, eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}
