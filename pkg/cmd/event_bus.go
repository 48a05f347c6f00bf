// Package cmd builds the process-level dependencies selected by command line flags.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/gochannel"
	"github.com/dukex/autoflow/pkg/channels/kafka"
	"github.com/dukex/autoflow/pkg/eventbus"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"

	kafkaConsumerGroup = "autoflow"
)

// NewEventBus creates the event bus for provider. An empty provider selects the in-process bus.
// The kafka provider reads its brokers from KAFKA_BROKERS.
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", EventBusGoChannel:
		pub, sub := gochannel.CreateChannel(wmLogger, gochannel.DefaultBuffer)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(os.Getenv("KAFKA_BROKERS")), kafkaConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
