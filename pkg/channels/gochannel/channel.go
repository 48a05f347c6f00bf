// Package gochannel provides the in-process pub/sub used by single-node deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultBuffer is the per-subscriber output buffer.
const DefaultBuffer = 1000

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// Messages are fanned out to every subscriber of a topic and never persisted.
func CreateChannel(logger watermill.LoggerAdapter, buffer int64) (*gochannel.GoChannel, *gochannel.GoChannel) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return pubSub, pubSub
}
