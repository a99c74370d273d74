// Package feed is the in-process stream of lifecycle events. Components
// publish to it; the CLI renderer and the NATS exporter subscribe.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const Topic = "qa.lifecycle"

type envelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type Feed struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

var _ events.Publisher = (*Feed)(nil)

// New builds a feed whose Publish returns only after every subscriber acked,
// so subscribers see events in publish order.
func New(log logger.ILogger) *Feed {
	return &Feed{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{BlockPublishUntilSubscriberAck: true},
			watermill.NewStdLogger(false, false),
		),
		logger: log,
	}
}

func (f *Feed) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(envelope{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := f.pubSub.Publish(Topic, msg); err != nil {
		f.logger.Warn("Feed", "Publish failed", map[string]interface{}{"type": event.EventType(), "error": err.Error()})
		return err
	}
	return nil
}

// Subscribe calls handler for every event until ctx ends.
func (f *Feed) Subscribe(ctx context.Context, handler func(events.Event)) error {
	messages, err := f.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			f.process(msg, handler)
		}
	}()
	return nil
}

func (f *Feed) process(msg *message.Message, handler func(events.Event)) {
	// Always ack: a bad payload or a panicking handler must not stall
	// publishers.
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Feed", "Subscriber panicked", map[string]interface{}{"panic": r})
		}
	}()

	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		f.logger.Error("Feed", "Failed to unmarshal event", map[string]interface{}{"error": err.Error()})
		return
	}
	handler(events.BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt})
}

func (f *Feed) Close() error {
	return f.pubSub.Close()
}
