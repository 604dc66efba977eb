package mqttclient

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes to a topic and dispatches deliveries to a handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer holds the session and topic for subscribing
type Consumer struct {
	session *Session
	handler Handler
	topic   string
}

// NewConsumer creates a Consumer; handler may be nil and injected later.
func NewConsumer(session *Session, topic string, handler Handler) *Consumer {
	return &Consumer{
		session: session,
		topic:   topic,
		handler: handler,
	}
}

// SetHandler must be called before ConsumeMessage.
func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// ConsumeMessage subscribes with QoS 1 and blocks until ctx is cancelled,
// then unsubscribes. A failed subscription is returned immediately.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	log := c.session.log.With("topic", c.topic)
	err := c.session.Subscribe(ctx, c.topic, QoSAtLeastOnce, func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			log.Warn("no handler set")
			return
		}
		if err := c.handler(c.topic, message); err != nil {
			log.Warn("error handling message", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	log.Info("subscribed")

	<-ctx.Done()

	// The persistent session covers reconnects within a run. Client ids are
	// unique per run, so no later process resumes this session and the broker
	// would otherwise keep queueing for it.
	if err := c.session.Unsubscribe(c.topic); err != nil {
		log.Debug("unsubscribe", "err", err)
	}
	return nil
}
