package mqttclient

import (
	"context"
	"fmt"
)

// IPublisher publishes payloads to a fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, payload []byte) error
	Close()
}

// Publisher binds a session to one topic.
type Publisher struct {
	session *Session
	topic   string
}

func NewPublisher(session *Session, topic string) *Publisher {
	return &Publisher{
		session: session,
		topic:   topic,
	}
}

// PublishMessage blocks until the broker acknowledged payload. Failures are
// returned, never retried.
func (p *Publisher) PublishMessage(ctx context.Context, payload []byte) error {
	if err := p.session.Publish(ctx, p.topic, payload); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Topic() string { return p.topic }

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	if err := p.session.Disconnect(); err != nil {
		p.session.log.Debug("publisher close", "err", err)
	}
}
