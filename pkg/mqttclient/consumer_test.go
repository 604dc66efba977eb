package mqttclient

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient/mqtttest"
)

func TestConsumerDeliversToHandler(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))

	got := make(chan []byte, 4)
	consumer := NewConsumer(s, "meter/#", nil)
	consumer.SetHandler(func(topic string, m mqtt.Message) error {
		assert.Equal(t, "meter/#", topic)
		got <- m.Payload()
		return errors.New("handler errors are logged, not fatal")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.ConsumeMessage(ctx) }()

	require.Eventually(t, func() bool { return len(broker.Subscriptions()) == 1 }, time.Second, 5*time.Millisecond)

	publisher := NewPublisher(s, "meter/energy")
	require.NoError(t, publisher.PublishMessage(context.Background(), []byte("one")))
	require.NoError(t, publisher.PublishMessage(context.Background(), []byte("two")))

	assert.Equal(t, []byte("one"), <-got)
	assert.Equal(t, []byte("two"), <-got)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, broker.Subscriptions(), "unsubscribed on shutdown")
}

func TestConsumerSubscribeFailure(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))
	broker.SubscribeErr = errors.New("not authorized")

	err := NewConsumer(s, "meter/energy", nil).ConsumeMessage(context.Background())
	assert.ErrorIs(t, err, broker.SubscribeErr)
}

func TestPublisherCloseDisconnects(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))

	p := NewPublisher(s, "meter/energy")
	p.Close()
	assert.False(t, broker.IsConnected())

	// a second close is harmless
	p.Close()

	err := p.PublishMessage(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
