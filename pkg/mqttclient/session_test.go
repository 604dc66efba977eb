package mqttclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient/mqtttest"
)

func newTestSession(t *testing.T, broker *mqtttest.Broker, cfg SessionConfig) *Session {
	t.Helper()
	if cfg.Endpoint == "" {
		cfg.Endpoint = "broker.example"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "test"
	}
	return NewSessionWithClient(broker, cfg, nil)
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a1b2c3-ats.iot.eu-west-1.amazonaws.com", "ssl://a1b2c3-ats.iot.eu-west-1.amazonaws.com:8883"},
		{"localhost:1883", "ssl://localhost:1883"},
		{"tcp://localhost:1883", "tcp://localhost:1883"},
		{" broker ", "ssl://broker:8883"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BrokerURL(tc.in), tc.in)
	}
}

func TestConnect(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
}

func TestConnectFailureSurfaced(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.ConnectErr = errors.New("bad certificate")
	s := newTestSession(t, broker, SessionConfig{})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ConnectErr)
	assert.False(t, s.IsConnected())
}

func TestConnectRetriesThenFails(t *testing.T) {
	broker := &countingClient{Broker: mqtttest.NewBroker()}
	broker.ConnectErr = errors.New("refused")
	s := NewSessionWithClient(broker, SessionConfig{Endpoint: "b", ClientID: "c", ConnectRetries: 2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.Error(t, s.Connect(ctx))
	assert.Equal(t, 3, broker.connects)
}

func TestPublishWaitsForAck(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Publish(context.Background(), "meter/energy", []byte(`{"a":1}`)))

	pubs := broker.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "meter/energy", pubs[0].Topic)
	assert.Equal(t, QoSAtLeastOnce, pubs[0].QoS)
}

func TestPublishErrorNotRetried(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))
	broker.PublishErr = errors.New("quota exceeded")

	err := s.Publish(context.Background(), "t", []byte("x"))
	assert.ErrorIs(t, err, broker.PublishErr)
}

func TestPublishNotConnected(t *testing.T) {
	s := newTestSession(t, mqtttest.NewBroker(), SessionConfig{})
	assert.ErrorIs(t, s.Publish(context.Background(), "t", []byte("x")), ErrNotConnected)
}

func TestPublishCancelAbandonsAckWait(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.HoldAcks = true
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Publish(ctx, "t", []byte("x")) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publish did not return after cancel")
	}
	broker.ReleaseAcks()
}

func TestDisconnect(t *testing.T) {
	broker := mqtttest.NewBroker()
	s := newTestSession(t, broker, SessionConfig{})
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
	assert.ErrorIs(t, s.Disconnect(), ErrNotConnected)
}

func TestInterruptionAndResumption(t *testing.T) {
	var (
		mu          sync.Mutex
		interrupted []error
		resumed     int
	)
	cfg := SessionConfig{
		OnInterrupted: func(err error) {
			mu.Lock()
			interrupted = append(interrupted, err)
			mu.Unlock()
		},
		OnResumed: func(code byte, _ bool) {
			mu.Lock()
			resumed++
			mu.Unlock()
			assert.Equal(t, byte(0), code)
		},
	}
	s := newTestSession(t, mqtttest.NewBroker(), cfg)

	// initial connect is not a resumption
	s.onConnect(nil)
	assert.Equal(t, 0, resumed)

	linkErr := errors.New("EOF")
	s.onConnectionLost(nil, linkErr)
	s.onConnect(nil)
	s.onConnect(nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []error{linkErr}, interrupted)
	assert.Equal(t, 1, resumed)
}

func TestNewSessionRequiresMaterial(t *testing.T) {
	_, err := NewSession(SessionConfig{Endpoint: "b", ClientID: "c"}, nil)
	require.Error(t, err)

	_, err = NewSession(SessionConfig{ClientID: "c"}, nil)
	require.Error(t, err)
}

type countingClient struct {
	*mqtttest.Broker
	connects int
}

func (c *countingClient) Connect() mqtt.Token {
	c.connects++
	return c.Broker.Connect()
}
