// Package mqttclient wraps a paho MQTT client into a mutually authenticated
// session with blocking connect/publish/subscribe/disconnect calls.
package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/tlsutil"
)

// QoSAtLeastOnce is the only quality of service used by the relay.
const QoSAtLeastOnce byte = 1

const (
	defaultPort         = "8883"
	defaultKeepAlive    = 30 * time.Second
	disconnectQuiesceMs = 250
	unsubscribeTimeout  = 2 * time.Second
)

// ErrNotConnected is returned when an operation needs a live session.
var ErrNotConnected = errors.New("mqtt: session not connected")

type SessionConfig struct {
	Endpoint       string // host, host:port or full broker URL
	ClientID       string
	TLS            tlsutil.MTLSConfig
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// ConnectRetries is the number of extra connect attempts after the first
	// one fails. Zero surfaces the first failure.
	ConnectRetries int

	// OnInterrupted fires when the link drops; paho reconnects on its own.
	OnInterrupted func(err error)
	// OnResumed fires after a reconnect that follows an interruption.
	// paho does not expose the CONNACK of automatic reconnects, so
	// sessionPresent is only meaningful for the initial connect log line.
	OnResumed func(returnCode byte, sessionPresent bool)
}

type Session struct {
	client      mqtt.Client
	cfg         SessionConfig
	log         *slog.Logger
	interrupted atomic.Bool
}

// NewSession loads the certificate material and prepares a persistent
// (non-clean) session. It does not connect.
func NewSession(cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if cfg.Endpoint == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("mqtt: endpoint and client id are required")
	}
	tlsConfig, err := tlsutil.LoadClientMTLS(cfg.TLS)
	if err != nil {
		return nil, err
	}

	s := newSession(cfg, logger)
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Endpoint))
	opts.SetClientID(cfg.ClientID)
	opts.SetTLSConfig(tlsConfig)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.log.Info("reconnecting", "endpoint", cfg.Endpoint)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// NewSessionWithClient builds a session around an existing client, e.g. an
// in-memory broker in tests. The client's handlers are not rewired.
func NewSessionWithClient(client mqtt.Client, cfg SessionConfig, logger *slog.Logger) *Session {
	s := newSession(cfg, logger)
	s.client = client
	return s
}

func newSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg: cfg,
		log: logger.With("client_id", cfg.ClientID),
	}
}

// BrokerURL turns an endpoint into a paho broker URL, defaulting to TLS on 8883.
func BrokerURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return "ssl://" + endpoint
	}
	return "ssl://" + net.JoinHostPort(endpoint, defaultPort)
}

// Connect blocks until the broker acknowledges the session or every attempt
// failed.
func (s *Session) Connect(ctx context.Context) error {
	retries := s.cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		token := s.client.Connect()
		if err := waitToken(ctx, token); err != nil {
			s.log.Warn("connect attempt failed", "endpoint", s.cfg.Endpoint, "attempt", attempt, "err", err)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if ct, ok := token.(*mqtt.ConnectToken); ok {
			s.log.Info("connected", "endpoint", s.cfg.Endpoint,
				"return_code", ct.ReturnCode(), "session_present", ct.SessionPresent())
		} else {
			s.log.Info("connected", "endpoint", s.cfg.Endpoint)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	if err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Endpoint, err)
	}
	return nil
}

// Publish sends payload with QoS 1 and waits for the broker's PUBACK.
// Cancelling ctx abandons the wait; the broker may still deliver the message.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	return waitToken(ctx, s.client.Publish(topic, QoSAtLeastOnce, false, payload))
}

// Subscribe registers handler for topic and blocks until the SUBACK only.
// handler runs on the client's delivery goroutine.
func (s *Session) Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	return waitToken(ctx, s.client.Subscribe(topic, qos, handler))
}

func (s *Session) Unsubscribe(topics ...string) error {
	token := s.client.Unsubscribe(topics...)
	if !token.WaitTimeout(unsubscribeTimeout) {
		return fmt.Errorf("mqtt unsubscribe %v: timed out", topics)
	}
	return token.Error()
}

// Disconnect closes the session gracefully and stops automatic reconnects.
func (s *Session) Disconnect() error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	s.client.Disconnect(disconnectQuiesceMs)
	s.log.Info("disconnected", "endpoint", s.cfg.Endpoint)
	return nil
}

// IsConnected reports whether the network link is currently up.
func (s *Session) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	s.interrupted.Store(true)
	s.log.Warn("connection interrupted", "err", err)
	if s.cfg.OnInterrupted != nil {
		s.cfg.OnInterrupted(err)
	}
}

func (s *Session) onConnect(_ mqtt.Client) {
	if !s.interrupted.Swap(false) {
		return
	}
	s.log.Info("connection resumed", "return_code", packets.Accepted)
	if s.cfg.OnResumed != nil {
		s.cfg.OnResumed(packets.Accepted, false)
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
