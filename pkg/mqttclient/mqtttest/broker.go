// Package mqtttest provides an in-memory mqtt.Client that loops published
// messages back to its own subscribers.
package mqtttest

import (
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtttest: not connected")

// Published is one message accepted by the broker.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
	At      time.Time
}

type subscription struct {
	filter  string
	qos     byte
	handler mqtt.MessageHandler
}

// Broker implements mqtt.Client. Deliveries to subscribers happen
// synchronously on the publishing goroutine, before the ack completes.
type Broker struct {
	mu        sync.Mutex
	connected bool
	subs      []subscription
	published []Published
	nextID    uint16
	held      []*Token

	ConnectErr   error
	PublishErr   error
	SubscribeErr error
	// HoldAcks leaves publish tokens pending until ReleaseAcks.
	HoldAcks bool
	// OnPublish runs after every accepted publish.
	OnPublish func(Published)
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Broker) IsConnectionOpen() bool { return b.IsConnected() }

func (b *Broker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConnectErr != nil {
		return completed(b.ConnectErr)
	}
	b.connected = true
	return completed(nil)
}

func (b *Broker) Disconnect(uint) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *Broker) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = append([]byte(nil), p...)
	case string:
		body = []byte(p)
	default:
		return completed(errors.New("mqtttest: unknown payload type"))
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return completed(ErrNotConnected)
	}
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return completed(err)
	}
	b.nextID++
	id := b.nextID
	pub := Published{Topic: topic, QoS: qos, Payload: body, At: time.Now()}
	b.published = append(b.published, pub)
	handlers := b.matching(topic)
	hold := b.HoldAcks
	onPublish := b.OnPublish
	b.mu.Unlock()

	for _, h := range handlers {
		h(b, &Message{topic: topic, payload: body, qos: qos, id: id})
	}
	if onPublish != nil {
		onPublish(pub)
	}

	if hold {
		t := newToken()
		b.mu.Lock()
		b.held = append(b.held, t)
		b.mu.Unlock()
		return t
	}
	return completed(nil)
}

// ReleaseAcks completes every held publish token.
func (b *Broker) ReleaseAcks() {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.mu.Unlock()
	for _, t := range held {
		t.complete(nil)
	}
}

// Deliver pushes a message to subscribers as if the broker sent it, e.g. a
// redelivery with the DUP flag.
func (b *Broker) Deliver(topic string, payload []byte, id uint16, duplicate bool) {
	b.mu.Lock()
	handlers := b.matching(topic)
	b.mu.Unlock()
	for _, h := range handlers {
		h(b, &Message{topic: topic, payload: payload, qos: 1, id: id, dup: duplicate})
	}
}

// Published returns a copy of every accepted publish, in order.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

func (b *Broker) Subscribe(filter string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return completed(ErrNotConnected)
	}
	if b.SubscribeErr != nil {
		return completed(b.SubscribeErr)
	}
	b.subs = append(b.subs, subscription{filter: filter, qos: qos, handler: handler})
	return completed(nil)
}

func (b *Broker) SubscribeMultiple(filters map[string]byte, handler mqtt.MessageHandler) mqtt.Token {
	for f, q := range filters {
		if t := b.Subscribe(f, q, handler); t.Error() != nil {
			return t
		}
	}
	return completed(nil)
}

func (b *Broker) Unsubscribe(filters ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		drop := false
		for _, f := range filters {
			if s.filter == f {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	return completed(nil)
}

// Subscriptions returns the active topic filters.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.filter)
	}
	return out
}

func (b *Broker) AddRoute(filter string, handler mqtt.MessageHandler) {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{filter: filter, handler: handler})
	b.mu.Unlock()
}

func (b *Broker) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// matching must be called with b.mu held.
func (b *Broker) matching(topic string) []mqtt.MessageHandler {
	var out []mqtt.MessageHandler
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			out = append(out, s.handler)
		}
	}
	return out
}

// Match reports whether an MQTT topic filter (with + and #) matches topic.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// Message implements mqtt.Message.
type Message struct {
	topic   string
	payload []byte
	qos     byte
	id      uint16
	dup     bool
}

func NewMessage(topic string, payload []byte, id uint16, duplicate bool) *Message {
	return &Message{topic: topic, payload: payload, qos: 1, id: id, dup: duplicate}
}

func (m *Message) Duplicate() bool   { return m.dup }
func (m *Message) Qos() byte         { return m.qos }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return m.id }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}

// Token implements mqtt.Token.
type Token struct {
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
	err  error
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

func completed(err error) *Token {
	t := newToken()
	t.complete(err)
	return t
}

func (t *Token) complete(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *Token) Wait() bool {
	<-t.done
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
