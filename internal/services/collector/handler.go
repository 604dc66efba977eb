package collector

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model/messages"
	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient"
)

// ErrDecode wraps payloads that are not a valid reading. They never reach the log.
var ErrDecode = errors.New("collector: cannot decode payload")

type inbound struct {
	topic   string
	payload []byte
}

// HandleMessage decodes payload, appends it to the log and rewrites the log
// file, the last two under the log's lock. A flush failure is returned but
// the entry stays in memory.
func (s *Service) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	reading, err := messages.DecodeReading(payload)
	if err != nil {
		s.metrics.decodeErrors.Inc()
		s.log.Warn("dropping malformed payload", "topic", topic, "err", err)
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	var total int
	err = s.store.Append(reading, func(entries []model.LogEntry) error {
		total = len(entries)
		return s.writer.Flush(entries)
	})
	s.metrics.ingested.Inc()
	s.metrics.entries.Set(float64(total))
	if err != nil {
		s.metrics.flushErrors.Inc()
		s.log.Warn("log flush failed, keeping entries in memory", "path", s.writer.Path(), "entries", total, "err", err)
	} else {
		s.log.Info("reading stored", "timestamp", reading.Timestamp, "energy_kW", reading.EnergyKW, "entries", total)
	}

	if s.mirror != nil {
		if merr := s.mirror.Mirror(ctx, topic, reading); merr != nil {
			s.metrics.mirrorErrors.Inc()
			s.log.Debug("influx mirror", "err", merr)
		}
	}
	return err
}

// errStopping rejects deliveries that arrive after the final drain began.
var errStopping = errors.New("collector: stopping")

// enqueue returns the delivery callback: it filters redeliveries and pushes
// the payload onto the inbox, blocking while the worker is behind.
func (s *Service) enqueue(draining <-chan struct{}) mqttclient.Handler {
	return func(topic string, msg mqtt.Message) error {
		s.metrics.received.Inc()
		if !s.dedup.ShouldProcess(packetKey(msg), msg.Duplicate()) {
			s.metrics.redeliveriesDropped.Inc()
			s.log.Debug("dropping redelivery", "topic", topic, "packet_id", msg.MessageID())
			return nil
		}
		select {
		case s.inbox <- inbound{topic: topic, payload: msg.Payload()}:
			return nil
		case <-draining:
			return errStopping
		}
	}
}

// packetKey pairs the packet id with a payload hash: brokers reuse ids once
// acknowledged, and a true redelivery carries the same payload. It is empty
// for QoS 0 deliveries, which carry no packet id.
func packetKey(msg mqtt.Message) string {
	if msg.Qos() == 0 || msg.MessageID() == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%x", msg.MessageID(), sha256.Sum256(msg.Payload()))
}
