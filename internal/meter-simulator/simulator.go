package meter_simulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient"
)

// DefaultDelay separates two consecutive publishes.
const DefaultDelay = 2 * time.Second

type replayCounter interface {
	Replays() int
}

// MeterSimulator replays a ReadingSource onto the broker at a fixed cadence.
type MeterSimulator struct {
	source    ReadingSource
	publisher mqttclient.IPublisher
	delay     time.Duration
	log       *slog.Logger
	metrics   *Metrics
}

func NewMeterSimulator(source ReadingSource, publisher mqttclient.IPublisher, delay time.Duration,
	logger *slog.Logger, metrics *Metrics) *MeterSimulator {
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &MeterSimulator{
		source:    source,
		publisher: publisher,
		delay:     delay,
		log:       logger.With("component", "meter-simulator"),
		metrics:   metrics,
	}
}

// Start streams readings until the source is exhausted, a publish fails or
// ctx is cancelled. Cancellation is not an error. The publisher is closed on
// every exit path.
func (m *MeterSimulator) Start(ctx context.Context) error {
	defer m.publisher.Close()

	var (
		published int
		replays   int
	)
	for {
		if ctx.Err() != nil {
			m.log.Info("interrupted", "published", published)
			return nil
		}

		reading, err := m.source.Next()
		switch {
		case errors.Is(err, io.EOF):
			m.log.Info("source exhausted", "published", published)
			return nil
		case errors.Is(err, ErrMalformedRecord):
			m.metrics.skipped.Inc()
			m.log.Warn("skipping record", "err", err)
			continue
		case err != nil:
			return err
		}

		if rc, ok := m.source.(replayCounter); ok && rc.Replays() != replays {
			replays = rc.Replays()
			m.metrics.replays.Inc()
			m.log.Info("replaying source from the first record", "pass", replays+1)
		}

		payload, err := reading.Encode()
		if err != nil {
			return err
		}
		if err := m.publisher.PublishMessage(ctx, payload); err != nil {
			if ctx.Err() != nil {
				// ack wait abandoned; the broker may still deliver it
				m.log.Info("interrupted during publish", "published", published)
				return nil
			}
			m.metrics.publishErrors.Inc()
			return err
		}
		published++
		m.metrics.published.Inc()
		m.log.Info("published", "payload", string(payload))

		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("interrupted", "published", published)
			return nil
		case <-timer.C:
		}
	}
}
