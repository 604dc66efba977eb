package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
)

// MeasurementName is the Influx measurement of mirrored readings.
const MeasurementName = "energy_reading"

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether every connection setting is present.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxMirror copies stored readings to InfluxDB behind a circuit breaker,
// so an unreachable database costs one fast failure per reading while open.
type InfluxMirror struct {
	writer PointWriter
	cb     *gobreaker.CircuitBreaker
	log    *slog.Logger
}

func NewInfluxMirror(w PointWriter, logger *slog.Logger) *InfluxMirror {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "influx-mirror")
	return &InfluxMirror{
		writer: w,
		log:    logger,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "influx",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// NewInfluxClient opens the client and its blocking write API. The caller closes the client.
func NewInfluxClient(cfg InfluxConfig) (influxdb2.Client, PointWriter) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
}

func (m *InfluxMirror) Mirror(ctx context.Context, topic string, reading model.Reading) error {
	t, err := reading.Time()
	if err != nil {
		return err
	}
	v, err := reading.Energy()
	if err != nil {
		return err
	}
	point := influxdb2.NewPoint(MeasurementName,
		map[string]string{"topic": topic},
		map[string]interface{}{"energy_kw": v},
		t)

	_, err = m.cb.Execute(func() (interface{}, error) {
		return nil, m.writer.WritePoint(ctx, point)
	})
	if err != nil {
		return fmt.Errorf("influx mirror: %w", err)
	}
	return nil
}

// State is the breaker state, reported by /healthz.
func (m *InfluxMirror) State() string {
	return m.cb.State().String()
}
