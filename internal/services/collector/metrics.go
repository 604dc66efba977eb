package collector

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	received            prometheus.Counter
	ingested            prometheus.Counter
	decodeErrors        prometheus.Counter
	redeliveriesDropped prometheus.Counter
	flushErrors         prometheus.Counter
	mirrorErrors        prometheus.Counter
	entries             prometheus.Gauge
	connectionEvents    *prometheus.CounterVec
}

// NewMetrics registers the collector metrics on reg. A nil reg yields
// unregistered collectors, which is what the tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the broker.",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "messages_ingested_total",
			Help:      "Readings appended to the log.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "decode_errors_total",
			Help:      "Payloads rejected as malformed.",
		}),
		redeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "redeliveries_dropped_total",
			Help:      "QoS 1 redeliveries of an already received packet.",
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "flush_errors_total",
			Help:      "Failed rewrites of the log file.",
		}),
		mirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "mirror_errors_total",
			Help:      "Readings the Influx mirror could not write.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector",
			Name:      "log_entries",
			Help:      "Readings currently held in the log.",
		}),
		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "connection_events_total",
			Help:      "Transport interruptions and resumptions.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.ingested, m.decodeErrors, m.redeliveriesDropped,
			m.flushErrors, m.mirrorErrors, m.entries, m.connectionEvents)
	}
	return m
}

// ConnectionEvent counts an "interrupted" or "resumed" notification.
func (m *Metrics) ConnectionEvent(event string) {
	m.connectionEvents.WithLabelValues(event).Inc()
}
