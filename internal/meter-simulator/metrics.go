package meter_simulator

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
	skipped       prometheus.Counter
	replays       prometheus.Counter
}

// NewMetrics registers the simulator counters on reg. A nil reg yields
// unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metersim",
			Name:      "published_total",
			Help:      "Readings published and acknowledged by the broker.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metersim",
			Name:      "publish_errors_total",
			Help:      "Publish calls that failed.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metersim",
			Name:      "skipped_records_total",
			Help:      "Source rows skipped as malformed.",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metersim",
			Name:      "replays_total",
			Help:      "Times the source was rewound in replay mode.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.publishErrors, m.skipped, m.replays)
	}
	return m
}
