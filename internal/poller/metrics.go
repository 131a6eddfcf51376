package poller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmslite/targetwatch/internal/fetcher"
)

// Metrics are the Prometheus collectors fed by a Manager
type Metrics struct {
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	down     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targetwatch_fetch_total",
				Help: "Fetch outcomes by kind and trigger",
			},
			[]string{"kind", "trigger"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "targetwatch_fetch_duration_seconds",
				Help:    "Fetch latency in seconds, port retries included",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		down: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targetwatch_target_status_changes_total",
				Help: "Targets crossing the down threshold or recovering",
			},
			[]string{"event_type"},
		),
	}
}

// Collectors returns every collector to register. liveTasks backs the
// running-loops gauge.
func (m *Metrics) Collectors(liveTasks func() int) []prometheus.Collector {
	live := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "targetwatch_polling_tasks",
			Help: "Polling loops that have not exited",
		},
		func() float64 { return float64(liveTasks()) },
	)
	return []prometheus.Collector{m.fetches, m.duration, m.down, live}
}

func (m *Metrics) observeFetch(out fetcher.Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(out.Kind), string(out.Trigger)).Inc()
	m.duration.WithLabelValues(string(out.Kind)).Observe(seconds)
}

func (m *Metrics) observeStatus(eventType string) {
	if m == nil {
		return
	}
	m.down.WithLabelValues(eventType).Inc()
}
