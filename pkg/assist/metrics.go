package assist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	catalogLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assist",
			Name:      "catalog_loads_total",
			Help:      "Catalog loads, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	catalogLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "promql_assist",
			Name:      "catalog_load_seconds",
			Help:      "Catalog bootstrap latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	repairRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assist",
			Name:      "repair_requests_total",
			Help:      "AI repair requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promql_assist",
			Name:      "completions_total",
			Help:      "Completion requests served, partitioned by typeahead context.",
		},
		[]string{"context"},
	)
)

// Register attaches the controller collectors to reg.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		catalogLoadsTotal,
		catalogLoadSeconds,
		repairRequestsTotal,
		completionsTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func observeLoad(outcome LoadOutcome, d time.Duration) {
	catalogLoadsTotal.WithLabelValues(outcome.String()).Inc()
	if outcome == LoadSucceeded {
		catalogLoadSeconds.Observe(d.Seconds())
	}
}

func observeRepair(outcome string) {
	repairRequestsTotal.WithLabelValues(outcome).Inc()
}

func observeCompletion(context string) {
	if context == "" {
		context = "default"
	}
	completionsTotal.WithLabelValues(context).Inc()
}
