package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the key registry module.
type Metrics struct {
	Registrations prometheus.Counter
	Updates       prometheus.Counter
	Removals      prometheus.Counter
	Transfers     prometheus.Counter
	Unauthorized  prometheus.Counter

	MutationDuration prometheus.Histogram
}

// New creates a new Metrics instance with all key registry metrics registered.
// Call once per process; tests construct the service without metrics.
func New() *Metrics {
	return &Metrics{
		Registrations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "namereg_key_registrations_total",
			Help: "Total number of names registered in the key registry",
		}),
		Updates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "namereg_key_updates_total",
			Help: "Total number of key updates in the key registry",
		}),
		Removals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "namereg_key_removals_total",
			Help: "Total number of names removed from the key registry",
		}),
		Transfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "namereg_key_ownership_transfers_total",
			Help: "Total number of key registry ownership transfers",
		}),
		Unauthorized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "namereg_key_unauthorized_total",
			Help: "Total number of key registry mutations rejected as unauthorized",
		}),
		MutationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "namereg_key_mutation_duration_seconds",
			Help:    "Duration of key registry mutations (store write plus audit emit)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveMutation records the duration of a mutation. Call with time.Now()
// taken at the start of the operation.
func (m *Metrics) ObserveMutation(start time.Time) {
	m.MutationDuration.Observe(time.Since(start).Seconds())
}
