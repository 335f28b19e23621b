package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ExecutionsMaterialized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coaching_executions_materialized_total",
			Help: "Number of execution rows inserted by period materialization",
		},
	)

	PeriodsMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coaching_periods_materialized_total",
			Help: "Period materialization calls by outcome (created, existing)",
		},
		[]string{"outcome"},
	)

	Bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coaching_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	StorageRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coaching_storage_retries_total",
			Help: "Retries of transient storage failures by operation",
		},
		[]string{"operation"},
	)

	Archives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coaching_archives_total",
			Help: "Archive runs by outcome",
		},
		[]string{"outcome"},
	)

	TransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coaching_transaction_duration_seconds",
			Help:    "Time taken by a retried unit of work, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func Register() {
	prometheus.MustRegister(
		ExecutionsMaterialized,
		PeriodsMaterialized,
		Bookings,
		StorageRetries,
		Archives,
		TransactionDuration,
	)
}
