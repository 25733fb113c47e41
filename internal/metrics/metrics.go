package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payment_processor"

var (
	PriceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_lookups_total",
			Help:      "Price lookups by coin and result (fresh, cached, stale, unavailable)",
		},
		[]string{"coin", "result"},
	)

	QuotesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "issued_total",
			Help:      "Quotes issued by tier and kind (create, extend, free)",
		},
		[]string{"tier", "kind"},
	)

	WatcherCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "cycles_total",
			Help:      "Watcher poll cycles by chain and result",
		},
		[]string{"chain", "result"},
	)

	WatcherCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one watcher poll cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"chain"},
	)

	WatcherState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "state",
			Help:      "Watcher state per chain (0 disconnected, 1 connected, 2 polling)",
		},
		[]string{"chain"},
	)

	CreditOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "credit_outcomes_total",
			Help:      "Crediting decisions by chain, coin and outcome",
		},
		[]string{"chain", "coin", "outcome"},
	)

	CallsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "calls_granted_total",
			Help:      "API calls granted from on-chain payments",
		},
		[]string{"chain", "coin"},
	)

	MeteringFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metering",
			Name:      "flushed_calls_total",
			Help:      "API calls written to used_calls by the metering flush",
		},
	)

	MeteringFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metering",
			Name:      "flush_errors_total",
			Help:      "Per-project flush commits that failed and were retained for retry",
		},
	)

	MeteringPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "metering",
			Name:      "pending_projects",
			Help:      "Projects with unflushed call deltas",
		},
	)

	AuthLockouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "auth_lockouts_total",
			Help:      "Clients locked out after repeated authentication failures",
		},
		[]string{"scope"},
	)
)
