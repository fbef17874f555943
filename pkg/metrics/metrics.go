package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Peer metrics
	PeerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "natfailover_peer_state",
			Help: "Observed peer state (0 = healthy, 1 = suspect, 2 = down, 3 = recovering)",
		},
	)

	ConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "natfailover_peer_consecutive_failures",
			Help: "Length of the current run of failed peer probes",
		},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natfailover_probes_total",
			Help: "Total number of peer probes by result",
		},
		[]string{"result"},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "natfailover_probe_duration_seconds",
			Help:    "Peer probe round trip in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natfailover_transitions_total",
			Help: "Total number of peer state transitions",
		},
		[]string{"from", "to"},
	)

	// Action metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natfailover_actions_total",
			Help: "Total number of cloud actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natfailover_action_failures_total",
			Help: "Total number of cloud actions that failed after retries",
		},
		[]string{"action"},
	)

	Blocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "natfailover_blocked",
			Help: "Whether a takeover or handback keeps failing (1 = blocked)",
		},
		[]string{"intent"},
	)

	PendingRoutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "natfailover_pending_routes",
			Help: "Route tables that have not yet converged on the last intent",
		},
	)

	// Loop metrics
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "natfailover_cycle_duration_seconds",
			Help:    "Duration of one probe, evaluate and act cycle in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "natfailover_action_duration_seconds",
			Help:    "Cloud action latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

// EventsDropped counts events the broker discarded because a buffer was full
var EventsDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "natfailover_events_dropped_total",
		Help: "Events dropped by the in-process broker",
	},
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PeerState)
	prometheus.MustRegister(ConsecutiveFailures)
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionFailuresTotal)
	prometheus.MustRegister(Blocked)
	prometheus.MustRegister(PendingRoutes)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
