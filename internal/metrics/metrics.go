package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime"

// Label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeCanceled = "canceled"
	OutcomeUnsent   = "unsent"

	RowsInserted = "inserted"
	RowsDropped  = "dropped"
	RowsFailed   = "failed"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames sent and received, by direction and frame kind",
		},
		[]string{"direction", "kind"},
	)

	BytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes transferred over the socket, by direction",
		},
		[]string{"direction"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a dropped or failed connection",
		},
	)

	HeartbeatTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections declared dead by the heartbeat monitor",
		},
	)

	HeartbeatLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_latency_seconds",
			Help:      "Ping to pong round trip",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Correlated request latency by outcome",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"outcome"},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a correlated response",
		},
	)

	HandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Message handlers that returned an error or panicked",
		},
		[]string{"kind"},
	)

	RecorderRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_rows_total",
			Help:      "Recorder rows by outcome",
		},
		[]string{"outcome"},
	)
)

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		ConnectionState,
		FramesTotal,
		BytesTotal,
		ReconnectAttemptsTotal,
		HeartbeatTimeoutsTotal,
		HeartbeatLatencySeconds,
		RequestDurationSeconds,
		PendingRequests,
		HandlerErrorsTotal,
		RecorderRowsTotal,
	)
}

// Init registers all collectors on a private registry. Safe to call more
// than once. Collectors may be updated before Init; they are simply not
// exported until registered.
func Init() *prometheus.Registry {
	once.Do(initRegistry)
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Init(), promhttp.HandlerOpts{})
}

// SetConnectionState marks current as the only active state.
func SetConnectionState(current string, all []string) {
	for _, s := range all {
		if s == current {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}
