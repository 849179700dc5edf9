package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkorder",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "checkorder",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	remoteOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkorder",
			Subsystem: "collection",
			Name:      "remote_ops_total",
			Help:      "Ordering service calls issued by collections.",
		},
		[]string{"kind", "op", "success"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "checkorder",
			Subsystem: "collection",
			Name:      "remote_op_duration_seconds",
			Help:      "Ordering service call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "op"},
	)
	reorders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkorder",
			Subsystem: "collection",
			Name:      "reorders_total",
			Help:      "Local reorders by outcome.",
		},
		[]string{"kind", "outcome"},
	)
	serverMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkorder",
			Subsystem: "engine",
			Name:      "moves_total",
			Help:      "Position changes applied by the ordering service.",
		},
		[]string{"op"},
	)
)

// Reorder outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
	OutcomeResorted   = "resorted"
	OutcomeNoop       = "noop"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, remoteOps, remoteDuration, reorders, serverMoves)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRemoteOp(kind, op string, err error, duration time.Duration) {
	RegisterMetrics()
	remoteOps.WithLabelValues(kind, op, strconv.FormatBool(err == nil)).Inc()
	remoteDuration.WithLabelValues(kind, op).Observe(duration.Seconds())
}

func RecordReorder(kind, outcome string) {
	RegisterMetrics()
	reorders.WithLabelValues(kind, outcome).Inc()
}

func RecordServerMove(op string) {
	RegisterMetrics()
	serverMoves.WithLabelValues(op).Inc()
}

