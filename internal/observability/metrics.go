package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "identifications_total",
		Help:      "Total identification attempts by outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "match_distance",
		Help:      "Euclidean distance of the nearest enrolled identity",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 12),
	})

	LivenessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "liveness_checks_total",
		Help:      "Total liveness verdicts by result",
	}, []string{"verdict"})

	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "attendance_marks_total",
		Help:      "Total attendance transitions by action",
	}, []string{"action"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattend",
		Name:      "active_sessions",
		Help:      "Number of live admin sessions",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattend",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
