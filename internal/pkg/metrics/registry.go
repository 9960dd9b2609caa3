package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Store Metrics
var (
	// SessionTransitions tracks session lifecycle events
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_session_transitions_total",
			Help: "Total session lifecycle events by event (restore, restore_discarded, login, logout, expire)",
		},
		[]string{"event"},
	)

	// SessionLoggedIn reports whether a session is currently held (1) or not (0)
	SessionLoggedIn = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authgate_session_logged_in",
			Help: "1 if the session store currently holds a token, 0 otherwise",
		},
	)

	// SessionStorageErrors tracks swallowed durable record failures
	SessionStorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_session_storage_errors_total",
			Help: "Durable record failures swallowed by the session store, by operation",
		},
		[]string{"op"},
	)
)

// Storage Backend Metrics
var (
	// StorageOperations tracks key/value operations
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_storage_operations_total",
			Help: "Total storage operations by backend, operation, and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// StorageDuration tracks key/value operation latency
	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "authgate_storage_operation_duration_ms",
			Help:                            "Storage operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"backend", "operation"},
	)

	// StorageErrors tracks storage errors by type
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_storage_errors_total",
			Help: "Total storage errors by backend, operation, and error type",
		},
		[]string{"backend", "operation", "error_type"},
	)
)

// Identity Provider Metrics
var (
	// ExchangeCalls tracks identity provider calls
	ExchangeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_exchange_calls_total",
			Help: "Total identity provider calls by operation and status code",
		},
		[]string{"operation", "status_code"},
	)

	// ExchangeDuration tracks identity provider latency
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "authgate_exchange_duration_ms",
			Help:                            "Identity provider call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"operation"},
	)

	// ExchangeErrors tracks identity provider failures
	ExchangeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_exchange_errors_total",
			Help: "Total identity provider errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// HTTP/Web Handler Metrics
var (
	// HTTPRequests tracks HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "authgate_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "path"},
	)
)
