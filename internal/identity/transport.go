package identity

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devilmonastery/authgate/internal/pkg/metrics"
)

// metricsTransport wraps an http.RoundTripper to collect metrics on provider calls
type metricsTransport struct {
	base http.RoundTripper
}

// NewMetricsTransport creates a transport wrapper that records metrics for every
// accounts:<op> call. New installs it on the client's HTTP client.
func NewMetricsTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &metricsTransport{base: base}
}

// RoundTrip implements http.RoundTripper
func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isExchangeRequest(req) {
		return t.base.RoundTrip(req)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	op := normalizeOperation(req.URL.Path)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}

	metrics.ExchangeCalls.WithLabelValues(op, strconv.Itoa(statusCode)).Inc()
	metrics.ExchangeDuration.WithLabelValues(op).Observe(float64(duration.Milliseconds()))

	if err != nil || statusCode >= 400 {
		metrics.ExchangeErrors.WithLabelValues(op, classifyExchangeError(statusCode, err)).Inc()
	}

	return resp, err
}

// isExchangeRequest checks if the request targets an accounts endpoint
func isExchangeRequest(req *http.Request) bool {
	return req.URL != nil && strings.Contains(req.URL.Path, "/accounts:")
}

// normalizeOperation extracts the operation name from an accounts:<op> path.
// Anything unexpected collapses to "other" to keep label cardinality bounded.
func normalizeOperation(path string) string {
	idx := strings.LastIndex(path, "accounts:")
	if idx < 0 {
		return "other"
	}
	op := path[idx+len("accounts:"):]
	switch Operation(op) {
	case OpSignIn, OpSignUp, OpChangePassword:
		return op
	default:
		return "other"
	}
}

// classifyExchangeError categorizes provider errors for metrics
func classifyExchangeError(statusCode int, err error) string {
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "context canceled"):
			return "canceled"
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
			return "timeout"
		case strings.Contains(errStr, "connection"):
			return "connection"
		case strings.Contains(errStr, "tls") || strings.Contains(errStr, "TLS") || strings.Contains(errStr, "x509"):
			return "tls"
		default:
			return "network"
		}
	}

	switch {
	case statusCode == 400:
		return "rejected"
	case statusCode == 401:
		return "unauthorized"
	case statusCode == 403:
		return "forbidden"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
