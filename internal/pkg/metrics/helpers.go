package metrics

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// errNotFoundText matches storage.ErrNotFound without importing storage
const errNotFoundText = "key not found"

// RecordStorageOperation records key/value operation metrics consistently
// backend: storage backend name (e.g., "file", "redis", "sqlite")
// operation: operation name ("get", "set", "remove")
// duration: time taken for the operation
// err: error from the operation (nil if successful)
func RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	ms := float64(duration.Milliseconds())
	StorageDuration.WithLabelValues(backend, operation).Observe(ms)

	status := "success"
	if err != nil {
		errorType := classifyStorageError(err)
		if errorType == "not_found" {
			status = "miss"
		} else {
			status = "error"
			StorageErrors.WithLabelValues(backend, operation, errorType).Inc()
		}
	}
	StorageOperations.WithLabelValues(backend, operation, status).Inc()
}

// RecordHTTPRequest records a served HTTP request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(float64(duration.Milliseconds()))
}

// SetLoggedIn updates the logged-in gauge
func SetLoggedIn(loggedIn bool) {
	if loggedIn {
		SessionLoggedIn.Set(1)
		return
	}
	SessionLoggedIn.Set(0)
}

// classifyStorageError categorizes storage errors for metrics
func classifyStorageError(err error) string {
	if err == nil {
		return "none"
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return "timeout"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, errNotFoundText) || strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "permission denied"):
		return "permission"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return "connection"
	case strings.Contains(errStr, "parse") || strings.Contains(errStr, "syntax"):
		return "corrupt"
	case strings.Contains(errStr, "locked") || strings.Contains(errStr, "busy"):
		return "locked"
	default:
		return "other"
	}
}
