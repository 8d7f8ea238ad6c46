package monitoring

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/num-err/smartscan/config"
)

// Scan decision outcomes
const (
	ScanAllowed   = "allowed"
	ScanThrottled = "throttled"
	ScanNotFound  = "not_found"
)

var (
	initOnce sync.Once
	initErr  error
)

var (
	routesMu       sync.RWMutex
	routes         = make(map[string]bool)
	routeTemplates = make([]string, 0)
)

// ensureInitialized initializes OpenTelemetry with the default config on first use.
// Disabled by OTEL_METRICS_ENABLED=false.
func ensureInitialized() {
	initOnce.Do(func() {
		if !IsObservabilityEnabled() {
			slog.Info("Metrics disabled via OTEL_METRICS_ENABLED, skipping initialization")
			initErr = errors.New("metrics disabled via environment variable")
			return
		}

		serviceName := config.GetEnvOrDefault("SERVICE_NAME", "smartscan")
		initErr = Initialize(DefaultConfig(serviceName))
		if initErr != nil {
			slog.Error("Failed to initialize OpenTelemetry metrics, metrics will be disabled",
				"error", initErr,
				"service", serviceName)
		}
	})
}

// GetInitError returns the initialization error, if any
func GetInitError() error {
	ensureInitialized()
	return initErr
}

// IsInitialized returns true if metrics have been successfully initialized
func IsInitialized() bool {
	ensureInitialized()
	return initErr == nil
}

// IsObservabilityEnabled reports whether OTEL_METRICS_ENABLED allows metrics (default true)
func IsObservabilityEnabled() bool {
	return config.GetEnvBoolOrDefault("OTEL_METRICS_ENABLED", true)
}

// RegisterRoutes registers routes for label normalization. Templates use {id} or :id placeholders.
func RegisterRoutes(routesList []string) {
	routesMu.Lock()
	defer routesMu.Unlock()

	for _, route := range routesList {
		normalized := strings.ReplaceAll(route, "{id}", ":id")
		if strings.Contains(normalized, ":id") {
			routeTemplates = append(routeTemplates, normalized)
		} else {
			routes[route] = true
		}
	}
}

// Handler returns the metrics HTTP handler
func Handler() http.Handler {
	ensureInitialized()
	return otelHandler()
}

// HTTPMetricsMiddleware wraps an HTTP handler to record request count and latency
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	ensureInitialized()
	return otelHTTPMetricsMiddleware(next)
}

// RecordExternalCall records a call to a store, object store or stream
func RecordExternalCall(target, operation string, duration time.Duration, err error) {
	ensureInitialized()
	otelRecordExternalCall(target, operation, duration, err)
}

// RecordBusinessEvent records a registry mutation outcome
func RecordBusinessEvent(action, outcome string) {
	ensureInitialized()
	otelRecordBusinessEvent(action, outcome)
}

// RecordScanDecision records the outcome of a gated read
func RecordScanDecision(outcome string) {
	ensureInitialized()
	otelRecordScanDecision(outcome)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizeRoute maps a request path to a registered route or template.
// Anything unregistered becomes "unknown" to bound label cardinality.
func normalizeRoute(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	fullPath := "/" + strings.Join(parts, "/")

	routesMu.RLock()
	defer routesMu.RUnlock()

	if routes[fullPath] {
		return fullPath
	}
	for _, template := range routeTemplates {
		if matchesTemplate(template, parts) {
			return template
		}
	}
	return "unknown"
}

func matchesTemplate(template string, pathParts []string) bool {
	templateParts := strings.Split(strings.Trim(template, "/"), "/")
	if len(pathParts) != len(templateParts) {
		return false
	}
	for i := range pathParts {
		if templateParts[i] == ":id" {
			continue
		}
		if pathParts[i] != templateParts[i] {
			return false
		}
	}
	return true
}
