package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/num-err/smartscan/config"
)

// Registry-specific attribute keys. HTTP metrics use the semconv keys.
const (
	attrBusinessAction    = "smartscan.business.action"
	attrBusinessOutcome   = "smartscan.business.outcome"
	attrScanOutcome       = "smartscan.scan.outcome"
	attrExternalTarget    = "smartscan.external.target"
	attrExternalOperation = "smartscan.external.operation"
)

var (
	httpRequestsCounter   metric.Int64Counter
	httpRequestDuration   metric.Float64Histogram
	externalCallsCounter  metric.Int64Counter
	externalCallErrors    metric.Int64Counter
	externalCallDuration  metric.Float64Histogram
	businessEventsCounter metric.Int64Counter
	scanDecisionsCounter  metric.Int64Counter
	metricsHandler        http.Handler
	initialized           int32
	otelInitOnce          sync.Once
)

// Config holds the configuration for OpenTelemetry metrics
type Config struct {
	// ExporterType can be "prometheus", "otlp", or "none"
	ExporterType   string
	ServiceName    string
	ServiceVersion string

	// OTLP settings, only read when ExporterType is "otlp"
	OTLPEndpoint    string
	OTLPHeaders     map[string]string
	OTLPTLSInsecure bool

	// HistogramBuckets are the duration bucket boundaries in seconds
	HistogramBuckets []float64
}

// DefaultConfig returns a configuration read from the environment
func DefaultConfig(serviceName string) Config {
	return Config{
		ExporterType:     config.GetEnvOrDefault("OTEL_METRICS_EXPORTER", "prometheus"),
		ServiceName:      serviceName,
		ServiceVersion:   config.GetEnvOrDefault("SERVICE_VERSION", "dev"),
		OTLPEndpoint:     config.GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:      parseHeaders(config.GetEnvOrDefault("OTEL_EXPORTER_OTLP_HEADERS", "")),
		OTLPTLSInsecure:  config.GetEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		HistogramBuckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}
}

// Initialize sets up OpenTelemetry metrics. Only the first call does any work.
func Initialize(cfg Config) error {
	var initErr error
	otelInitOnce.Do(func() {
		initErr = initializeInternal(context.Background(), cfg)
		if initErr == nil {
			atomic.StoreInt32(&initialized, 1)
		}
	})
	return initErr
}

func initializeInternal(ctx context.Context, cfg Config) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var reader sdkmetric.Reader

	switch cfg.ExporterType {
	case "prometheus", "":
		reg := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exporter
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		slog.Info("Initialized OpenTelemetry metrics with Prometheus exporter", "service", cfg.ServiceName)

	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required when using OTLP exporter")
		}
		endpointURL, err := url.Parse(cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("invalid OTLP endpoint URL: %w", err)
		}
		if endpointURL.Scheme != "https" && !cfg.OTLPTLSInsecure {
			return fmt.Errorf("OTLP endpoint must use HTTPS (got: %s), set OTEL_EXPORTER_OTLP_INSECURE=true to allow plain HTTP", endpointURL.Scheme)
		}

		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpointURL.Host)}
		if cfg.OTLPTLSInsecure && endpointURL.Scheme == "http" {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(cfg.OTLPHeaders))
		}

		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
		metricsHandler = staticHandler(http.StatusOK, "# Metrics exported via OTLP\n")
		slog.Info("Initialized OpenTelemetry metrics with OTLP exporter",
			"service", cfg.ServiceName,
			"endpoint", cfg.OTLPEndpoint)

	case "none":
		reader = sdkmetric.NewManualReader()
		metricsHandler = staticHandler(http.StatusOK, "# Metrics disabled\n")
		slog.Info("OpenTelemetry metrics disabled", "service", cfg.ServiceName)

	default:
		return fmt.Errorf("unknown exporter type: %s (supported: prometheus, otlp, none)", cfg.ExporterType)
	}

	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}
	bucketView := func(name string) sdkmetric.View {
		return sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: buckets}},
		)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(bucketView("http_request_duration_seconds")),
		sdkmetric.WithView(bucketView("external_call_duration_seconds")),
	)
	otel.SetMeterProvider(meterProvider)
	meter := otel.Meter("smartscan")

	if httpRequestsCounter, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"), metric.WithUnit("1")); err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}
	if externalCallsCounter, err = meter.Int64Counter("external_calls_total",
		metric.WithDescription("Total number of external service calls"), metric.WithUnit("1")); err != nil {
		return fmt.Errorf("failed to create external_calls_total counter: %w", err)
	}
	if externalCallErrors, err = meter.Int64Counter("external_call_errors_total",
		metric.WithDescription("Total number of failed external service calls"), metric.WithUnit("1")); err != nil {
		return fmt.Errorf("failed to create external_call_errors_total counter: %w", err)
	}
	if externalCallDuration, err = meter.Float64Histogram("external_call_duration_seconds",
		metric.WithDescription("External service call duration in seconds"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("failed to create external_call_duration_seconds histogram: %w", err)
	}
	if businessEventsCounter, err = meter.Int64Counter("business_events_total",
		metric.WithDescription("Total number of business events"), metric.WithUnit("1")); err != nil {
		return fmt.Errorf("failed to create business_events_total counter: %w", err)
	}
	if scanDecisionsCounter, err = meter.Int64Counter("scan_decisions_total",
		metric.WithDescription("Gated reads by outcome"), metric.WithUnit("1")); err != nil {
		return fmt.Errorf("failed to create scan_decisions_total counter: %w", err)
	}

	// Go runtime metrics (goroutines, GC, memory)
	if err := runtime.Start(
		runtime.WithMinimumReadMemStatsInterval(10*time.Second),
		runtime.WithMeterProvider(meterProvider),
	); err != nil {
		slog.Warn("Failed to start runtime metrics", "error", err)
	}

	return nil
}

func staticHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func otelHandler() http.Handler {
	if atomic.LoadInt32(&initialized) == 0 || metricsHandler == nil {
		return staticHandler(http.StatusServiceUnavailable, "# Metrics not initialized\n")
	}
	return metricsHandler
}

func otelHTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&initialized) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)

		ctx := context.Background()
		httpRequestsCounter.Add(ctx, 1,
			metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCodeKey.Int(rw.statusCode),
			),
		)
		httpRequestDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(route),
			),
		)
	})
}

func otelRecordExternalCall(target, operation string, duration time.Duration, err error) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(attrExternalTarget, target),
		attribute.String(attrExternalOperation, operation),
	)
	externalCallsCounter.Add(ctx, 1, attrs)
	externalCallDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		externalCallErrors.Add(ctx, 1, attrs)
	}
}

func otelRecordBusinessEvent(action, outcome string) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}
	businessEventsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(attrBusinessAction, action),
			attribute.String(attrBusinessOutcome, outcome),
		),
	)
}

func otelRecordScanDecision(outcome string) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}
	scanDecisionsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(attrScanOutcome, outcome)))
}

// parseHeaders reads "key1=value1,key2=value2"
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}
	for _, pair := range strings.Split(headerStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
