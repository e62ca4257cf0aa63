package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "archive-crawler/crawl"

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	crawlTracer trace.Tracer

	fetchAttemptDuration metric.Float64Histogram
	fetchAttemptTotal    metric.Int64Counter
	crawlItemDuration    metric.Float64Histogram
	crawlItemTotal       metric.Int64Counter
	crawlRunTotal        metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "archive-crawler"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Tracing is optional; the crawler runs without it
			log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("Failed to create OTLP trace exporter, traces disabled")
		} else {
			spanExporter = exp
			log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter initialised")
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		crawlTracer = tracerProvider.Tracer(instrumentationName)
		if err := initCrawlInstruments(meterProvider); err != nil {
			log.Warn().Err(err).Msg("Failed to create crawl metric instruments")
		}
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// ParseOTLPHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format: comma separated key=value pairs.
func ParseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		// Health checks are polled constantly
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initCrawlInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	fetchAttemptDuration, err = meter.Float64Histogram(
		"crawler.fetch.attempt.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken by a single HTTP fetch attempt"),
	)
	if err != nil {
		return err
	}

	fetchAttemptTotal, err = meter.Int64Counter(
		"crawler.fetch.attempts",
		metric.WithDescription("Counts HTTP fetch attempts by outcome"),
	)
	if err != nil {
		return err
	}

	crawlItemDuration, err = meter.Float64Histogram(
		"crawler.item.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to process one claimed queue item"),
	)
	if err != nil {
		return err
	}

	crawlItemTotal, err = meter.Int64Counter(
		"crawler.item.total",
		metric.WithDescription("Counts queue items processed by outcome"),
	)
	if err != nil {
		return err
	}

	crawlRunTotal, err = meter.Int64Counter(
		"crawler.run.total",
		metric.WithDescription("Counts completed crawl runs"),
	)
	return err
}

// FetchAttemptMetrics describes one HTTP attempt made by the fetcher.
type FetchAttemptMetrics struct {
	Outcome    string
	StatusCode int
	Duration   time.Duration
}

// RecordFetchAttempt emits fetch metrics when instrumentation is initialised.
func RecordFetchAttempt(ctx context.Context, m FetchAttemptMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("fetch.outcome", m.Outcome),
		attribute.String("http.status_class", statusClass(m.StatusCode)),
	)

	if fetchAttemptDuration != nil {
		fetchAttemptDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if fetchAttemptTotal != nil {
		fetchAttemptTotal.Add(ctx, 1, attrs)
	}
}

func statusClass(code int) string {
	if code <= 0 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}

// CrawlItemSpanInfo describes the attributes used when starting a crawl item span.
type CrawlItemSpanInfo struct {
	RunID    string
	ItemID   int64
	URL      string
	Depth    int
	Attempts int
}

// CrawlItemMetrics describes a processed queue item for metric recording.
type CrawlItemMetrics struct {
	RootHost string
	Outcome  string
	Duration time.Duration
}

// StartCrawlItemSpan starts a span for an individual queue item.
func StartCrawlItemSpan(ctx context.Context, info CrawlItemSpanInfo) (context.Context, trace.Span) {
	t := crawlTracer
	if t == nil {
		t = otel.Tracer(instrumentationName)
	}

	attrs := []attribute.KeyValue{
		attribute.String("run.id", info.RunID),
		attribute.Int64("item.id", info.ItemID),
		attribute.String("item.url", info.URL),
		attribute.Int("item.depth", info.Depth),
		attribute.Int("item.attempts", info.Attempts),
	}

	return t.Start(ctx, "crawler.process_item", trace.WithAttributes(attrs...))
}

// RecordCrawlItem emits queue item metrics when instrumentation is initialised.
func RecordCrawlItem(ctx context.Context, m CrawlItemMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("run.root_host", m.RootHost),
		attribute.String("item.outcome", m.Outcome),
	)

	if crawlItemDuration != nil {
		crawlItemDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if crawlItemTotal != nil {
		crawlItemTotal.Add(ctx, 1, attrs)
	}
}

// RecordCrawlRun counts a finished crawl run.
func RecordCrawlRun(ctx context.Context, rootHost string, failed bool) {
	if crawlRunTotal == nil {
		return
	}
	crawlRunTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run.root_host", rootHost),
		attribute.Bool("run.failed", failed),
	))
}
