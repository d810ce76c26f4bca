package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// Fetch client
	fetchRequestsTotal metric.Int64Counter
	fetchDuration      metric.Float64Histogram

	// Pages
	pagesTotal        metric.Int64Counter
	pagesActive       metric.Int64UpDownCounter
	pageDuration      metric.Float64Histogram
	pageAttempts      metric.Int64Histogram
	pageBytesReceived metric.Int64Counter

	// Chapters and packaging
	chaptersTotal       metric.Int64Counter
	chapterDuration     metric.Float64Histogram
	packagingTotal      metric.Int64Counter
	historyOpsTotal     metric.Int64Counter
	historyOpDuration   metric.Float64Histogram
	notificationsFailed metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, pushes metrics to an OTLP/gRPC collector in
	// addition to the Prometheus reader.
	OTLPEndpoint string
	OTLPInterval time.Duration
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		interval := cfg.OTLPInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}

		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(interval)),
		))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// RecordFetch records one fetch client request. statusClass is "2xx".."5xx" or "transport".
func (t *Telemetry) RecordFetch(statusClass string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", statusClass))

	if t.fetchRequestsTotal != nil {
		t.fetchRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.fetchDuration != nil {
		t.fetchDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordPage records the outcome of one page download.
func (t *Telemetry) RecordPage(status string, attempts int, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.pagesTotal != nil {
		t.pagesTotal.Add(context.Background(), 1, attrs)
	}

	if t.pageDuration != nil {
		t.pageDuration.Record(context.Background(), duration.Seconds(), attrs)
	}

	if t.pageAttempts != nil && attempts > 0 {
		t.pageAttempts.Record(context.Background(), int64(attempts), attrs)
	}
}

// AddPageBytes adds received page bytes.
func (t *Telemetry) AddPageBytes(n int64) {
	if t == nil || t.pageBytesReceived == nil || n <= 0 {
		return
	}
	t.pageBytesReceived.Add(context.Background(), n)
}

// IncrementActivePages increments the in-flight page counter.
func (t *Telemetry) IncrementActivePages() {
	if t != nil && t.pagesActive != nil {
		t.pagesActive.Add(context.Background(), 1)
	}
}

// DecrementActivePages decrements the in-flight page counter.
func (t *Telemetry) DecrementActivePages() {
	if t != nil && t.pagesActive != nil {
		t.pagesActive.Add(context.Background(), -1)
	}
}

// RecordChapter records a finished chapter.
func (t *Telemetry) RecordChapter(status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.chaptersTotal != nil {
		t.chaptersTotal.Add(context.Background(), 1, attrs)
	}

	if t.chapterDuration != nil {
		t.chapterDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordPackaging records a packaging run.
func (t *Telemetry) RecordPackaging(format, status string) {
	if t == nil || t.packagingTotal == nil {
		return
	}

	t.packagingTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("format", format),
			attribute.String("status", status),
		),
	)
}

// RecordHistoryOperation records a history database operation.
func (t *Telemetry) RecordHistoryOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.historyOpsTotal != nil {
		t.historyOpsTotal.Add(context.Background(), 1, attrs)
	}

	if t.historyOpDuration != nil {
		t.historyOpDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordNotificationFailure counts a notification that could not be delivered.
func (t *Telemetry) RecordNotificationFailure() {
	if t != nil && t.notificationsFailed != nil {
		t.notificationsFailed.Add(context.Background(), 1)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeFetchMetrics(); err != nil {
		return err
	}

	if err := t.initializePageMetrics(); err != nil {
		return err
	}

	return t.initializeChapterMetrics()
}

func (t *Telemetry) initializeFetchMetrics() error {
	var err error

	t.fetchRequestsTotal, err = t.meter.Int64Counter(
		"fetch_requests_total",
		metric.WithDescription("Total number of outgoing fetch requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_requests_total counter: %w", err)
	}

	t.fetchDuration, err = t.meter.Float64Histogram(
		"fetch_duration_seconds",
		metric.WithDescription("Fetch request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializePageMetrics() error {
	var err error

	t.pagesTotal, err = t.meter.Int64Counter(
		"pages_total",
		metric.WithDescription("Total number of page downloads by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pages_total counter: %w", err)
	}

	t.pagesActive, err = t.meter.Int64UpDownCounter(
		"pages_active",
		metric.WithDescription("Number of pages currently downloading"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pages_active counter: %w", err)
	}

	t.pageDuration, err = t.meter.Float64Histogram(
		"page_duration_seconds",
		metric.WithDescription("Page download duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create page_duration histogram: %w", err)
	}

	t.pageAttempts, err = t.meter.Int64Histogram(
		"page_attempts",
		metric.WithDescription("Attempts needed per page download"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create page_attempts histogram: %w", err)
	}

	t.pageBytesReceived, err = t.meter.Int64Counter(
		"page_bytes_received_total",
		metric.WithDescription("Bytes received for page images"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create page_bytes_received counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeChapterMetrics() error {
	var err error

	t.chaptersTotal, err = t.meter.Int64Counter(
		"chapters_total",
		metric.WithDescription("Total number of processed chapters by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chapters_total counter: %w", err)
	}

	t.chapterDuration, err = t.meter.Float64Histogram(
		"chapter_duration_seconds",
		metric.WithDescription("Chapter download and packaging duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chapter_duration histogram: %w", err)
	}

	t.packagingTotal, err = t.meter.Int64Counter(
		"packaging_total",
		metric.WithDescription("Total number of packaging runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create packaging_total counter: %w", err)
	}

	t.historyOpsTotal, err = t.meter.Int64Counter(
		"history_operations_total",
		metric.WithDescription("Total number of history database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create history_operations_total counter: %w", err)
	}

	t.historyOpDuration, err = t.meter.Float64Histogram(
		"history_operation_duration_seconds",
		metric.WithDescription("History database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create history_operation_duration histogram: %w", err)
	}

	t.notificationsFailed, err = t.meter.Int64Counter(
		"notifications_failed_total",
		metric.WithDescription("Notifications that could not be delivered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create notifications_failed counter: %w", err)
	}

	return nil
}
