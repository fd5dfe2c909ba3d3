// Package metrics records synthesis measurements with OpenTelemetry and
// exposes them in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/gemini-tts-server/internal/core"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Instrument names.
const (
	MeterName           = "github.com/book-expert/gemini-tts-server"
	OutcomesCounter     = "tts.synthesis.outcomes"
	DurationHistogram   = "tts.synthesis.duration_ms"
	AttemptsCounter     = "tts.provider.attempts"
	ChunksCounter       = "tts.chunks"
	ActiveTasksGauge    = "tts.tasks.active"
	AttributeStatus     = "status"
	AttributeResult     = "result"
	millisecondsPerUnit = float64(time.Millisecond)
)

var _ core.Observer = (*Metrics)(nil)

// Metrics implements core.Observer on top of an OpenTelemetry meter.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
	handler  http.Handler

	outcomes metric.Int64Counter
	duration metric.Float64Histogram
	attempts metric.Int64Counter
	chunks   metric.Int64Counter
}

// New creates metrics exported through a dedicated Prometheus registry.
func New(serviceName string) (*Metrics, error) {
	registry := promclient.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}

	metrics, err := NewWithReader(serviceName, exporter)
	if err != nil {
		return nil, err
	}

	metrics.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return metrics, nil
}

// NewWithReader creates metrics collected by reader. Handler returns a 404
// handler for metrics built this way.
func NewWithReader(serviceName string, reader sdkmetric.Reader) (*Metrics, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(MeterName)

	metrics := &Metrics{
		provider: provider,
		meter:    meter,
		handler:  http.NotFoundHandler(),
	}

	initErr := metrics.initInstruments()
	if initErr != nil {
		return nil, initErr
	}

	return metrics, nil
}

func (m *Metrics) initInstruments() error {
	var errs []error

	outcomes, err := m.meter.Int64Counter(OutcomesCounter,
		metric.WithDescription("Completed synthesis requests by outcome"))
	errs = append(errs, err)

	duration, err := m.meter.Float64Histogram(DurationHistogram,
		metric.WithDescription("Wall time of synthesis requests"), metric.WithUnit("ms"))
	errs = append(errs, err)

	attempts, err := m.meter.Int64Counter(AttemptsCounter,
		metric.WithDescription("Gemini API calls by result"))
	errs = append(errs, err)

	chunks, err := m.meter.Int64Counter(ChunksCounter,
		metric.WithDescription("Text chunks synthesized"))
	errs = append(errs, err)

	joined := errors.Join(errs...)
	if joined != nil {
		return fmt.Errorf("failed to create instruments: %w", joined)
	}

	m.outcomes = outcomes
	m.duration = duration
	m.attempts = attempts
	m.chunks = chunks

	return nil
}

// ObserveActiveTasks registers a gauge reporting count() at collection time.
func (m *Metrics) ObserveActiveTasks(count func() int) error {
	gauge, err := m.meter.Int64ObservableGauge(ActiveTasksGauge,
		metric.WithDescription("Synthesis tasks currently registered"))
	if err != nil {
		return fmt.Errorf("failed to create %s gauge: %w", ActiveTasksGauge, err)
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(count()))

		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("failed to register %s callback: %w", ActiveTasksGauge, err)
	}

	return nil
}

// ProviderAttempt counts one Gemini call.
func (m *Metrics) ProviderAttempt(ctx context.Context, result string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeResult, result)))
}

// ChunkSynthesized counts one completed chunk.
func (m *Metrics) ChunkSynthesized(ctx context.Context) {
	m.chunks.Add(ctx, 1)
}

// SynthesisFinished records the outcome and duration of one request.
func (m *Metrics) SynthesisFinished(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttributeStatus, status))

	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/millisecondsPerUnit, attrs)
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	err := m.provider.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}

	return nil
}
