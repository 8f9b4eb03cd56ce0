// Package metrics records mail delivery outcomes with OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/shineum/smtp-mail-lite"

// Send results.
const (
	ResultSuccess    = "success"
	ResultValidation = "validation"
	ResultCustom     = "custom"
	ResultUnknown    = "unknown"
)

// Config configures the meter provider.
type Config struct {
	Enabled bool
	// Endpoint is the OTLP/HTTP collector host:port. The exporter's
	// environment defaults apply when empty.
	Endpoint string
	Interval time.Duration
}

// NewProvider returns a meter provider and its shutdown function. A disabled
// config yields a noop provider.
func NewProvider(ctx context.Context, cfg Config) (metric.MeterProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	var opts []otlpmetrichttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider, provider.Shutdown, nil
}

// Metrics holds the send instruments. A nil *Metrics records nothing.
type Metrics struct {
	sends    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates the instruments on provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	sends, err := meter.Int64Counter("mail_send_total",
		metric.WithDescription("Mail send attempts by transport and result."),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("mail_send_duration_seconds",
		metric.WithDescription("Duration of mail send calls."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{sends: sends, duration: duration}, nil
}

// RecordSend records one send call.
func (m *Metrics) RecordSend(ctx context.Context, transport, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("transport", strings.TrimSpace(transport)),
		attribute.String("result", result),
	)
	m.sends.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
