package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the payment engine's instruments.
type Metrics struct {
	webhookEvents    metric.Int64Counter
	checkoutSessions metric.Int64Counter
	transitions      metric.Int64Counter
	refunds          metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bookline"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("bookline_webhook_events_total")
	if err != nil {
		return nil, err
	}
	checkoutSessions, err := meter.Int64Counter("bookline_checkout_sessions_total")
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("bookline_payment_transitions_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("bookline_refunds_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:    webhookEvents,
		checkoutSessions: checkoutSessions,
		transitions:      transitions,
		refunds:          refunds,
	}, nil
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordCheckoutSession(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkoutSessions.Add(ctx, 1)
}

func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *Metrics) RecordRefund(ctx context.Context, full bool) {
	if m == nil {
		return
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(attribute.Bool("full", full)))
}

func newExporter(protocol string, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
