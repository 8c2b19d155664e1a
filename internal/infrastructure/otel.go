package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ServiceName = "signcast-licensed"
	MeterName   = "signcast"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up the meter provider with a Prometheus exporter.
// The returned PrometheusHTTP handler is mounted at /metrics.
func InitializeOTel(serviceVersion string, logger *slog.Logger) (*OTelProviders, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service", ServiceName),
		slog.String("exporter", "prometheus"))

	return &OTelProviders{
		MeterProvider:  provider,
		Meter:          provider.Meter(MeterName),
		PrometheusHTTP: promhttp.Handler(),
		Logger:         logger,
	}, nil
}

// Shutdown flushes and stops the meter provider
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p.MeterProvider != nil {
		return p.MeterProvider.Shutdown(ctx)
	}
	return nil
}

// EntitlementMetrics holds the counters and histograms recorded by the
// activation protocol.
type EntitlementMetrics struct {
	ActivationAttempts  metric.Int64Counter
	ActivationSuccess   metric.Int64Counter
	ActivationFailures  metric.Int64Counter
	SeatLimitRejections metric.Int64Counter
	TokenVerifications  metric.Int64Counter
	RefreshTotal        metric.Int64Counter
	ActivationDuration  metric.Float64Histogram
}

// NewEntitlementMetrics registers the entitlement instruments on a meter
func NewEntitlementMetrics(meter metric.Meter) (*EntitlementMetrics, error) {
	m := &EntitlementMetrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter("entitlement_activation_attempts_total",
		metric.WithDescription("Device activation attempts")); err != nil {
		return nil, err
	}
	if m.ActivationSuccess, err = meter.Int64Counter("entitlement_activation_success_total",
		metric.WithDescription("Successful device activations")); err != nil {
		return nil, err
	}
	if m.ActivationFailures, err = meter.Int64Counter("entitlement_activation_failures_total",
		metric.WithDescription("Rejected device activations")); err != nil {
		return nil, err
	}
	if m.SeatLimitRejections, err = meter.Int64Counter("entitlement_seat_limit_rejections_total",
		metric.WithDescription("Activations rejected because the seat pool was full")); err != nil {
		return nil, err
	}
	if m.TokenVerifications, err = meter.Int64Counter("entitlement_token_verifications_total",
		metric.WithDescription("Capability token signature verifications")); err != nil {
		return nil, err
	}
	if m.RefreshTotal, err = meter.Int64Counter("entitlement_refresh_total",
		metric.WithDescription("Token refresh operations")); err != nil {
		return nil, err
	}
	if m.ActivationDuration, err = meter.Float64Histogram("entitlement_activation_duration_seconds",
		metric.WithDescription("Activation latency in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}
