// Package telemetry wires OpenTelemetry metrics to a Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type Config struct {
	ServiceName string
	Enabled     bool
}

// Provider owns the meter provider and the registry behind /metrics.
type Provider struct {
	meterProvider metric.MeterProvider
	handler       http.Handler
	shutdown      func(context.Context) error
}

// Init builds the metrics pipeline and installs it as the global meter
// provider. When disabled the provider is a no-op and Handler returns 404.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			meterProvider: noop.NewMeterProvider(),
			handler:       http.NotFoundHandler(),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &Provider{
		meterProvider: mp,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown:      mp.Shutdown,
	}, nil
}

// Meter returns a named meter from the provider.
func (p *Provider) Meter(name string) metric.Meter {
	return p.meterProvider.Meter(name)
}

func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Handler serves the Prometheus exposition format.
func (p *Provider) Handler() http.Handler { return p.handler }

func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }

// Middleware records request duration, sizes and active requests per route.
func Middleware(operation string, mp metric.MeterProvider) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(operation, otelhttp.WithMeterProvider(mp))
}
