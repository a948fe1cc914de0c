// Package observability assembles logging, tracing, and metrics.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	"github.com/stratobill/stratobill/internal/config"
	"github.com/stratobill/stratobill/internal/observability/logger"
	"github.com/stratobill/stratobill/internal/observability/metrics"
	"github.com/stratobill/stratobill/internal/observability/tracing"
)

func newTracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.TracingEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.ServiceVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.TracingEndpoint,
		ExporterProtocol: cfg.TracingProtocol,
		SamplingRatio:    cfg.TracingSamplingPct,
	}
}

func newMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}

func newMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func newPipelineMetrics(cfg metrics.Config) *metrics.PipelineMetrics {
	return metrics.PipelineWithConfig(cfg)
}

var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(
		newTracingConfig,
		tracing.NewProvider,
		newMetricsConfig,
		newMeterProvider,
		metrics.NewHTTPMetrics,
		newPipelineMetrics,
	),
)
