package exporter

import (
	"context"
	"fmt"

	"github.com/run-bigpig/testtrace/pkg/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewCollectorExporter creates an exporter pushing spans to the configured collector.
// Failed pushes are not retried here; the exporter library's own behavior applies.
func NewCollectorExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol() {
	case config.ProtocolZipkin:
		exp, err := zipkin.New(cfg.CollectorURL())
		if err != nil {
			return nil, fmt.Errorf("failed to create Zipkin exporter: %w", err)
		}
		return exp, nil

	case config.ProtocolOTLP:
		exp, err := otlptrace.New(
			ctx,
			otlptracegrpc.NewClient(
				otlptracegrpc.WithEndpoint(cfg.CollectorAddress()),
				otlptracegrpc.WithInsecure(),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProtocol, cfg.CollectorProtocol)
	}
}
