// Package telemetry wires OpenTelemetry tracing and the Prometheus
// /metrics endpoint, per SPEC_FULL.md's ambient stack expansion of the
// teacher's transitive otel/prometheus dependencies into direct use.
// StartDispatchSpan has no caller outside this package's tests; neither
// dispatcher starts spans through it.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/config"
	"nexus/pkg/logging"
)

const subsystem = "Telemetry"

// Provider owns the process-wide tracer provider and metrics server, and
// the tracer dispatch spans are started from.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	metricsServer  *http.Server
}

// Setup builds a Provider from cfg: a stdout span exporter when
// StdoutTraces is set (useful for local development and tests), an OTLP/
// HTTP exporter when OTLPEndpoint is set, or a no-exporter (sampled but
// discarded) provider when neither is configured. When MetricsAddr is
// set, it also starts a `/metrics` HTTP server serving registerer.
func Setup(ctx context.Context, cfg config.TelemetryConfig, registerer *prometheus.Registry) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName(cfg)),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else if cfg.StdoutTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	p := &Provider{
		tracerProvider: tp,
		tracer:         tp.Tracer("nexus"),
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		p.metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := p.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error(subsystem, err, "metrics server exited")
			}
		}()
		logging.Info(subsystem, "metrics listening on %s", cfg.MetricsAddr)
	}

	return p, nil
}

func serviceName(cfg config.TelemetryConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "nexus"
}

// Tracer returns the provider's dispatch-span tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartDispatchSpan starts a span covering one dispatch call, named after
// the resolved end-point, tagged with the message type and whether the
// call is a publish or a targeted send.
func StartDispatchSpan(ctx context.Context, tracer trace.Tracer, endPoint, messageType string, publish bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dispatch."+endPoint, trace.WithAttributes(
		attribute.String("nexus.message_type", messageType),
		attribute.Bool("nexus.publish", publish),
	))
}

// Shutdown flushes pending spans and stops the metrics server, bounded by
// a 5 second timeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error
	if p.metricsServer != nil {
		if err := p.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
