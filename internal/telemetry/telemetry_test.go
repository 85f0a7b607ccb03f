package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/config"
)

func TestSetupWithNoExportersConfiguredStillBuildsATracer(t *testing.T) {
	registry := prometheus.NewRegistry()
	p, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "nexus-test"}, registry)
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupWithStdoutTracesEnabled(t *testing.T) {
	registry := prometheus.NewRegistry()
	p, err := Setup(context.Background(), config.TelemetryConfig{StdoutTraces: true}, registry)
	require.NoError(t, err)

	ctx, span := StartDispatchSpan(context.Background(), p.Tracer(), "billing", "Ping", false)
	span.End()
	assert.NotNil(t, ctx)

	require.NoError(t, p.Shutdown(context.Background()))
}
