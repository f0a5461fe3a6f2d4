package obs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabledExporters(t *testing.T) {
	for _, exporter := range []string{"", "none", " OFF "} {
		shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: exporter, Logger: zerolog.Nop()})
		require.NoError(t, err, exporter)
		require.NoError(t, shutdown(context.Background()))
	}
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), TracingConfig{Exporter: "jaeger"})
	require.ErrorContains(t, err, `"jaeger"`)
}

func TestClampRatio(t *testing.T) {
	require.Equal(t, 1.0, clampRatio(0))
	require.Equal(t, 1.0, clampRatio(3))
	require.Equal(t, 0.25, clampRatio(0.25))
}
