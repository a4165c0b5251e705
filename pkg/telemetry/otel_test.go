package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_InstallsGlobalProviders(t *testing.T) {
	tel, err := Setup("margin-sim-test")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("margin-sim-test"))
	assert.NotNil(t, GetMeter("margin-sim-test"))

	// The shared instruments are usable once Setup has run.
	assert.NotNil(t, GetGlobalMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}
