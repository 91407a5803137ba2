package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/aqfield/aqfield/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "aqfield-api",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)

	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	err = provider.Shutdown(ctx)
	assert.NoError(t, err)
}

func TestResource(t *testing.T) {
	res, err := telemetry.Resource(context.Background(), telemetry.Config{
		ServiceName:    "aqfield-worker",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		InstanceID:     "worker-7",
	})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "aqfield-worker", attrs[string(semconv.ServiceNameKey)])
	assert.Equal(t, "1.2.3", attrs[string(semconv.ServiceVersionKey)])
	assert.Equal(t, telemetry.Namespace, attrs[string(semconv.ServiceNamespaceKey)])
	assert.Equal(t, "staging", attrs[string(semconv.DeploymentEnvironmentKey)])
	assert.Equal(t, "worker-7", attrs[string(semconv.ServiceInstanceIDKey)])

	res, err = telemetry.Resource(context.Background(), telemetry.Config{ServiceName: "aqfield-api"})
	require.NoError(t, err)
	for _, kv := range res.Attributes() {
		assert.NotEqual(t, semconv.ServiceInstanceIDKey, kv.Key)
	}
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	err := provider.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestTracer_ReturnsGlobalTracer(t *testing.T) {
	assert.NotNil(t, telemetry.Tracer("test-tracer"))
}

func TestMeter_ReturnsGlobalMeter(t *testing.T) {
	assert.NotNil(t, telemetry.Meter("test-meter"))
}

func TestEngineMetrics_RecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	metrics.RecordRun(context.Background(), telemetry.RunStats{
		City:        "cdmx",
		Pollutant:   "O3",
		Duration:    20 * time.Millisecond,
		Cells:       100,
		AbsentCells: 4,
		OutOfRange:  2,
	})
	metrics.RecordRun(context.Background(), telemetry.RunStats{
		City:      "cdmx",
		Pollutant: "O3",
		Err:       errors.New("boom"),
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	totals := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), totals["engine.run.total"])
	assert.Equal(t, int64(100), totals["engine.grid.cells"])
	assert.Equal(t, int64(4), totals["engine.grid.cells_absent"])
	assert.Equal(t, int64(2), totals["engine.conversion.out_of_range"])
}

func TestEngineMetrics_NilIsNoop(t *testing.T) {
	var metrics *telemetry.EngineMetrics
	assert.NotPanics(t, func() {
		metrics.RecordRun(context.Background(), telemetry.RunStats{})
	})
}
