package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	reader, mp := setupTestMeter()
	m := NewWithMeter(mp.Meter("test"))
	ctx := context.Background()

	m.MissionCreated(ctx)
	m.TaskAssigned(ctx, "load_balance")
	m.TaskAssigned(ctx, "auction")
	m.DecisionMade(ctx, true)
	m.FailureHandled(ctx, "retry")
	m.KnowledgeShared(ctx)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, rm, "swarmkit.missions"))
	assert.Equal(t, int64(2), sumOf(t, rm, "swarmkit.tasks.assigned"))
	assert.Equal(t, int64(1), sumOf(t, rm, "swarmkit.decisions"))
	assert.Equal(t, int64(1), sumOf(t, rm, "swarmkit.failures"))
	assert.Equal(t, int64(1), sumOf(t, rm, "swarmkit.knowledge.shared"))

	sum := findMetric(rm, "swarmkit.tasks.assigned").Data.(metricdata.Sum[int64])
	methods := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("method"))
		methods[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"load_balance": 1, "auction": 1}, methods)
}

func TestMetrics_Optimized(t *testing.T) {
	reader, mp := setupTestMeter()
	m := NewWithMeter(mp.Meter("test"))

	m.Optimized(context.Background(), 5*time.Millisecond, 3, 2)

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, rm, "swarmkit.markers.decayed"))
	assert.Equal(t, int64(2), sumOf(t, rm, "swarmkit.heals"))

	hist, ok := findMetric(rm, "swarmkit.optimize.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestMetrics_GlobalProviderIsNoop(t *testing.T) {
	m := New()
	assert.NotPanics(t, func() {
		m.MissionCreated(context.Background())
		m.Optimized(context.Background(), time.Millisecond, 0, 0)
	})
}
