package blueprints

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordOutcome_BuildDurationFromSubmission(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("blueprints-test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOutcome(ctx, Outcome{InstanceID: "a", Status: OutcomeSucceeded, BlueprintID: "bpt_1", DurationMS: 9000, BuildMS: 2500})
	m.RecordOutcome(ctx, Outcome{InstanceID: "b", Status: OutcomeSkipped, BlueprintID: "bpt_2", DurationMS: 50})
	m.RecordOutcome(ctx, Outcome{InstanceID: "c", Status: OutcomeFailed, DurationMS: 10})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var (
		count     uint64
		sum       float64
		processed int64
	)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "blueprints_build_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
			case "blueprints_processed_total":
				total, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range total.DataPoints {
					processed += dp.Value
				}
			}
		}
	}

	assert.Equal(t, uint64(1), count)
	assert.InDelta(t, 2.5, sum, 1e-9)
	assert.Equal(t, int64(3), processed)
}
