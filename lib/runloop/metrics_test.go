package runloop_test

import (
	"context"
	"testing"

	"github.com/onkernel/swebench-blueprints/lib/runloop"
	"github.com/onkernel/swebench-blueprints/lib/runloop/runlooptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	srv := runlooptest.NewServer(t)
	bp := srv.Seed("astropy__astropy-12907", runloop.StatusBuildComplete)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := runloop.NewHTTPMetrics(provider.Meter("runloop-test"))
	require.NoError(t, err)

	client, err := runloop.NewClient(srv.URL, runlooptest.APIKey, runloop.WithMetrics(m))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.GetBlueprint(ctx, bp.ID)
	require.NoError(t, err)
	_, err = client.GetBlueprint(ctx, "bpt_missing")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	paths := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "runloop_http_requests_total" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
				path, _ := dp.Attributes.Value("path")
				paths[path.AsString()] = true
			}
		}
	}
	assert.Equal(t, int64(2), total)
	assert.Equal(t, map[string]bool{"/v1/blueprints/{id}": true}, paths)
}
