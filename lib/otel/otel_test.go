package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	tel, err := Init(context.Background(), Config{ServiceName: "swebench-blueprints"})
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.NotNil(t, tel.Meter)
	assert.NotNil(t, tel.Tracer)

	counter, err := tel.Meter.Int64Counter("test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()

	assert.NoError(t, tel.Shutdown(context.Background()))
}
