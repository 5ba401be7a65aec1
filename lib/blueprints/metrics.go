package blueprints

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics provides OTel metrics for blueprint builds
type Metrics struct {
	buildDuration metric.Float64Histogram
	buildTotal    metric.Int64Counter
	pollTotal     metric.Int64Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	buildDuration, err := meter.Float64Histogram(
		"blueprints_build_duration_seconds",
		metric.WithDescription("Time from blueprint submission to a terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildTotal, err := meter.Int64Counter(
		"blueprints_processed_total",
		metric.WithDescription("Total number of processed instances by outcome"),
	)
	if err != nil {
		return nil, err
	}

	pollTotal, err := meter.Int64Counter(
		"blueprints_polls_total",
		metric.WithDescription("Total number of blueprint status polls"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		buildDuration: buildDuration,
		buildTotal:    buildTotal,
		pollTotal:     pollTotal,
	}, nil
}

// RecordOutcome records a processed instance. Duration is only recorded for
// instances that were submitted and awaited in this run.
func (m *Metrics) RecordOutcome(ctx context.Context, o Outcome) {
	attrs := metric.WithAttributes(attribute.String("status", string(o.Status)))

	m.buildTotal.Add(ctx, 1, attrs)
	if o.BlueprintID != "" && o.Status != OutcomeSkipped && o.BuildMS > 0 {
		m.buildDuration.Record(ctx, (time.Duration(o.BuildMS) * time.Millisecond).Seconds(), attrs)
	}
}

// RecordPoll records one status poll
func (m *Metrics) RecordPoll(ctx context.Context, status string) {
	m.pollTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
