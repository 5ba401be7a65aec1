package blueprints

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/swebench-blueprints/lib/dockerfile"
	"github.com/onkernel/swebench-blueprints/lib/imagespec"
	"github.com/onkernel/swebench-blueprints/lib/logger"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// OutcomeStatus is the result of processing one instance
type OutcomeStatus string

// Outcome statuses
const (
	OutcomeComposed  OutcomeStatus = "composed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// RunOptions controls a single batch run
type RunOptions struct {
	// ComposeOnly writes artifacts without contacting the API
	ComposeOnly bool
}

// Outcome is the result for one instance
type Outcome struct {
	InstanceID  string        `json:"instance_id"`
	Status      OutcomeStatus `json:"status"`
	BlueprintID string        `json:"blueprint_id,omitempty"`
	BuildStatus string        `json:"build_status,omitempty"`
	Polls       int           `json:"polls,omitempty"`
	DurationMS  int64         `json:"duration_ms"`
	BuildMS     int64         `json:"build_ms,omitempty"` // submission until the wait ended
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// Summary aggregates the outcomes of a run, in input order
type Summary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Total       int       `json:"total"`
	Composed    int       `json:"composed"`
	Succeeded   int       `json:"succeeded"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Cancelled   int       `json:"cancelled"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Err joins the errors of all failed instances, or returns nil
func (s *Summary) Err() error {
	failed := lo.Filter(s.Outcomes, func(o Outcome, _ int) bool {
		return o.Status == OutcomeFailed && o.Err != nil
	})
	return errors.Join(lo.Map(failed, func(o Outcome, _ int) error {
		return fmt.Errorf("%s: %w", o.InstanceID, o.Err)
	})...)
}

func newSummary(runID string, started time.Time, outcomes []Outcome) *Summary {
	count := func(status OutcomeStatus) int {
		return lo.CountBy(outcomes, func(o Outcome) bool { return o.Status == status })
	}
	return &Summary{
		RunID:       runID,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Total:       len(outcomes),
		Composed:    count(OutcomeComposed),
		Succeeded:   count(OutcomeSucceeded),
		Skipped:     count(OutcomeSkipped),
		Failed:      count(OutcomeFailed),
		Cancelled:   count(OutcomeCancelled),
		Outcomes:    outcomes,
	}
}

// Run processes specs with at most MaxConcurrentBuilds in flight.
//
// Failures of a single instance are recorded in its outcome and do not stop
// the batch unless FailFast is set. Artifact write errors and listing errors
// stop the batch. The summary is written to the output directory and
// returned even when the batch stops early.
func (m *manager) Run(ctx context.Context, specs []imagespec.ImageSpec, opts RunOptions) (*Summary, error) {
	runID := cuid2.Generate()
	started := time.Now()
	log := m.logger.With("run_id", runID)
	log.Info("starting blueprint run", "instances", len(specs), "compose_only", opts.ComposeOnly,
		"concurrency", m.config.MaxConcurrentBuilds, "skip_existing", m.config.SkipExisting)

	var existing map[string]runloop.Blueprint
	if m.config.SkipExisting && !opts.ComposeOnly {
		var err error
		existing, err = m.ExistingBlueprints(ctx)
		if err != nil {
			return nil, err
		}
	}

	outcomes := make([]Outcome, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.MaxConcurrentBuilds)

	for i, spec := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{InstanceID: spec.InstanceID, Status: OutcomeCancelled, Err: err, Error: err.Error()}
				return nil
			}

			ictx := logger.AddToContext(gctx, log.With("instance_id", spec.InstanceID))
			o, err := m.process(ictx, spec, existing, opts)
			outcomes[i] = o
			if m.metrics != nil {
				m.metrics.RecordOutcome(ctx, o)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", spec.InstanceID, err)
			}
			if m.config.FailFast && o.Status == OutcomeFailed {
				return fmt.Errorf("%s: %w", spec.InstanceID, o.Err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	summary := newSummary(runID, started, outcomes)
	if err := writeSummary(m.config.OutputDir, summary); err != nil {
		runErr = errors.Join(runErr, err)
	}

	log.Info("blueprint run finished",
		"total", summary.Total,
		"composed", summary.Composed,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"duration", summary.CompletedAt.Sub(started))

	return summary, runErr
}

// process handles one instance. The returned error is reserved for failures
// that must stop the batch (artifact I/O); everything else is reported in
// the outcome.
func (m *manager) process(ctx context.Context, spec imagespec.ImageSpec, existing map[string]runloop.Blueprint, opts RunOptions) (Outcome, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	ctx, span := m.tracer.Start(ctx, "blueprints.process",
		trace.WithAttributes(attribute.String("instance_id", spec.InstanceID)))
	defer span.End()

	o := Outcome{InstanceID: spec.InstanceID}
	finish := func(status OutcomeStatus, err error) Outcome {
		o.Status = status
		o.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			o.Err = err
			o.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(status))
		}
		return o
	}

	req, err := m.Compose(ctx, spec)
	if err != nil {
		var mfe *dockerfile.MalformedFragmentError
		var mme *dockerfile.MissingMountError
		if errors.As(err, &mfe) || errors.As(err, &mme) {
			log.Error("compose failed", "error", err)
			return finish(OutcomeFailed, err), nil
		}
		return finish(OutcomeFailed, err), err
	}

	if opts.ComposeOnly {
		log.Info("blueprint composed")
		return finish(OutcomeComposed, nil), nil
	}

	if bp, ok := existing[spec.InstanceID]; ok {
		log.Info("blueprint already exists", "id", bp.ID, "status", bp.Status)
		o.BlueprintID = bp.ID
		o.BuildStatus = bp.Status
		return finish(OutcomeSkipped, nil), nil
	}

	h, err := m.Submit(ctx, *req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("blueprint submission cancelled")
			return finish(OutcomeCancelled, err), nil
		}
		log.Error("blueprint submission failed", "error", err)
		return finish(OutcomeFailed, err), nil
	}
	o.BlueprintID = h.ID
	o.BuildStatus = h.Status
	span.SetAttributes(attribute.String("blueprint_id", h.ID))

	h, err = m.AwaitCompletion(ctx, h)
	if h != nil {
		o.BuildStatus = h.Status
		o.Polls = h.Polls
		o.BuildMS = time.Since(h.SubmittedAt).Milliseconds()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("blueprint wait cancelled", "id", o.BlueprintID)
			return finish(OutcomeCancelled, err), nil
		}
		log.Error("blueprint build failed", "id", o.BlueprintID, "error", err)
		return finish(OutcomeFailed, err), nil
	}

	log.Info("blueprint complete", "id", o.BlueprintID, "polls", o.Polls, "duration", time.Since(start))
	return finish(OutcomeSucceeded, nil), nil
}
