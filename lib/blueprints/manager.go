// Package blueprints composes image specs into blueprints, submits them to
// the remote build API and waits for the builds to finish.
package blueprints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v5"
	"github.com/onkernel/swebench-blueprints/lib/dockerfile"
	"github.com/onkernel/swebench-blueprints/lib/imagespec"
	"github.com/onkernel/swebench-blueprints/lib/logger"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// API is the subset of the Runloop client used by the manager
type API interface {
	CreateBlueprint(ctx context.Context, req runloop.CreateBlueprintRequest) (*runloop.Blueprint, error)
	GetBlueprint(ctx context.Context, id string) (*runloop.Blueprint, error)
	ListBlueprints(ctx context.Context, params runloop.ListBlueprintsParams) (*runloop.BlueprintList, error)
}

// Manager interface for blueprint generation and submission
type Manager interface {
	// Compose writes the spec artifacts for an instance and returns its build request
	Compose(ctx context.Context, spec imagespec.ImageSpec) (*CompositeRequest, error)

	// Submit sends a build request to the API. It is never retried.
	Submit(ctx context.Context, req CompositeRequest) (*Handle, error)

	// AwaitCompletion polls a submitted build until it reaches a terminal state
	AwaitCompletion(ctx context.Context, h *Handle) (*Handle, error)

	// ExistingBlueprints returns the blueprints already known to the API, by name
	ExistingBlueprints(ctx context.Context) (map[string]runloop.Blueprint, error)

	// Run processes a batch of specs and returns a summary in input order
	Run(ctx context.Context, specs []imagespec.ImageSpec, opts RunOptions) (*Summary, error)
}

// Config holds configuration for the blueprint manager
type Config struct {
	// OutputDir receives the per-instance artifacts and run summaries
	OutputDir string

	// PollInterval is the delay between status polls
	PollInterval time.Duration

	// BuildTimeout bounds the wait for a single build; zero disables it
	BuildTimeout time.Duration

	// MaxPolls bounds the number of status polls per build; zero disables it
	MaxPolls int

	// MaxConcurrentBuilds is the number of instances processed at once
	MaxConcurrentBuilds int

	// SkipExisting skips instances whose name already exists remotely
	SkipExisting bool

	// ListLimit is the page size used when listing existing blueprints
	ListLimit int

	// FailFast stops the batch on the first failed instance
	FailFast bool

	// MaxDockerfileSize rejects larger composed Dockerfiles before submission; zero disables it
	MaxDockerfileSize datasize.ByteSize

	// RetryInitialInterval and RetryMaxTries control retries of transient poll errors
	RetryInitialInterval time.Duration
	RetryMaxTries        uint
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		OutputDir:            "./runloop_output",
		PollInterval:         20 * time.Second,
		BuildTimeout:         2 * time.Hour,
		MaxConcurrentBuilds:  1,
		ListLimit:            300,
		MaxDockerfileSize:    1 * datasize.MB,
		RetryInitialInterval: time.Second,
		RetryMaxTries:        5,
	}
}

// CompositeRequest is the single-Dockerfile build request for one instance
type CompositeRequest struct {
	Name       string
	Dockerfile string
}

// Handle tracks a submitted blueprint build
type Handle struct {
	ID            string
	Name          string
	Status        string
	FailureReason string
	SubmittedAt   time.Time
	Polls         int
}

func (h *Handle) update(bp *runloop.Blueprint) {
	h.Status = bp.Status
	h.FailureReason = bp.FailureReason
}

type manager struct {
	config     Config
	api        API
	compositor *dockerfile.Compositor
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// NewManager creates a new blueprint manager
func NewManager(
	config Config,
	api API,
	compositor *dockerfile.Compositor,
	logger *slog.Logger,
	meter metric.Meter,
	tracer trace.Tracer,
) (Manager, error) {
	if compositor == nil {
		return nil, errors.New("compositor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("blueprints")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", config.PollInterval)
	}
	if config.MaxConcurrentBuilds < 1 {
		config.MaxConcurrentBuilds = 1
	}

	m := &manager{
		config:     config,
		api:        api,
		compositor: compositor,
		logger:     logger,
		tracer:     tracer,
	}

	// Initialize metrics if meter is provided
	if meter != nil {
		metrics, err := NewMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		m.metrics = metrics
	}

	return m, nil
}

// Compose writes <id>.json, composes the Dockerfile and writes <id>_composite.json.
// Artifact write errors are returned as is; composition errors are
// *dockerfile.MalformedFragmentError or *dockerfile.MissingMountError.
func (m *manager) Compose(ctx context.Context, spec imagespec.ImageSpec) (*CompositeRequest, error) {
	if err := writeSpecArtifact(m.config.OutputDir, spec); err != nil {
		return nil, err
	}

	df, err := m.compositor.Compose(spec.Fragments(), spec.Mounts())
	if err != nil {
		return nil, err
	}

	if err := writeCompositeArtifact(m.config.OutputDir, spec.InstanceID, df); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("composed dockerfile", "bytes", len(df))
	return &CompositeRequest{Name: spec.InstanceID, Dockerfile: df}, nil
}

// Submit creates the blueprint. Any API or transport error is wrapped in a
// *SubmissionError.
func (m *manager) Submit(ctx context.Context, req CompositeRequest) (*Handle, error) {
	log := logger.FromContext(ctx)

	if limit := m.config.MaxDockerfileSize; limit > 0 && datasize.ByteSize(len(req.Dockerfile)) > limit {
		return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrDockerfileTooLarge,
			req.Name, datasize.ByteSize(len(req.Dockerfile)).HR(), limit.HR())
	}

	bp, err := m.api.CreateBlueprint(ctx, runloop.CreateBlueprintRequest{
		Name:       req.Name,
		Dockerfile: req.Dockerfile,
	})
	if err != nil {
		return nil, &SubmissionError{Name: req.Name, Err: err}
	}

	log.Info("blueprint submitted", "id", bp.ID, "status", bp.Status)
	return &Handle{
		ID:            bp.ID,
		Name:          req.Name,
		Status:        bp.Status,
		FailureReason: bp.FailureReason,
		SubmittedAt:   time.Now(),
	}, nil
}

// AwaitCompletion polls the build every PollInterval until it is
// build_complete or failed. A failed build returns the last handle together
// with a *BuildFailedError. The wait is bounded by BuildTimeout and MaxPolls.
func (m *manager) AwaitCompletion(ctx context.Context, h *Handle) (*Handle, error) {
	log := logger.FromContext(ctx).With("id", h.ID)
	current := *h

	if runloop.IsTerminalStatus(current.Status) {
		return m.terminal(&current)
	}

	parent := ctx
	if m.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.BuildTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if parent.Err() == nil {
				return &current, fmt.Errorf("%w: %s after %s (last status %s)", ErrBuildTimeout, current.Name, m.config.BuildTimeout, current.Status)
			}
			return &current, parent.Err()

		case <-ticker.C:
			bp, err := m.retrieve(ctx, current.ID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					continue // reported by the ctx.Done branch
				}
				return &current, fmt.Errorf("poll blueprint %s: %w", current.ID, err)
			}

			current.Polls++
			current.update(bp)
			if m.metrics != nil {
				m.metrics.RecordPoll(ctx, current.Status)
			}
			log.Debug("polled blueprint", "status", current.Status, "polls", current.Polls)

			if runloop.IsTerminalStatus(current.Status) {
				return m.terminal(&current)
			}

			if m.config.MaxPolls > 0 && current.Polls >= m.config.MaxPolls {
				return &current, fmt.Errorf("%w: %s after %d polls (last status %s)", ErrBuildTimeout, current.Name, current.Polls, current.Status)
			}
		}
	}
}

// terminal converts a terminal handle into the AwaitCompletion result
func (m *manager) terminal(h *Handle) (*Handle, error) {
	if h.Status == runloop.StatusFailed {
		return h, &BuildFailedError{
			ID:            h.ID,
			Name:          h.Name,
			Status:        h.Status,
			FailureReason: h.FailureReason,
		}
	}
	return h, nil
}

// retrieve fetches a blueprint, retrying transient errors with exponential backoff
func (m *manager) retrieve(ctx context.Context, id string) (*runloop.Blueprint, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.RetryInitialInterval

	tries := m.config.RetryMaxTries
	if tries == 0 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (*runloop.Blueprint, error) {
		bp, err := m.api.GetBlueprint(ctx, id)
		if err != nil {
			if runloop.IsRetryable(err) {
				logger.FromContext(ctx).Warn("transient error polling blueprint", "id", id, "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return bp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

// ExistingBlueprints pages through the API listing and indexes blueprints by name
func (m *manager) ExistingBlueprints(ctx context.Context) (map[string]runloop.Blueprint, error) {
	existing := make(map[string]runloop.Blueprint)
	params := runloop.ListBlueprintsParams{Limit: m.config.ListLimit}

	for {
		page, err := m.api.ListBlueprints(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list blueprints: %w", err)
		}
		for _, bp := range page.Blueprints {
			existing[bp.Name] = bp
		}
		if !page.HasMore || len(page.Blueprints) == 0 {
			break
		}
		next := page.Blueprints[len(page.Blueprints)-1].ID
		if next == params.StartingAfter {
			m.logger.Warn("blueprint listing cursor did not advance", "starting_after", next)
			break
		}
		params.StartingAfter = next
	}

	m.logger.Info("listed existing blueprints", "count", len(existing))
	return existing, nil
}
