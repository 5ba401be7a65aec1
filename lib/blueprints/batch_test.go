package blueprints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onkernel/swebench-blueprints/lib/dockerfile"
	"github.com/onkernel/swebench-blueprints/lib/imagespec"
	"github.com/onkernel/swebench-blueprints/lib/runloop"
	"github.com/onkernel/swebench-blueprints/lib/runloop/runlooptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSummary(t *testing.T, dir, runID string) Summary {
	data, err := os.ReadFile(filepath.Join(dir, "summary-"+runID+".json"))
	require.NoError(t, err)

	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func TestRun_IsolatesFailures(t *testing.T) {
	srv := runlooptest.NewServer(t)
	srv.Script("ok-1", runloop.StatusProvisioning, runloop.StatusBuilding, runloop.StatusBuildComplete)
	srv.Script("build-fails", runloop.StatusBuilding, runloop.StatusFailed)
	srv.FailCreate("rejected", http.StatusUnprocessableEntity)

	cfg := testConfig(t)
	mgr := newTestManager(t, srv.Client(t), cfg)

	malformed := testSpec("malformed")
	malformed.EnvDockerfile = "RUN no-from"
	missingMount := testSpec("missing-mount")
	missingMount.InstanceDockerfile = "FROM env\nCOPY ./other.sh /root/\n"

	specs := []imagespec.ImageSpec{
		testSpec("ok-1"),
		malformed,
		testSpec("build-fails"),
		missingMount,
		testSpec("rejected"),
		testSpec("ok-2"),
	}

	summary, err := mgr.Run(context.Background(), specs, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 4, summary.Failed)

	ids := make([]string, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		ids = append(ids, o.InstanceID)
	}
	assert.Equal(t, []string{"ok-1", "malformed", "build-fails", "missing-mount", "rejected", "ok-2"}, ids)

	assert.Equal(t, OutcomeSucceeded, summary.Outcomes[0].Status)
	assert.Equal(t, 3, summary.Outcomes[0].Polls)
	assert.ErrorIs(t, summary.Outcomes[1].Err, dockerfile.ErrMalformedFragment)
	assert.ErrorIs(t, summary.Outcomes[2].Err, ErrBuildFailed)
	assert.Equal(t, runloop.StatusFailed, summary.Outcomes[2].BuildStatus)
	assert.ErrorIs(t, summary.Outcomes[3].Err, dockerfile.ErrMissingMount)
	assert.ErrorIs(t, summary.Outcomes[4].Err, ErrSubmission)

	err = summary.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "missing-mount")

	// Malformed instances never reach the API
	assert.Len(t, srv.Creates(), 4)

	written := readSummary(t, cfg.OutputDir, summary.RunID)
	assert.Equal(t, 4, written.Failed)
	assert.NotEmpty(t, written.Outcomes[1].Error)
}

func TestRun_FailFast(t *testing.T) {
	srv := runlooptest.NewServer(t)
	srv.Script("first", runloop.StatusFailed)

	cfg := testConfig(t)
	cfg.FailFast = true
	mgr := newTestManager(t, srv.Client(t), cfg)

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{
		testSpec("first"),
		testSpec("second"),
		testSpec("third"),
	}, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	assert.Equal(t, OutcomeFailed, summary.Outcomes[0].Status)
	assert.Equal(t, OutcomeCancelled, summary.Outcomes[1].Status)
	assert.Equal(t, OutcomeCancelled, summary.Outcomes[2].Status)
	assert.Len(t, srv.Creates(), 1)
}

func TestRun_SkipExisting(t *testing.T) {
	srv := runlooptest.NewServer(t)
	existing := srv.Seed("already-built", runloop.StatusBuildComplete)

	cfg := testConfig(t)
	cfg.SkipExisting = true
	mgr := newTestManager(t, srv.Client(t), cfg)

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{
		testSpec("already-built"),
		testSpec("new"),
	}, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, summary.Outcomes[0].Status)
	assert.Equal(t, existing.ID, summary.Outcomes[0].BlueprintID)
	assert.Equal(t, OutcomeSucceeded, summary.Outcomes[1].Status)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "new", creates[0].Name)

	// Artifacts are written for skipped instances too
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "already-built_composite.json"))
	assert.NoError(t, err)
}

func TestRun_SkipExistingDisabled(t *testing.T) {
	srv := runlooptest.NewServer(t)
	srv.Seed("already-built", runloop.StatusBuildComplete)

	mgr := newTestManager(t, srv.Client(t), testConfig(t))

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{testSpec("already-built")}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, summary.Outcomes[0].Status)
	assert.Len(t, srv.Creates(), 1)
}

func TestRun_ComposeOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipExisting = true
	mgr := newTestManager(t, nil, cfg)

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{
		testSpec("a"),
		testSpec("b"),
	}, RunOptions{ComposeOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Composed)

	for _, id := range []string{"a", "b"} {
		_, err := os.Stat(filepath.Join(cfg.OutputDir, id+".json"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(cfg.OutputDir, id+"_composite.json"))
		assert.NoError(t, err)
	}
}

func TestRun_Concurrent(t *testing.T) {
	srv := runlooptest.NewServer(t)
	cfg := testConfig(t)
	cfg.MaxConcurrentBuilds = 4
	mgr := newTestManager(t, srv.Client(t), cfg)

	var specs []imagespec.ImageSpec
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		srv.Script(id, runloop.StatusBuilding, runloop.StatusBuildComplete)
		specs = append(specs, testSpec(id))
	}

	summary, err := mgr.Run(context.Background(), specs, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Succeeded)
	for i, o := range summary.Outcomes {
		assert.Equal(t, specs[i].InstanceID, o.InstanceID)
	}
}

func TestRun_ArtifactWriteFailureStopsBatch(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.OutputDir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.OutputDir = blocker
	mgr := newTestManager(t, nil, cfg)

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{testSpec("a")}, RunOptions{ComposeOnly: true})
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, OutcomeFailed, summary.Outcomes[0].Status)
}

func TestArtifactPathsStayInOutputDir(t *testing.T) {
	dir := t.TempDir()

	path, err := specPath(dir, "../../etc/passwd")
	require.NoError(t, err)
	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}

// slowCreateAPI blocks creation of the named blueprint until the context ends.
// Other names are created already failed.
type slowCreateAPI struct {
	API
	slow string
}

func (s *slowCreateAPI) CreateBlueprint(ctx context.Context, req runloop.CreateBlueprintRequest) (*runloop.Blueprint, error) {
	if req.Name == s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &runloop.Blueprint{ID: "bpt_" + req.Name, Name: req.Name, Status: runloop.StatusFailed}, nil
}

func (s *slowCreateAPI) GetBlueprint(ctx context.Context, id string) (*runloop.Blueprint, error) {
	return nil, errors.New("unexpected poll")
}

func TestRun_CancelledDuringSubmission(t *testing.T) {
	mgr := newTestManager(t, &slowCreateAPI{slow: "a"}, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(30*time.Millisecond, cancel)

	summary, err := mgr.Run(ctx, []imagespec.ImageSpec{testSpec("a")}, RunOptions{})
	require.NoError(t, err)

	o := summary.Outcomes[0]
	assert.Equal(t, OutcomeCancelled, o.Status)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.ErrorIs(t, o.Err, ErrSubmission)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Cancelled)
	assert.NoError(t, summary.Err())
}

func TestRun_FailFastCancelsInFlightSubmission(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailFast = true
	cfg.MaxConcurrentBuilds = 2
	mgr := newTestManager(t, &slowCreateAPI{slow: "slow"}, cfg)

	summary, err := mgr.Run(context.Background(), []imagespec.ImageSpec{
		testSpec("slow"),
		testSpec("fast"),
	}, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	assert.Equal(t, OutcomeCancelled, summary.Outcomes[0].Status)
	assert.Equal(t, OutcomeFailed, summary.Outcomes[1].Status)
	assert.Equal(t, 1, summary.Failed)

	joined := summary.Err()
	require.Error(t, joined)
	assert.NotContains(t, joined.Error(), "slow")
}
