package progress_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/events"
	"rythmo/internal/progress"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

func newTracker(t *testing.T) (*progress.Tracker, *events.Hub, store.JobKey) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	project := testsupport.NewProject(t, st, "Tracker", "video.mp4", 1)
	hub := events.NewHub(64)
	return progress.New(st, hub, nil), hub, store.JobKey{ProjectID: project.ID, Feature: store.FeatureSceneDetection}
}

func TestTrackerResetConflict(t *testing.T) {
	tracker, _, key := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Reset(ctx, key, "run-1", "Starting", "")
	require.NoError(t, err)

	_, err = tracker.Reset(ctx, key, "run-2", "Starting again", "")
	require.ErrorIs(t, err, progress.ErrConflict)
	assert.True(t, errors.Is(err, services.ErrPrecondition))

	state, err := tracker.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "run-1", state.RunID)
	assert.Equal(t, "Starting", state.Message)
}

func TestTrackerProgressIsMonotonicAndPublished(t *testing.T) {
	tracker, hub, key := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Reset(ctx, key, "run-1", "Starting", "")
	require.NoError(t, err)
	ok, err := tracker.Start(ctx, key, "run-1", "Processing")
	require.NoError(t, err)
	require.True(t, ok)

	observed := []int{}
	for _, p := range []int{12, 40, 25, 130} {
		_, err := tracker.Update(ctx, key, "run-1", p, "working")
		require.NoError(t, err)
		state, err := tracker.Read(ctx, key)
		require.NoError(t, err)
		observed = append(observed, state.Progress)
	}
	assert.Equal(t, []int{12, 40, 40, 100}, observed)

	batch, _, err := hub.Fetch(ctx, 0, 0, false)
	require.NoError(t, err)
	var progressEvents []int
	for _, evt := range batch {
		if evt.Type == events.TypeJobProgress {
			progressEvents = append(progressEvents, evt.Progress)
		}
	}
	assert.Equal(t, []int{12, 40, 40, 100}, progressEvents)
}

func TestTrackerTerminalTransitionsAreIdempotent(t *testing.T) {
	tracker, hub, key := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Reset(ctx, key, "run-1", "Starting", "")
	require.NoError(t, err)
	_, err = tracker.Start(ctx, key, "run-1", "Processing")
	require.NoError(t, err)
	_, err = tracker.Update(ctx, key, "run-1", 55, "halfway")
	require.NoError(t, err)

	ok, err := tracker.Fail(ctx, key, "run-1", "Error: boom", "boom")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.Cancel(ctx, key, "", "Cancelled")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tracker.Complete(ctx, key, "run-1", "done")
	require.NoError(t, err)
	assert.False(t, ok)

	state, err := tracker.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, state.Status)
	assert.Equal(t, 55, state.Progress)

	tail, _ := hub.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, events.TypeJobFailed, tail[0].Type)
	assert.Equal(t, 55, tail[0].Progress)
}

func TestTrackerStartAfterCancelReturnsFalse(t *testing.T) {
	tracker, _, key := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Reset(ctx, key, "run-1", "Starting", "")
	require.NoError(t, err)
	ok, err := tracker.Cancel(ctx, key, "", "Cancelled")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tracker.Start(ctx, key, "run-1", "Processing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimatorIsMonotonicAndCapped(t *testing.T) {
	est := progress.NewEstimator(30, 85, 120*time.Second)

	assert.Equal(t, 30, est.At(0))
	assert.Equal(t, 57, est.At(60*time.Second))
	assert.Equal(t, 57, est.At(30*time.Second), "estimate never goes backwards")
	assert.Equal(t, 85, est.At(120*time.Second))
	assert.Equal(t, 85, est.At(10*time.Minute))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, progress.Clamp(-5))
	assert.Equal(t, 42, progress.Clamp(42))
	assert.Equal(t, 100, progress.Clamp(250))
}

func TestScaledExpectation(t *testing.T) {
	assert.Equal(t, 40*time.Second, progress.ScaledExpectation(40*time.Second, 0))
	assert.Equal(t, 40*time.Second, progress.ScaledExpectation(40*time.Second, 30))
	assert.Equal(t, 100*time.Second, progress.ScaledExpectation(40*time.Second, 150))
}
