package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

func TestSweepFailsAbandonedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, st, "Sweep", "", 1)
	ctx := context.Background()

	processing := store.JobKey{ProjectID: project.ID, Feature: store.FeatureTranslation}
	_, err := st.ResetJob(ctx, processing, "run-a", "Queued", "")
	require.NoError(t, err)
	ok, err := st.MarkProcessing(ctx, processing, "run-a", "Working")
	require.NoError(t, err)
	require.True(t, ok)

	pending := store.JobKey{ProjectID: project.ID, Feature: store.FeatureInstrumental}
	_, err = st.ResetJob(ctx, pending, "run-b", "Queued", "")
	require.NoError(t, err)

	hub := events.NewHub(16)
	r := NewReconciler(cfg, st, nil, hub, nil)

	reclaimed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	reclaimed, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)

	for _, key := range []store.JobKey{processing, pending} {
		state, err := st.GetJobState(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, state.Status)
		assert.Contains(t, state.Message, "Job abandoned: no heartbeat since")
	}
	evts, _ := hub.Tail(10)
	assert.Len(t, evts, 2)
	for _, evt := range evts {
		assert.Equal(t, events.TypeJobFailed, evt.Type)
	}
}

func TestReconcilerRejectsBadSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.ReconcileSchedule = "every now and then"
	st := testsupport.MustOpenStore(t, cfg)

	r := NewReconciler(cfg, st, nil, nil, nil)
	assert.Error(t, r.Start())

	cfg.Workflow.ReconcileSchedule = "@every 1h"
	r = NewReconciler(cfg, st, nil, nil, nil)
	require.NoError(t, r.Start())
	r.Stop()
}

func TestHeartbeatLoopNotifiesOnLostLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, st, "Lease", "", 1)
	ctx := context.Background()
	key := store.JobKey{ProjectID: project.ID, Feature: store.FeatureSceneDetection}
	_, err := st.ResetJob(ctx, key, "run-a", "Queued", "")
	require.NoError(t, err)
	_, err = st.MarkProcessing(ctx, key, "run-a", "Working")
	require.NoError(t, err)
	_, err = st.CancelJob(ctx, key, "Cancelled by user")
	require.NoError(t, err)

	monitor := NewHeartbeatMonitor(st, logging.NewNop(), 10*time.Millisecond, time.Minute)
	lost := make(chan struct{})
	loopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(loopCtx, &wg, key, "run-a", func() { close(lost) })

	select {
	case <-lost:
	case <-loopCtx.Done():
		t.Fatal("lost lease was not reported")
	}
	wg.Wait()
}
