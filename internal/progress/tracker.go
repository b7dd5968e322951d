package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/services"
	"rythmo/internal/store"
)

// ErrConflict rejects a start while the feature already has an active job.
var ErrConflict = fmt.Errorf("%w: a job is already pending or processing for this feature", services.ErrPrecondition)

// Tracker owns the persisted status, progress and message of every job slot.
// All writes go through the store's conditional updates, so concurrent
// requests and the running job never clobber each other.
type Tracker struct {
	store  *store.Store
	hub    *events.Hub
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	sampler   *logging.ProgressSampler
	progress  int
	estimated bool
}

// New constructs a Tracker. hub may be nil.
func New(st *store.Store, hub *events.Hub, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  st,
		hub:    hub,
		logger: logging.NewComponentLogger(logger, "progress"),
		runs:   make(map[string]*runState),
	}
}

// Reset claims the slot for runID: pending, progress 0, message. It returns
// ErrConflict when a job is already pending or processing.
func (t *Tracker) Reset(ctx context.Context, key store.JobKey, runID, message, params string) (store.JobState, error) {
	state, err := t.store.ResetJob(ctx, key, runID, message, params)
	if errors.Is(err, store.ErrJobActive) {
		return store.JobState{}, ErrConflict
	}
	if err != nil {
		return store.JobState{}, err
	}
	t.mu.Lock()
	t.runs[runID] = &runState{sampler: logging.NewProgressSampler(10)}
	t.mu.Unlock()
	t.publish(events.TypeJobPending, key, runID, store.StatusPending, 0, message, false)
	return state, nil
}

// Start moves the run to processing. It returns false when the job was
// cancelled or replaced before it was picked up.
func (t *Tracker) Start(ctx context.Context, key store.JobKey, runID, message string) (bool, error) {
	ok, err := t.store.MarkProcessing(ctx, key, runID, message)
	if err != nil || !ok {
		return ok, err
	}
	t.publish(events.TypeJobStarted, key, runID, store.StatusProcessing, 0, message, false)
	return true, nil
}

// Update records observed progress for a processing run.
func (t *Tracker) Update(ctx context.Context, key store.JobKey, runID string, percent int, message string) (bool, error) {
	return t.update(ctx, key, runID, percent, message, false)
}

// Estimate records progress derived from elapsed time rather than tool output.
func (t *Tracker) Estimate(ctx context.Context, key store.JobKey, runID string, percent int, message string) (bool, error) {
	return t.update(ctx, key, runID, percent, message, true)
}

func (t *Tracker) update(ctx context.Context, key store.JobKey, runID string, percent int, message string, estimated bool) (bool, error) {
	percent = Clamp(percent)
	ok, err := t.store.UpdateJobProgress(ctx, key, runID, percent, message)
	if err != nil || !ok {
		return ok, err
	}

	t.mu.Lock()
	run := t.runs[runID]
	if run == nil {
		run = &runState{sampler: logging.NewProgressSampler(10)}
		t.runs[runID] = run
	}
	if percent >= run.progress {
		run.estimated = estimated
	}
	run.progress = max(run.progress, percent)
	percent = run.progress
	shouldLog := run.sampler.ShouldLog(percent, "")
	t.mu.Unlock()

	if shouldLog {
		t.logger.Info("job progress",
			logging.Int64(logging.FieldProjectID, key.ProjectID),
			logging.String(logging.FieldFeature, string(key.Feature)),
			logging.String(logging.FieldRunID, runID),
			logging.Int("progress", percent),
			logging.String("message", message),
			logging.Bool("estimated", estimated),
		)
	}
	t.publish(events.TypeJobProgress, key, runID, store.StatusProcessing, percent, message, estimated)
	return true, nil
}

// Read returns the current snapshot of the slot.
func (t *Tracker) Read(ctx context.Context, key store.JobKey) (store.JobState, error) {
	return t.store.GetJobState(ctx, key)
}

// Complete marks the run completed at 100%. A second terminal call is a no-op
// and returns false.
func (t *Tracker) Complete(ctx context.Context, key store.JobKey, runID, message string) (bool, error) {
	return t.finish(ctx, key, runID, store.StatusCompleted, message, "")
}

// Fail marks the run failed, keeping its last progress.
func (t *Tracker) Fail(ctx context.Context, key store.JobKey, runID, message, detail string) (bool, error) {
	return t.finish(ctx, key, runID, store.StatusFailed, message, detail)
}

// Cancel marks the run cancelled, keeping its last progress. An empty runID
// cancels whichever run is active.
func (t *Tracker) Cancel(ctx context.Context, key store.JobKey, runID, message string) (bool, error) {
	return t.finish(ctx, key, runID, store.StatusCancelled, message, "")
}

func (t *Tracker) finish(ctx context.Context, key store.JobKey, runID string, status store.Status, message, detail string) (bool, error) {
	ok, err := t.store.FinishJob(ctx, key, runID, status, message, detail)
	if err != nil || !ok {
		return ok, err
	}

	percent := 0
	t.mu.Lock()
	if run := t.runs[runID]; run != nil {
		percent = run.progress
		delete(t.runs, runID)
	}
	t.mu.Unlock()
	if status == store.StatusCompleted {
		percent = 100
	} else if runID == "" {
		if state, err := t.store.GetJobState(ctx, key); err == nil {
			percent = state.Progress
			runID = state.RunID
		}
	}

	t.publish(terminalEvent(status), key, runID, status, percent, message, false)
	return true, nil
}

// Estimated reports whether the latest progress of a live run came from an
// estimate. Runs this process does not own read as observed.
func (t *Tracker) Estimated(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run := t.runs[runID]; run != nil {
		return run.estimated
	}
	return false
}

// Forget drops in-memory state for a run that ended without a terminal write
// from this tracker.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	delete(t.runs, runID)
	t.mu.Unlock()
}

func (t *Tracker) publish(kind events.Type, key store.JobKey, runID string, status store.Status, percent int, message string, estimated bool) {
	if t.hub == nil {
		return
	}
	t.hub.Publish(events.Event{
		Type:      kind,
		ProjectID: key.ProjectID,
		Feature:   string(key.Feature),
		RunID:     runID,
		Status:    string(status),
		Progress:  percent,
		Message:   message,
		Estimated: estimated,
	})
}

func terminalEvent(status store.Status) events.Type {
	switch status {
	case store.StatusCompleted:
		return events.TypeJobCompleted
	case store.StatusCancelled:
		return events.TypeJobCancelled
	default:
		return events.TypeJobFailed
	}
}

// Clamp bounds a percentage to 0..100.
func Clamp(percent int) int {
	return min(max(percent, 0), 100)
}
