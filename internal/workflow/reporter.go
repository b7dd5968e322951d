package workflow

import (
	"context"

	"rythmo/internal/progress"
	"rythmo/internal/services"
	"rythmo/internal/store"
)

// jobReporter forwards stage progress to the tracker. An update the tracker
// refuses means the run lost its slot, which the stage treats as a cancel.
type jobReporter struct {
	tracker *progress.Tracker
	key     store.JobKey
	runID   string
}

func (r *jobReporter) Report(ctx context.Context, percent int, message string) error {
	ok, err := r.tracker.Update(ctx, r.key, r.runID, percent, message)
	return r.apply(ctx, ok, err)
}

func (r *jobReporter) Estimate(ctx context.Context, percent int, message string) error {
	ok, err := r.tracker.Estimate(ctx, r.key, r.runID, percent, message)
	return r.apply(ctx, ok, err)
}

func (r *jobReporter) apply(ctx context.Context, ok bool, err error) error {
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return services.Wrap(services.ErrTransient, "progress", "update", "could not record progress", err)
	}
	if !ok {
		return services.ErrCancelled
	}
	return nil
}
