package stage

import (
	"context"
	"log/slog"
	"sync"

	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/store"
)

// Reporter receives progress for the running job. Implementations return
// services.ErrCancelled once the run no longer owns its job slot.
type Reporter interface {
	Report(ctx context.Context, percent int, message string) error
	Estimate(ctx context.Context, percent int, message string) error
}

// Checker is the run's cancellation checkpoint.
type Checker interface {
	Check(ctx context.Context) error
}

// Run is one execution of a pipeline.
type Run struct {
	ID        string
	Project   *store.Project
	Feature   store.Feature
	Params    any
	Reporter  Reporter
	Cancel    Checker
	Workspace *procrun.Workspace
	Ledger    *persist.Ledger
	Persister *persist.Persister
	Runner    *procrun.Runner
	Logger    *slog.Logger

	mu      sync.Mutex
	current Definition
}

// Current returns the stage the run last entered.
func (r *Run) Current() Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Checkpoint returns services.ErrCancelled when the run must stop.
func (r *Run) Checkpoint(ctx context.Context) error {
	if r.Cancel == nil {
		return context.Cause(ctx)
	}
	return r.Cancel.Check(ctx)
}

// Enter checks for cancellation, then reports the start of def.
func (r *Run) Enter(ctx context.Context, def Definition, message string) error {
	if err := r.Checkpoint(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.current = def
	r.mu.Unlock()
	if r.Logger != nil {
		r.Logger.Debug("stage entered",
			logging.String(logging.FieldStage, def.Name),
			logging.Int("low", def.Low),
			logging.Int("high", def.High),
		)
	}
	return r.report(ctx, def.Low, message)
}

// Advance reports observed progress as a fraction of def's window.
func (r *Run) Advance(ctx context.Context, def Definition, fraction float64, message string) error {
	return r.report(ctx, def.Scale(fraction), message)
}

// Estimate reports time-based progress clamped to def's window.
func (r *Run) Estimate(ctx context.Context, def Definition, percent int, message string) error {
	if r.Reporter == nil {
		return nil
	}
	return r.Reporter.Estimate(ctx, def.Clamp(percent), message)
}

func (r *Run) report(ctx context.Context, percent int, message string) error {
	if r.Reporter == nil {
		return nil
	}
	return r.Reporter.Report(ctx, percent, message)
}

// Commit persists a batch of results atomically under the run's ledger.
func (r *Run) Commit(ctx context.Context, fn func(*persist.Writer) error) error {
	return r.Persister.Commit(ctx, r.Ledger, r.Cancel, fn)
}
