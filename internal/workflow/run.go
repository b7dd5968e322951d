package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

// finishTimeout bounds the rollback and terminal write of a job, which run
// even while the daemon is stopping.
const finishTimeout = 30 * time.Second

type job struct {
	key     store.JobKey
	runID   string
	project *store.Project
	params  any
	handler stage.Handler
}

func (o *Orchestrator) run(j job) {
	defer o.wg.Done()
	defer o.finished(j.runID)
	defer o.tracker.Forget(j.runID)

	ctx := services.WithProjectID(o.baseCtx, j.key.ProjectID)
	ctx = services.WithFeature(ctx, string(j.key.Feature))
	ctx = services.WithRunID(ctx, j.runID)
	logger := logging.WithContext(ctx, o.logger)

	src, runCtx := o.gate.Watch(ctx, j.key, j.runID, o.cancelRefresh())
	defer src.Stop()

	workspace, err := procrun.NewWorkspace(o.cfg.Paths.ScratchDir,
		fmt.Sprintf("%s-%d-%s", j.key.Feature.Slug(), j.key.ProjectID, j.runID))
	if err != nil {
		o.fail(ctx, logger, j, nil, fmt.Errorf("%w: %w", services.ErrConfiguration, err))
		return
	}
	defer func() {
		if err := workspace.Cleanup(); err != nil {
			logging.WarnWithContext(logger, "workspace cleanup failed", "workspace_cleanup_failed",
				logging.String("dir", workspace.Dir()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch files left on disk"),
			)
		}
	}()

	started, err := o.tracker.Start(runCtx, j.key, j.runID, "Starting "+strings.ToLower(j.key.Feature.Label()))
	if err != nil {
		o.fail(ctx, logger, j, nil, err)
		return
	}
	if !started {
		logger.Info("job cancelled before it started", logging.String(logging.FieldEventType, "job_skipped"))
		return
	}

	hbCtx, hbCancel := context.WithCancel(runCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go o.heartbeat.StartLoop(hbCtx, &hbWG, j.key, j.runID, func() { o.gate.Notify(j.key) })

	ledger := persist.NewLedger(j.key.ProjectID, j.runID)
	run := &stage.Run{
		ID:        j.runID,
		Project:   j.project,
		Feature:   j.key.Feature,
		Params:    j.params,
		Reporter:  &jobReporter{tracker: o.tracker, key: j.key, runID: j.runID},
		Cancel:    src,
		Workspace: workspace,
		Ledger:    ledger,
		Persister: o.persister,
		Runner:    o.runner,
		Logger:    logger,
	}

	began := time.Now()
	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"))
	message, execErr := j.handler.Execute(runCtx, run)
	hbCancel()
	hbWG.Wait()

	switch {
	case execErr == nil:
		o.complete(ctx, logger, j, run, message, time.Since(began))
	case errors.Is(context.Cause(o.baseCtx), errShutdown) && !src.Cancelled():
		o.interrupt(ctx, logger, j, ledger, execErr)
	case errors.Is(execErr, services.ErrCancelled) || src.Cancelled():
		o.cancelled(ctx, logger, j, ledger)
	default:
		o.fail(ctx, logger, j, run, execErr)
	}
}

func finishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, j job, run *stage.Run, message string, took time.Duration) {
	ctx, cancel := finishContext(ctx)
	defer cancel()
	ok, err := o.tracker.Complete(ctx, j.key, j.runID, message)
	if err != nil || !ok {
		// The slot was cancelled or reclaimed while the results were committed.
		o.rollback(ctx, logger, run.Ledger)
		if err != nil {
			logger.Error("failed to record completion", logging.Error(err),
				logging.String(logging.FieldEventType, "job_complete_failed"))
			_, _ = o.tracker.Fail(ctx, j.key, j.runID, "Error: could not record completion", err.Error())
			return
		}
		logger.Info("job ended before completion was recorded; results rolled back",
			logging.String(logging.FieldEventType, "job_superseded"))
		return
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("message", message),
		logging.Duration("duration", took),
	)
	if finalizer, ok := j.handler.(stage.Finalizer); ok {
		if err := finalizer.Finalize(ctx, run); err != nil {
			logging.WarnWithContext(logger, "post-completion cleanup failed", "job_finalize_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "replaced artifacts may remain in storage"),
			)
		}
	}
}

func (o *Orchestrator) cancelled(ctx context.Context, logger *slog.Logger, j job, ledger *persist.Ledger) {
	ctx, cancel := finishContext(ctx)
	defer cancel()
	o.rollback(ctx, logger, ledger)
	if _, err := o.tracker.Cancel(ctx, j.key, j.runID, "Cancelled"); err != nil {
		logger.Error("failed to record cancellation", logging.Error(err))
	}
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
}

func (o *Orchestrator) interrupt(ctx context.Context, logger *slog.Logger, j job, ledger *persist.Ledger, cause error) {
	ctx, cancel := finishContext(ctx)
	defer cancel()
	o.rollback(ctx, logger, ledger)
	if _, err := o.tracker.Fail(ctx, j.key, j.runID, "Interrupted: daemon stopped", cause.Error()); err != nil {
		logger.Error("failed to record interruption", logging.Error(err))
	}
	logger.Info("job interrupted by shutdown", logging.String(logging.FieldEventType, "job_interrupted"))
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, j job, run *stage.Run, jobErr error) {
	ctx, cancel := finishContext(ctx)
	defer cancel()
	if run != nil {
		o.rollback(ctx, logger, run.Ledger)
	}

	details := services.Details(jobErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = j.key.Feature.Label() + " failed"
	}
	marker := ""
	if details.Marker != nil {
		marker = details.Marker.Error()
	}
	stageName, mode := failureOf(run, jobErr)
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldStage, stageName),
		logging.String("error_kind", marker),
		logging.String("failure_mode", string(mode)),
		logging.Error(jobErr),
	)
	errorMessage := jobErr.Error()
	if stageName != "" {
		errorMessage = fmt.Sprintf("%s stage failed (%s): %s", stageName, mode, errorMessage)
	}
	if _, err := o.tracker.Fail(ctx, j.key, j.runID, "Error: "+message, errorMessage); err != nil {
		logger.Error("failed to record failure", logging.Error(err))
	}
}

// failureOf names the stage a run failed in and how the failure is
// classified. A retryable stage stays retryable only for transient errors.
func failureOf(run *stage.Run, err error) (string, services.FailureMode) {
	mode := services.Classify(err)
	if run == nil {
		return "", mode
	}
	def := run.Current()
	if def.Name == "" {
		return "", mode
	}
	if def.Failure == services.FailureFatal {
		mode = services.FailureFatal
	}
	return def.Name, mode
}

func (o *Orchestrator) rollback(ctx context.Context, logger *slog.Logger, ledger *persist.Ledger) {
	if ledger == nil {
		return
	}
	summary := ledger.Summary()
	if summary.Empty() {
		return
	}
	if err := o.persister.Rollback(ctx, ledger); err != nil {
		logging.ErrorWithContext(logger, "rollback failed", "rollback_failed",
			logging.Error(err),
			logging.Int("scene_changes", summary.SceneChanges),
			logging.Int("characters", summary.Characters),
			logging.Int("timecodes", summary.Timecodes),
			logging.String(logging.FieldErrorHint, "records created by the run may need manual removal"),
		)
		return
	}
	logger.Info("run results rolled back",
		logging.Int("scene_changes", summary.SceneChanges),
		logging.Int("characters", summary.Characters),
		logging.Int("timecodes", summary.Timecodes),
		logging.Int("texts", summary.Texts),
		logging.Int("blobs", summary.Blobs),
	)
}
