package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"rythmo/internal/cancellation"
	"rythmo/internal/config"
	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/store"
)

const sweepTimeout = 30 * time.Second

// Reconciler periodically fails jobs whose heartbeat lease expired.
type Reconciler struct {
	store    *store.Store
	gate     *cancellation.Gate
	hub      *events.Hub
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
	now      func() time.Time

	cron  *cron.Cron
	group singleflight.Group
}

// NewReconciler constructs a Reconciler. gate and hub may be nil.
func NewReconciler(cfg *config.Config, st *store.Store, gate *cancellation.Gate, hub *events.Hub, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    st,
		gate:     gate,
		hub:      hub,
		logger:   logging.NewComponentLogger(logger, "reconciler"),
		schedule: cfg.Workflow.ReconcileSchedule,
		timeout:  config.Seconds(cfg.Workflow.HeartbeatTimeout),
		now:      time.Now,
	}
}

// Start schedules the sweep. Overlapping ticks share one sweep.
func (r *Reconciler) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			logging.WarnWithContext(r.logger, "reconcile sweep failed", "reconcile_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
				logging.String(logging.FieldImpact, "abandoned jobs stay active until the next sweep"),
			)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Debug("reconciler scheduled", logging.String("schedule", r.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep fails active jobs whose lease is older than the heartbeat timeout and
// returns how many were reclaimed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	result, err, _ := r.group.Do("sweep", func() (any, error) {
		cutoff := r.now().Add(-r.timeout).UTC()
		message := "Job abandoned: no heartbeat since " + cutoff.Format(time.RFC3339)
		keys, err := r.store.ReclaimStaleJobs(ctx, cutoff, message)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			r.logger.Warn("abandoned job reclaimed",
				logging.Int64(logging.FieldProjectID, key.ProjectID),
				logging.String(logging.FieldFeature, string(key.Feature)),
				logging.String(logging.FieldEventType, "job_reclaimed"),
			)
			if r.gate != nil {
				r.gate.Notify(key)
			}
			r.hub.Publish(events.Event{
				Type:      events.TypeJobFailed,
				ProjectID: key.ProjectID,
				Feature:   string(key.Feature),
				Status:    string(store.StatusFailed),
				Message:   message,
			})
		}
		return len(keys), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
