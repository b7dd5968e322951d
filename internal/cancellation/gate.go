package cancellation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/progress"
	"rythmo/internal/store"
)

// DefaultInterval bounds how long a running job takes to notice a cancel
// request made on another node without a relayed notification.
const DefaultInterval = 2 * time.Second

// Gate accepts cancel requests and hands out per-run Sources.
type Gate struct {
	store   *store.Store
	tracker *progress.Tracker
	hub     *events.Hub
	logger  *slog.Logger

	mu       sync.Mutex
	watchers map[store.JobKey]map[*Source]struct{}
}

// NewGate constructs a Gate. hub may be nil.
func NewGate(st *store.Store, tracker *progress.Tracker, hub *events.Hub, logger *slog.Logger) *Gate {
	return &Gate{
		store:    st,
		tracker:  tracker,
		hub:      hub,
		logger:   logging.NewComponentLogger(logger, "cancellation"),
		watchers: make(map[store.JobKey]map[*Source]struct{}),
	}
}

// RequestCancel marks the active job of key cancelled. It works before the job
// was picked up, in which case the job never starts processing. It returns
// false when nothing was pending or processing.
func (g *Gate) RequestCancel(ctx context.Context, key store.JobKey, message string) (bool, error) {
	if message == "" {
		message = "Cancelled by user"
	}
	ok, err := g.tracker.Cancel(ctx, key, "", message)
	if err != nil || !ok {
		return ok, err
	}
	g.logger.Info("cancel requested",
		logging.Int64(logging.FieldProjectID, key.ProjectID),
		logging.String(logging.FieldFeature, string(key.Feature)),
	)
	if g.hub != nil {
		g.hub.Publish(events.Event{
			Type:      events.TypeCancelRequested,
			ProjectID: key.ProjectID,
			Feature:   string(key.Feature),
			Status:    string(store.StatusCancelled),
			Message:   message,
		})
	}
	g.Notify(key)
	return true, nil
}

// IsCancelled reads the slot fresh and reports whether runID should stop:
// the slot was cancelled, ended by someone else, or now belongs to another run.
func (g *Gate) IsCancelled(ctx context.Context, key store.JobKey, runID string) (bool, error) {
	state, err := g.store.GetJobState(ctx, key)
	if err != nil {
		return false, err
	}
	return state.RunID != runID || !state.Status.Active(), nil
}

// Notify wakes every Source watching key so it re-reads the slot now.
func (g *Gate) Notify(key store.JobKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for src := range g.watchers[key] {
		src.wakeUp()
	}
}

// Watch starts a Source for runID. The returned context is cancelled with
// cause services.ErrCancelled once cancellation is observed, and with the
// parent's cause when ctx ends. Call Source.Stop when the run finishes.
func (g *Gate) Watch(ctx context.Context, key store.JobKey, runID string, interval time.Duration) (*Source, context.Context) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	src := &Source{
		gate:     g,
		key:      key,
		runID:    runID,
		interval: interval,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	g.mu.Lock()
	if g.watchers[key] == nil {
		g.watchers[key] = make(map[*Source]struct{})
	}
	g.watchers[key][src] = struct{}{}
	g.mu.Unlock()

	go src.loop(runCtx)
	return src, runCtx
}

func (g *Gate) unregister(src *Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if set := g.watchers[src.key]; set != nil {
		delete(set, src)
		if len(set) == 0 {
			delete(g.watchers, src.key)
		}
	}
}
