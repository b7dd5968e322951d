package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rythmo/internal/cancellation"
	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/progress"
	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

// errShutdown is the cause attached to running jobs when the daemon stops.
var errShutdown = errors.New("daemon stopped")

// ErrShuttingDown rejects starts once Shutdown began.
var ErrShuttingDown = fmt.Errorf("%w: daemon is shutting down", services.ErrPrecondition)

// Dependencies wires the orchestrator to the rest of the daemon.
type Dependencies struct {
	Config    *config.Config
	Store     *store.Store
	Tracker   *progress.Tracker
	Gate      *cancellation.Gate
	Persister *persist.Persister
	Runner    *procrun.Runner
	Logger    *slog.Logger
}

// StartResult is returned to the client that started a job.
type StartResult struct {
	Status     store.Status    `json:"status"`
	RunID      string          `json:"run_id"`
	Parameters json.RawMessage `json:"parameters"`
}

// Orchestrator starts, tracks and stops jobs.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	tracker   *progress.Tracker
	gate      *cancellation.Gate
	persister *persist.Persister
	runner    *procrun.Runner
	logger    *slog.Logger
	heartbeat *HeartbeatMonitor

	handlers map[store.Feature]stage.Handler

	baseCtx context.Context
	stop    context.CancelCauseFunc

	mu      sync.Mutex
	closing bool
	active  map[string]store.JobKey
	wg      sync.WaitGroup
}

// New builds an orchestrator serving handlers. Every handler's plan is
// validated up front.
func New(deps Dependencies, handlers ...stage.Handler) (*Orchestrator, error) {
	if deps.Config == nil || deps.Store == nil || deps.Tracker == nil || deps.Gate == nil || deps.Persister == nil {
		return nil, errors.New("workflow: config, store, tracker, gate and persister are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := deps.Runner
	if runner == nil {
		runner = procrun.New(logger)
	}
	registry := make(map[store.Feature]stage.Handler, len(handlers))
	for _, h := range handlers {
		if h == nil {
			continue
		}
		feature := h.Feature()
		if _, dup := registry[feature]; dup {
			return nil, fmt.Errorf("workflow: duplicate handler for %s", feature)
		}
		if err := h.Plan().Validate(); err != nil {
			return nil, fmt.Errorf("workflow: %s plan: %w", feature, err)
		}
		registry[feature] = h
	}
	baseCtx, stop := context.WithCancelCause(context.Background())
	wf := deps.Config.Workflow
	return &Orchestrator{
		cfg:       deps.Config,
		store:     deps.Store,
		tracker:   deps.Tracker,
		gate:      deps.Gate,
		persister: deps.Persister,
		runner:    runner,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		heartbeat: NewHeartbeatMonitor(deps.Store, logger,
			config.Seconds(wf.HeartbeatInterval),
			config.Seconds(wf.HeartbeatTimeout),
		),
		handlers: registry,
		baseCtx:  baseCtx,
		stop:     stop,
		active:   make(map[string]store.JobKey),
	}, nil
}

// Enabled reports whether feature is switched on and has a handler.
func (o *Orchestrator) Enabled(feature store.Feature) bool {
	if _, ok := o.handlers[feature]; !ok {
		return false
	}
	switch feature {
	case store.FeatureSceneDetection:
		return o.cfg.SceneDetection.Enabled
	case store.FeatureDialogueExtraction:
		return o.cfg.DialogueExtraction.Enabled
	case store.FeatureTranslation:
		return o.cfg.Translation.Enabled
	case store.FeatureInstrumental:
		return o.cfg.Instrumental.Enabled
	default:
		return false
	}
}

// Start validates the request, claims the job slot and runs the job in the
// background. It returns once the job is pending.
func (o *Orchestrator) Start(ctx context.Context, projectID int64, feature store.Feature, raw json.RawMessage) (StartResult, error) {
	handler, ok := o.handlers[feature]
	if !ok || !o.Enabled(feature) {
		return StartResult{}, fmt.Errorf("%w: %s is disabled", services.ErrPrecondition, feature.Label())
	}
	project, err := o.project(ctx, projectID)
	if err != nil {
		return StartResult{}, err
	}
	params, err := handler.Prepare(ctx, project, raw)
	if err != nil {
		return StartResult{}, err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return StartResult{}, fmt.Errorf("encode parameters: %w", err)
	}

	key := store.JobKey{ProjectID: projectID, Feature: feature}
	runID := uuid.NewString()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return StartResult{}, ErrShuttingDown
	}
	if _, err := o.tracker.Reset(ctx, key, runID, "Queued", string(encoded)); err != nil {
		return StartResult{}, err
	}
	o.active[runID] = key
	o.wg.Add(1)
	go o.run(job{
		key:     key,
		runID:   runID,
		project: project,
		params:  params,
		handler: handler,
	})

	o.logger.Info("job queued",
		logging.Int64(logging.FieldProjectID, projectID),
		logging.String(logging.FieldFeature, string(feature)),
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return StartResult{Status: store.StatusPending, RunID: runID, Parameters: encoded}, nil
}

// Cancel requests cancellation of the feature's active job. It fails with a
// precondition error when nothing is pending or processing.
func (o *Orchestrator) Cancel(ctx context.Context, projectID int64, feature store.Feature) error {
	if _, err := o.project(ctx, projectID); err != nil {
		return err
	}
	ok, err := o.gate.RequestCancel(ctx, store.JobKey{ProjectID: projectID, Feature: feature}, "Cancelled by user")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no active %s job", services.ErrPrecondition, feature.Label())
	}
	return nil
}

// Running returns how many jobs this process is executing.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown stops accepting jobs, interrupts the running ones and waits for
// them to roll back and record their terminal state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	running := len(o.active)
	o.mu.Unlock()

	if running > 0 {
		o.logger.Info("interrupting running jobs", logging.Int("jobs", running))
	}
	o.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workflow shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) project(ctx context.Context, projectID int64) (*store.Project, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrProjectNotFound) {
		return nil, fmt.Errorf("%w: project %d", services.ErrNotFound, projectID)
	}
	return project, err
}

func (o *Orchestrator) finished(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) cancelRefresh() time.Duration {
	return config.Millis(o.cfg.Workflow.CancelRefreshMS)
}
