package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"rythmo/internal/api"
	"rythmo/internal/blobstore"
	"rythmo/internal/cancellation"
	"rythmo/internal/config"
	"rythmo/internal/deps"
	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/preflight"
	"rythmo/internal/procrun"
	"rythmo/internal/progress"
	"rythmo/internal/stage"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

const (
	interruptedMessage = "Interrupted: daemon restarted"
	shutdownTimeout    = 30 * time.Second
	depsCacheTTL       = 30 * time.Second
)

// Option customizes a Daemon.
type Option func(*Daemon)

// WithHandlers replaces the pipelines built from the config.
func WithHandlers(handlers ...stage.Handler) Option {
	return func(d *Daemon) {
		d.handlers = handlers
	}
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	handlers []stage.Handler

	lockPath string
	lock     *flock.Flock

	mu         sync.Mutex
	running    atomic.Bool
	cancel     context.CancelFunc
	store      *store.Store
	hub        *events.Hub
	orch       *workflow.Orchestrator
	reconciler *workflow.Reconciler
	server     *api.Server
	bridge     *events.Bridge
	bridgeDone chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	DatabasePath string `json:"database_path"`
	LockFilePath string `json:"lock_file_path"`
	APIAddress   string `json:"api_address,omitempty"`
	RunningJobs  int    `json:"running_jobs"`
	NodeID       string `json:"node_id,omitempty"`
}

// New constructs a daemon. Nothing is opened until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the instance lock, fails jobs left active by a previous
// process and starts the reconciler, the API server and the event relay.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	if failed := preflight.Failed(preflight.RunAll(d.cfg)); len(failed) > 0 {
		return fmt.Errorf("preflight: %s: %s", failed[0].Name, failed[0].Detail)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rythmo daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startServices(runCtx); err != nil {
		d.teardown()
		cancel()
		d.stopBridge()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("rythmo daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.Addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	st, err := store.Open(d.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = st

	n, err := st.FailActiveJobs(ctx, interruptedMessage)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.WarnWithContext(d.logger, "failed jobs left active by previous run", "jobs_interrupted",
			logging.Int64("jobs", n),
			logging.String(logging.FieldErrorHint, "restart the affected jobs"),
			logging.String(logging.FieldImpact, "partial results were not rolled back by the previous process"),
		)
	}

	blobs, err := blobstore.New(ctx, d.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	d.hub = events.NewHub(d.cfg.Workflow.EventBufferSize)
	tracker := progress.New(st, d.hub, d.logger)
	gate := cancellation.NewGate(st, tracker, d.hub, d.logger)
	runner := procrun.New(d.logger)

	handlers := d.handlers
	if handlers == nil {
		handlers = BuildHandlers(d.cfg, st, runner, d.logger)
	}
	orch, err := workflow.New(workflow.Dependencies{
		Config:    d.cfg,
		Store:     st,
		Tracker:   tracker,
		Gate:      gate,
		Persister: persist.New(st, blobs, d.logger),
		Runner:    runner,
		Logger:    d.logger,
	}, handlers...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	d.orch = orch

	d.reconciler = workflow.NewReconciler(d.cfg, st, gate, d.hub, d.logger)
	if err := d.reconciler.Start(); err != nil {
		return err
	}

	if d.cfg.Redis.Enabled {
		d.startBridge(ctx)
	}

	server, err := api.NewServer(api.Options{
		Config:       d.cfg,
		Store:        st,
		Orchestrator: orch,
		Hub:          d.hub,
		Deps:         deps.NewChecker(deps.Requirements(d.cfg), depsCacheTTL),
		Blobs:        blobs,
		Logger:       d.logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	d.server = server
	return nil
}

// startBridge connects the Redis relay. A relay that cannot connect only
// degrades cross-node updates, so the daemon keeps running without it.
func (d *Daemon) startBridge(ctx context.Context) {
	bridge, err := events.NewBridge(ctx, d.cfg.Redis, d.hub, d.logger)
	if err != nil {
		logging.WarnWithContext(d.logger, "event relay unavailable", "event_relay_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis.addr and that redis is running"),
			logging.String(logging.FieldImpact, "job events from other daemons are not shown"),
		)
		return
	}
	d.bridge = bridge
	d.bridgeDone = make(chan struct{})
	go func() {
		defer close(d.bridgeDone)
		if err := bridge.Run(ctx); err != nil {
			logging.WarnWithContext(d.logger, "event relay stopped", "event_relay_stopped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cross-node events are no longer relayed"),
			)
		}
	}()
}

// stopBridge waits for the relay loop, whose context must already be done.
func (d *Daemon) stopBridge() {
	if d.bridgeDone != nil {
		<-d.bridgeDone
		d.bridgeDone = nil
	}
	if d.bridge != nil {
		_ = d.bridge.Close()
		d.bridge = nil
	}
}

// Stop interrupts running jobs, stops the services and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.teardown()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopBridge()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("rythmo daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// teardown stops accepting requests first so no job starts while the
// orchestrator drains.
func (d *Daemon) teardown() {
	if d.server != nil {
		d.server.Stop()
		d.server = nil
	}
	if d.reconciler != nil {
		d.reconciler.Stop()
		d.reconciler = nil
	}
	if d.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.orch.Shutdown(ctx); err != nil {
			logging.WarnWithContext(d.logger, "jobs did not stop in time", "shutdown_timeout",
				logging.Error(err),
				logging.String(logging.FieldImpact, "jobs are failed as interrupted on next start"),
			)
		}
		cancel()
		d.orch = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("close store", logging.Error(err))
		}
		d.store = nil
	}
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
	if d.server != nil {
		status.APIAddress = d.server.Addr()
	}
	if d.orch != nil {
		status.RunningJobs = d.orch.Running()
	}
	if d.bridge != nil {
		status.NodeID = d.bridge.NodeID()
	}
	return status
}
