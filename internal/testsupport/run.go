package testsupport

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"rythmo/internal/blobstore"
	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

// Update is one progress report captured by Reporter.
type Update struct {
	Percent   int
	Message   string
	Estimated bool
}

// Reporter records progress reports in memory.
type Reporter struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Reporter) record(u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

// Report implements stage.Reporter.
func (r *Reporter) Report(_ context.Context, percent int, message string) error {
	return r.record(Update{Percent: percent, Message: message})
}

// Estimate implements stage.Reporter.
func (r *Reporter) Estimate(_ context.Context, percent int, message string) error {
	return r.record(Update{Percent: percent, Message: message, Estimated: true})
}

// Updates returns a copy of the recorded reports.
func (r *Reporter) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Percents returns the recorded percentages in order.
func (r *Reporter) Percents() []int {
	updates := r.Updates()
	out := make([]int, len(updates))
	for i, u := range updates {
		out[i] = u.Percent
	}
	return out
}

// Checker is a cancellation checkpoint that trips after a number of checks.
// A zero CancelAfter never trips.
type Checker struct {
	mu          sync.Mutex
	CancelAfter int
	calls       int
}

// Check implements stage.Checker.
func (c *Checker) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.CancelAfter > 0 && c.calls >= c.CancelAfter {
		return services.ErrCancelled
	}
	return nil
}

// Calls reports how many checkpoints were consulted.
func (c *Checker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// NewRun builds a stage.Run backed by the real store, a local blob store and a
// scratch workspace. Progress goes to a recording Reporter.
func NewRun(t testing.TB, cfg *config.Config, st *store.Store, project *store.Project, feature store.Feature, params any) (*stage.Run, *Reporter, *Checker) {
	t.Helper()

	blobs, err := blobstore.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("blobstore.NewLocal: %v", err)
	}
	runID := uuid.NewString()
	workspace, err := procrun.NewWorkspace(cfg.Paths.ScratchDir, feature.Slug()+"-"+runID)
	if err != nil {
		t.Fatalf("procrun.NewWorkspace: %v", err)
	}
	t.Cleanup(func() { _ = workspace.Cleanup() })

	logger := logging.NewNop()
	reporter := &Reporter{}
	checker := &Checker{}
	run := &stage.Run{
		ID:        runID,
		Project:   project,
		Feature:   feature,
		Params:    params,
		Reporter:  reporter,
		Cancel:    checker,
		Workspace: workspace,
		Ledger:    persist.NewLedger(project.ID, runID),
		Persister: persist.New(st, blobs, logger),
		Runner:    procrun.New(logger),
		Logger:    logger,
	}
	return run, reporter, checker
}
