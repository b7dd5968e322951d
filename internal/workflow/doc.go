// Package workflow runs background jobs for projects.
//
// The Orchestrator validates start requests through the feature's stage
// handler, claims the (project, feature) job slot and executes the handler's
// plan on its own goroutine. While a job runs it owns a scratch workspace, a
// cancellation source and a heartbeat lease; when it ends, its results are
// either committed for good or rolled back from the run's ledger before the
// terminal status is written.
//
// The Reconciler sweeps job slots whose heartbeat lease expired, which is how
// jobs abandoned by a crashed or wedged daemon become visible as failed.
package workflow
