// Package progress tracks the status, progress and message of background jobs.
//
// Tracker persists every change through the store so any request can poll a
// job while it runs, and publishes each applied change to the event hub.
// Progress only moves forward within a run; a new run starts again at 0.
// Estimator supplies progress for tools that have no native reporting; those
// updates are flagged as estimated so clients can tell them from observed
// progress.
package progress
