// Package daemon coordinates the long-running rythmo process.
//
// It wires configuration, the SQLite store, the job orchestrator, the
// heartbeat reconciler, the HTTP API and the optional Redis event relay into
// a single lifecycle with flock-based locking to prevent multiple instances
// from sharing one database. Start fails every job a previous process left
// pending or processing, since no run of that process can still be alive.
// Stop closes the API first, then interrupts running jobs and waits for their
// rollback before releasing the lock.
//
// Keep orchestration logic here: pipelines live in their own packages while
// the daemon focuses on startup, shutdown and high level coordination.
package daemon
