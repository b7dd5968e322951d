// Package services defines shared utilities consumed by the pipeline stage
// handlers and the external tool integrations beneath it.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, features, stages, run IDs and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, so a failure raised deep
//     inside a subprocess wrapper can still be classified by the orchestrator
//     (precondition vs spawn vs malformed output vs cancellation).
//   - Mapping helpers (Details, Classify, HTTPStatus) used when a failure is
//     written to job state or returned by the control API.
//
// Subpackages wrap the external tools the pipelines shell out to.
package services
