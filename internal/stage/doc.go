// Package stage defines the pieces a pipeline is built from.
//
// A Plan lists a pipeline's stages in order, each with the progress window it
// reports within and how its failures are classified. A Handler implements one
// pipeline: Prepare validates a start request synchronously, Execute walks the
// plan for one Run. The Run carries everything a stage needs: reporter,
// cancellation source, scratch workspace and persistence ledger.
package stage
