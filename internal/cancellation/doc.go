// Package cancellation turns a user's cancel request into the termination of
// a running job.
//
// The request side only writes status=cancelled through Gate.RequestCancel.
// The running job owns a Source that re-reads the job slot at a bounded
// interval, or immediately when notified, and cancels the job's context with
// services.ErrCancelled once the slot is no longer its own. Stages call
// Source.Check at their boundaries for a fresh read.
package cancellation
