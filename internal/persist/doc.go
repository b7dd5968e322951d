// Package persist writes pipeline results as domain records and undoes them.
//
// Every record a run creates, every segment text it overwrites and every
// project field or blob it replaces is recorded in the run's Ledger. Commit
// applies a batch of writes in one transaction and only then adds them to the
// ledger; Rollback removes exactly what the ledger names. Nothing is selected
// by creation time, so concurrent edits by other runs or users are never
// touched.
package persist
