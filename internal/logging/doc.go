// Package logging assembles the structured slog loggers used across rythmo.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code tags every
// line with the project, feature, stage and run it belongs to. A no-op logger
// is provided for tests and for wiring code that must not fail.
package logging
