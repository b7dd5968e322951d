// Package procrun launches external tools (ffmpeg, ffprobe, python helper
// scripts) for background jobs.
//
// A command runs in its own process group so a timeout, a cancelled context
// or a failing poll tick kills the tool together with any children it
// spawned. Output is captured line by line; callers can observe lines as they
// arrive and still receive the full streams in the Result. Failures are
// reported as *Error values whose Kind maps onto the services error markers.
//
// Workspace scopes the temporary files of one job run and is removed when the
// run ends, whatever the outcome.
package procrun
