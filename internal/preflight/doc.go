// Package preflight provides readiness checks for the filesystem paths and
// remote stores rythmo depends on.
//
// The daemon runs RunAll once at startup and refuses to serve when a writable
// directory is unusable. The /api/health endpoint repeats the checks together
// with a CheckRemote probe of the blob store so operators see a broken mount
// or an unreachable bucket before a job fails on it.
package preflight
