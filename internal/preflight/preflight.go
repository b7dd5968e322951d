package preflight

import (
	"context"
	"strings"

	"rythmo/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
	// Optional checks are reported but never block the daemon.
	Optional bool `json:"optional,omitempty"`
}

// Checker is implemented by remote dependencies that can report reachability,
// such as the blob store.
type Checker interface {
	Check(ctx context.Context) error
}

// RunAll executes the directory checks for the given config. The video
// directory only needs to be readable and is optional, since projects may
// reference absolute paths; the others must be writable.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
	}
	if strings.TrimSpace(cfg.Paths.LogDir) != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if strings.TrimSpace(cfg.Paths.VideoDir) != "" {
		video := CheckReadableDirectory("Video directory", cfg.Paths.VideoDir)
		video.Optional = true
		results = append(results, video)
	}
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Blob directory", cfg.Storage.LocalDir))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			out = append(out, result)
		}
	}
	return out
}
