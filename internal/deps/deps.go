package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rythmo/internal/config"
)

// Requirement defines an external dependency rythmo relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// Script marks a helper file that is run through the interpreter rather
	// than resolved on PATH.
	Script bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case req.Script:
			info, err := os.Stat(cmd)
			switch {
			case err != nil:
				status.Detail = fmt.Sprintf("script %q not found", cmd)
			case info.IsDir():
				status.Detail = fmt.Sprintf("script %q is a directory", cmd)
			default:
				status.Available = true
			}
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Requirements lists the tools the enabled pipelines need.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{
		{Name: "FFmpeg", Command: cfg.Tools.FFmpeg, Description: "Scene detection and audio extraction"},
		{Name: "FFprobe", Command: cfg.Tools.FFprobe, Description: "Media probing", Optional: true},
	}
	needPython := cfg.DialogueExtraction.Enabled || cfg.Instrumental.Enabled ||
		(cfg.Translation.Enabled && cfg.Translation.Provider == config.ProviderNLLB)
	if needPython {
		reqs = append(reqs, Requirement{Name: "Python", Command: cfg.Tools.Python, Description: "Runs helper scripts"})
	}
	if cfg.DialogueExtraction.Enabled {
		reqs = append(reqs, Requirement{
			Name:        "Whisper script",
			Command:     cfg.ScriptPath(cfg.DialogueExtraction.Script),
			Description: "Transcription and diarization",
			Script:      true,
		})
	}
	if cfg.Translation.Enabled && cfg.Translation.Provider == config.ProviderNLLB {
		reqs = append(reqs, Requirement{
			Name:        "NLLB script",
			Command:     cfg.ScriptPath(cfg.Translation.Script),
			Description: "Batch translation",
			Script:      true,
		})
	}
	if cfg.Instrumental.Enabled {
		reqs = append(reqs, Requirement{
			Name:        "Demucs script",
			Command:     cfg.ScriptPath(cfg.Instrumental.Script),
			Description: "Source separation",
			Script:      true,
		})
	}
	return reqs
}

// Checker caches dependency checks so frequent health polls do not hit the
// filesystem on every request. Concurrent callers share one evaluation.
type Checker struct {
	requirements []Requirement
	ttl          time.Duration
	now          func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	cached  []Status
	checked time.Time
}

// NewChecker builds a Checker whose results stay valid for ttl.
func NewChecker(requirements []Requirement, ttl time.Duration) *Checker {
	return &Checker{requirements: requirements, ttl: ttl, now: time.Now}
}

// Check returns the cached statuses or evaluates the requirements again.
func (c *Checker) Check(ctx context.Context) []Status {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.checked) < c.ttl {
		out := append([]Status(nil), c.cached...)
		c.mu.Unlock()
		return out
	}
	c.mu.Unlock()

	ch := c.group.DoChan("check", func() (any, error) {
		results := CheckBinaries(c.requirements)
		c.mu.Lock()
		c.cached = results
		c.checked = c.now()
		c.mu.Unlock()
		return results, nil
	})
	select {
	case res := <-ch:
		return append([]Status(nil), res.Val.([]Status)...)
	case <-ctx.Done():
		return nil
	}
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
