package procrun

import (
	"fmt"
	"strings"

	"rythmo/internal/services"
)

// Kind classifies a process failure.
type Kind string

const (
	KindSpawnFailed Kind = "spawn_failed"
	KindNonZeroExit Kind = "non_zero_exit"
	KindTimeout     Kind = "timeout"
	KindCancelled   Kind = "cancelled"
)

// stderrTailLimit bounds how much stderr is attached to an error message.
const stderrTailLimit = 4096

// Error describes why a command did not succeed.
type Error struct {
	Kind     Kind
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindSpawnFailed:
		fmt.Fprintf(&b, "%s could not be started", e.Command)
	case KindNonZeroExit:
		fmt.Fprintf(&b, "%s failed (code %d)", e.Command, e.ExitCode)
	case KindTimeout:
		fmt.Fprintf(&b, "%s timed out", e.Command)
	case KindCancelled:
		fmt.Fprintf(&b, "%s cancelled", e.Command)
	default:
		fmt.Fprintf(&b, "%s failed", e.Command)
	}
	if e.Err != nil && e.Kind != KindNonZeroExit {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		fmt.Fprintf(&b, ": %s", tail)
	}
	return b.String()
}

// Unwrap exposes both the services marker and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.marker()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) marker() error {
	switch e.Kind {
	case KindSpawnFailed:
		return services.ErrSpawnFailed
	case KindNonZeroExit:
		return services.ErrNonZeroExit
	case KindTimeout:
		return services.ErrTimeout
	case KindCancelled:
		return services.ErrCancelled
	default:
		return services.ErrExternalTool
	}
}

func tail(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	cut := value[len(value)-limit:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return "..." + cut
}
