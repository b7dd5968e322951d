package stage

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"rythmo/internal/services"
)

// Definition is one named stage and the progress window it reports within.
type Definition struct {
	Name    string
	Low     int
	High    int
	Failure services.FailureMode
}

// Scale maps a fraction of the stage's work onto its window.
func (d Definition) Scale(fraction float64) int {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return d.Low + int(math.Round(float64(d.High-d.Low)*fraction))
}

// Clamp bounds an absolute percentage to the stage's window.
func (d Definition) Clamp(percent int) int {
	return min(max(percent, d.Low), d.High)
}

// Wrap prefixes err with the stage name and operation. A nil marker keeps
// whatever classification err already carries.
func (d Definition) Wrap(marker error, operation, message string, err error) error {
	if marker != nil {
		return services.Wrap(marker, d.Name, operation, message, err)
	}
	prefix := d.Name
	for _, part := range []string{operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			prefix += ": " + part
		}
	}
	if err == nil {
		return errors.New(prefix)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// Plan is an ordered list of stages.
type Plan []Definition

// Validate checks that windows stay within 0..100, ascend and do not overlap.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return errors.New("plan has no stages")
	}
	prevHigh := 0
	for i, def := range p {
		if def.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if def.Low < 0 || def.High > 100 || def.Low > def.High {
			return fmt.Errorf("stage %q has invalid window %d-%d", def.Name, def.Low, def.High)
		}
		if def.Low < prevHigh {
			return fmt.Errorf("stage %q window %d-%d overlaps previous stage", def.Name, def.Low, def.High)
		}
		switch def.Failure {
		case services.FailureFatal, services.FailureRetryable:
		default:
			return fmt.Errorf("stage %q has unknown failure mode %q", def.Name, def.Failure)
		}
		prevHigh = def.High
	}
	return nil
}
