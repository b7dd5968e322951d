// Package demucs runs the source separation script that removes vocals from
// an extracted audio track.
//
// The script contract is positional: python3 <script> <in.wav> <out.wav>
// --model <name>. Success means exit code 0 and a non-empty output file.
package demucs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/services/toolenv"
)

// DefaultModel is the hybrid transformer checkpoint.
const DefaultModel = "htdemucs"

// Config captures runtime settings for the separation script.
type Config struct {
	Python  string
	Script  string
	Model   string
	EnvFile string
	Timeout time.Duration
}

// Service invokes the separation script.
type Service struct {
	cfg    Config
	runner *procrun.Runner
}

// NewService creates a separation service.
func NewService(cfg Config, runner *procrun.Runner) *Service {
	if strings.TrimSpace(cfg.Python) == "" {
		cfg.Python = "python3"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &Service{cfg: cfg, runner: runner}
}

// Args returns the interpreter arguments.
func (s *Service) Args(input, output string) []string {
	return []string{s.cfg.Script, input, output, "--model", s.cfg.Model}
}

// Separate writes the instrumental stem of input to output, calling onTick
// every interval while the model runs. It returns the output size.
func (s *Service) Separate(ctx context.Context, input, output string, interval time.Duration, onTick procrun.TickFunc) (int64, error) {
	env, err := toolenv.Build(s.cfg.EnvFile, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	if _, err := s.runner.RunWithPolling(ctx, procrun.Command{
		Name:    s.cfg.Python,
		Args:    s.Args(input, output),
		Env:     env,
		Timeout: s.cfg.Timeout,
	}, interval, onTick); err != nil {
		return 0, err
	}
	info, err := os.Stat(output)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: separation produced no output file", services.ErrMalformedOutput)
	}
	if err != nil {
		return 0, fmt.Errorf("stat separation output: %w", err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: separation produced an empty file", services.ErrMalformedOutput)
	}
	return info.Size(), nil
}
