package whisper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/services/toolenv"
)

// Request describes one transcription run.
type Request struct {
	Video       string
	Output      string
	Model       string
	Language    string
	MaxSpeakers int
}

// Service invokes the transcription script.
type Service struct {
	cfg    Config
	runner *procrun.Runner
}

// NewService creates a transcription service.
func NewService(cfg Config, runner *procrun.Runner) *Service {
	if strings.TrimSpace(cfg.Python) == "" {
		cfg.Python = "python3"
	}
	if strings.TrimSpace(cfg.DiarizationMethod) == "" {
		cfg.DiarizationMethod = DefaultDiarizationMethod
	}
	return &Service{cfg: cfg, runner: runner}
}

// Args returns the interpreter arguments for req.
func (s *Service) Args(req Request) []string {
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = AutoLanguage
	}
	return []string{
		s.cfg.Script,
		req.Video,
		req.Output,
		"--model", req.Model,
		"--language", language,
		"--max-speakers", strconv.Itoa(req.MaxSpeakers),
	}
}

// Transcribe runs the script, calling onTick every interval while it works,
// then parses the result file.
func (s *Service) Transcribe(ctx context.Context, req Request, interval time.Duration, onTick procrun.TickFunc) (Output, error) {
	env, err := toolenv.Build(s.cfg.EnvFile, map[string]string{
		"AI_DIARIZATION_METHOD": s.cfg.DiarizationMethod,
		"HF_TOKEN":              s.cfg.HFToken,
	})
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	if _, err := s.runner.RunWithPolling(ctx, procrun.Command{
		Name:    s.cfg.Python,
		Args:    s.Args(req),
		Env:     env,
		Timeout: s.cfg.Timeout,
	}, interval, onTick); err != nil {
		return Output{}, err
	}

	data, err := os.ReadFile(req.Output)
	if errors.Is(err, fs.ErrNotExist) {
		return Output{}, fmt.Errorf("%w: transcription result file was not created", services.ErrMalformedOutput)
	}
	if err != nil {
		return Output{}, fmt.Errorf("read transcription result: %w", err)
	}
	return ParseOutput(data)
}
