// Package nllb runs the NLLB-200 batch translation script.
//
// Texts are written as a JSON array to a batch file in the job workspace; the
// script writes {"success": bool, "translations": [...], "error": "..."} to
// the output file. Translations are matched to inputs by index.
package nllb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"rythmo/internal/procrun"
	"rythmo/internal/services"
)

// ModelSizes lists the checkpoints the script accepts.
var ModelSizes = []string{"600M", "1.3B", "3.3B"}

// Config captures runtime settings for the batch script.
type Config struct {
	Python    string
	Script    string
	ModelSize string
	Timeout   time.Duration
}

// Request is one batch translation.
type Request struct {
	Source string
	Target string
	Texts  []string
	// Context is optional free text about the material, passed as --context.
	Context string
	// WorkDir receives the batch and output files.
	WorkDir string
}

// Service invokes the batch script.
type Service struct {
	cfg    Config
	runner *procrun.Runner
}

// NewService creates a batch translation service.
func NewService(cfg Config, runner *procrun.Runner) (*Service, error) {
	if strings.TrimSpace(cfg.Python) == "" {
		cfg.Python = "python3"
	}
	if cfg.ModelSize == "" {
		cfg.ModelSize = ModelSizes[0]
	}
	if !slices.Contains(ModelSizes, cfg.ModelSize) {
		return nil, fmt.Errorf("%w: unsupported nllb model size %q", services.ErrConfiguration, cfg.ModelSize)
	}
	return &Service{cfg: cfg, runner: runner}, nil
}

// Args returns the interpreter arguments for a batch.
func (s *Service) Args(req Request, batchFile, outputFile string) []string {
	args := []string{
		s.cfg.Script,
		"--source", req.Source,
		"--target", req.Target,
		"--batch-file", batchFile,
		"--output", outputFile,
		"--model-size", s.cfg.ModelSize,
	}
	if text := strings.TrimSpace(req.Context); text != "" {
		args = append(args, "--context", text)
	}
	return args
}

// Translate runs one batch. The returned slice has one entry per translation
// the script produced; a null entry comes back as the empty string.
func (s *Service) Translate(ctx context.Context, req Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(req.WorkDir) == "" {
		return nil, errors.New("nllb: work directory required")
	}
	batchFile := filepath.Join(req.WorkDir, "nllb_batch.json")
	outputFile := filepath.Join(req.WorkDir, "nllb_output.json")
	payload, err := json.Marshal(req.Texts)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	if err := os.WriteFile(batchFile, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write batch file: %w", err)
	}
	defer os.Remove(batchFile)
	defer os.Remove(outputFile)

	if _, err := s.runner.Run(ctx, procrun.Command{
		Name:    s.cfg.Python,
		Args:    s.Args(req, batchFile, outputFile),
		Timeout: s.cfg.Timeout,
	}); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outputFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: nllb output file was not created", services.ErrMalformedOutput)
	}
	if err != nil {
		return nil, fmt.Errorf("read nllb output: %w", err)
	}
	return ParseOutput(data)
}

type rawOutput struct {
	Success      *bool     `json:"success"`
	Error        string    `json:"error"`
	Translations []*string `json:"translations"`
}

// ParseOutput validates and decodes the script's output file.
func ParseOutput(data []byte) ([]string, error) {
	var raw rawOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode nllb output: %w", services.ErrMalformedOutput, err)
	}
	if raw.Success == nil {
		return nil, fmt.Errorf("%w: nllb output has no success field", services.ErrMalformedOutput)
	}
	if !*raw.Success {
		reason := strings.TrimSpace(raw.Error)
		if reason == "" {
			reason = "unknown error"
		}
		return nil, fmt.Errorf("%w: nllb batch translation failed: %s", services.ErrExternalTool, reason)
	}
	out := make([]string, len(raw.Translations))
	for i, text := range raw.Translations {
		if text != nil {
			out[i] = *text
		}
	}
	return out, nil
}
