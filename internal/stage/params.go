package stage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"rythmo/internal/config"
	"rythmo/internal/services"
	"rythmo/internal/store"
)

// DecodeParams decodes a start request body into dst, which should already
// hold the defaults. Empty bodies and null keep the defaults. Unknown fields
// are rejected.
func DecodeParams(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid parameters: %w", services.ErrValidation, err)
	}
	return nil
}

// VideoFile resolves the project's video and checks it is a readable file.
func VideoFile(cfg *config.Config, project *store.Project) (string, error) {
	if project == nil || strings.TrimSpace(project.VideoPath) == "" {
		return "", fmt.Errorf("%w: project has no video", services.ErrPrecondition)
	}
	path := cfg.VideoPath(project.VideoPath)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: video file not found: %s", services.ErrPrecondition, project.VideoPath)
	}
	if err != nil {
		return "", fmt.Errorf("%w: video file unreadable: %w", services.ErrPrecondition, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: video path is a directory: %s", services.ErrPrecondition, project.VideoPath)
	}
	return path, nil
}
