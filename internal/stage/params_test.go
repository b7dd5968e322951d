package stage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

func TestDecodeParams(t *testing.T) {
	type params struct {
		Threshold float64 `json:"threshold"`
		FPS       float64 `json:"fps"`
	}
	p := params{Threshold: 0.4, FPS: 2}
	if err := stage.DecodeParams(nil, &p); err != nil || p.Threshold != 0.4 {
		t.Fatalf("empty body changed defaults: %+v %v", p, err)
	}
	if err := stage.DecodeParams([]byte(" null "), &p); err != nil || p.FPS != 2 {
		t.Fatalf("null body changed defaults: %+v %v", p, err)
	}
	if err := stage.DecodeParams([]byte(`{"fps": 5}`), &p); err != nil || p.FPS != 5 || p.Threshold != 0.4 {
		t.Fatalf("partial body: %+v %v", p, err)
	}
	if err := stage.DecodeParams([]byte(`{"speed": 5}`), &p); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
	if err := stage.DecodeParams([]byte(`{"fps": "fast"}`), &p); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for wrong type, got %v", err)
	}
}

func TestVideoFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.VideoDir, "clip.mp4"), 64)

	path, err := stage.VideoFile(cfg, &store.Project{VideoPath: "clip.mp4"})
	if err != nil {
		t.Fatalf("VideoFile returned error: %v", err)
	}
	if path != filepath.Join(cfg.Paths.VideoDir, "clip.mp4") {
		t.Fatalf("unexpected path %s", path)
	}

	for _, project := range []*store.Project{{}, {VideoPath: "missing.mp4"}, {VideoPath: cfg.Paths.VideoDir}} {
		if _, err := stage.VideoFile(cfg, project); !errors.Is(err, services.ErrPrecondition) {
			t.Fatalf("expected precondition error for %+v, got %v", project, err)
		}
	}
}
