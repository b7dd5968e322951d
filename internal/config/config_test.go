package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rythmo/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("HF_TOKEN", "hf-env")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".local", "share", "rythmo"); cfg.Paths.DataDir != want {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, want)
	}
	if cfg.API.Bind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.DialogueExtraction.HuggingFaceToken != "hf-env" {
		t.Fatalf("expected HF token from env, got %q", cfg.DialogueExtraction.HuggingFaceToken)
	}
	if cfg.SceneDetection.DefaultThreshold != 0.4 || cfg.SceneDetection.DefaultFPS != 2 {
		t.Fatalf("unexpected scene defaults: %+v", cfg.SceneDetection)
	}
	if cfg.Translation.Provider != config.ProviderNLLB {
		t.Fatalf("unexpected provider: %q", cfg.Translation.Provider)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ScratchDir, cfg.Paths.LogDir, cfg.Storage.LocalDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "rythmo.toml")
	content := `
[workflow]
heartbeat_interval = 20
heartbeat_timeout = 200
reconcile_schedule = "*/5 * * * *"

[translation]
provider = "MyMemory"
pacing_ms = 250

[dialogue_extraction]
default_model = "Small"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Workflow.HeartbeatInterval != 20 || cfg.Workflow.HeartbeatTimeout != 200 {
		t.Fatalf("unexpected workflow config: %+v", cfg.Workflow)
	}
	if cfg.Translation.Provider != config.ProviderMyMemory {
		t.Fatalf("expected provider to be lower-cased, got %q", cfg.Translation.Provider)
	}
	if config.Millis(cfg.Translation.PacingMS) != 250*time.Millisecond {
		t.Fatalf("unexpected pacing: %d", cfg.Translation.PacingMS)
	}
	if cfg.DialogueExtraction.DefaultModel != "small" {
		t.Fatalf("expected model to be lower-cased, got %q", cfg.DialogueExtraction.DefaultModel)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "rythmo.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nstaging_dir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"threshold", func(c *config.Config) { c.SceneDetection.DefaultThreshold = 1.5 }, "scene_detection.default_threshold"},
		{"fps", func(c *config.Config) { c.SceneDetection.DefaultFPS = 0 }, "scene_detection.default_fps"},
		{"speakers", func(c *config.Config) { c.DialogueExtraction.DefaultMaxSpeakers = 30 }, "dialogue_extraction.default_max_speakers"},
		{"model", func(c *config.Config) { c.DialogueExtraction.DefaultModel = "huge" }, "dialogue_extraction.default_model"},
		{"provider", func(c *config.Config) { c.Translation.Provider = "google" }, "translation.provider"},
		{"nllb size", func(c *config.Config) { c.Translation.ModelSize = "7B" }, "translation.model_size"},
		{"heartbeat", func(c *config.Config) { c.Workflow.HeartbeatTimeout = 5 }, "workflow.heartbeat_timeout"},
		{"schedule", func(c *config.Config) { c.Workflow.ReconcileSchedule = "every minute" }, "workflow.reconcile_schedule"},
		{"minio", func(c *config.Config) { c.Storage.Backend = config.StorageMinIO }, "storage.minio"},
		{"redis", func(c *config.Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.ScratchDir = t.TempDir()
			cfg.Storage.LocalDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestDisabledPipelinesSkipValidation(t *testing.T) {
	cfg := config.Default()
	cfg.DialogueExtraction.Enabled = false
	cfg.DialogueExtraction.Script = ""
	cfg.Instrumental.Enabled = false
	cfg.Instrumental.Script = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MINIO_ACCESS_KEY", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Instrumental.Model != "htdemucs" {
		t.Fatalf("unexpected instrumental model %q", cfg.Instrumental.Model)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.ScriptsDir = "/opt/scripts"
	cfg.Paths.VideoDir = "/srv/videos"
	if got := cfg.ScriptPath("extract_dialogues.py"); got != "/opt/scripts/extract_dialogues.py" {
		t.Fatalf("unexpected script path %q", got)
	}
	if got := cfg.ScriptPath("/usr/local/bin/sep.py"); got != "/usr/local/bin/sep.py" {
		t.Fatalf("absolute script path should be kept, got %q", got)
	}
	if got := cfg.VideoPath("clip.mp4"); got != "/srv/videos/clip.mp4" {
		t.Fatalf("unexpected video path %q", got)
	}
	if got := cfg.VideoPath(""); got != "" {
		t.Fatalf("expected empty video path, got %q", got)
	}
}
