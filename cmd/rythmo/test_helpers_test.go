package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"rythmo/internal/config"
	"rythmo/internal/daemon"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

var markStage = stage.Definition{Name: "mark", Low: 0, High: 100, Failure: services.FailureFatal}

// sceneStub records one scene change and completes.
type sceneStub struct{}

func (sceneStub) Feature() store.Feature { return store.FeatureSceneDetection }
func (sceneStub) Plan() stage.Plan      { return stage.Plan{markStage} }
func (sceneStub) Prepare(context.Context, *store.Project, json.RawMessage) (any, error) {
	return nil, nil
}
func (sceneStub) Execute(ctx context.Context, run *stage.Run) (string, error) {
	if err := run.Enter(ctx, markStage, "Marking"); err != nil {
		return "", err
	}
	if err := run.Commit(ctx, func(w *persist.Writer) error {
		_, err := w.AddSceneChange(ctx, 1.25)
		return err
	}); err != nil {
		return "", err
	}
	return "1 scene change(s) detected", nil
}
func (sceneStub) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("scene detection")
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	addr       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "rythmo", "config.toml")
	writeTestConfig(t, configPath, cfg)

	d, err := daemon.New(cfg, logging.NewNop(), daemon.WithHandlers(sceneStub{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		addr:       d.Status().APIAddress,
		configPath: configPath,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, args, e.addr, e.configPath)
	return out, err
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if addr != "" {
		flags = append(flags, "--addr", addr)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
