package daemonrun_test

import (
	"context"
	"testing"
	"time"

	"rythmo/internal/api"
	"rythmo/internal/daemon"
	"rythmo/internal/daemonctl"
	"rythmo/internal/daemonrun"
	"rythmo/internal/testsupport"
)

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Translation.Enabled = false
	cfg.DialogueExtraction.Enabled = false
	cfg.Instrumental.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan daemon.Status, 1)
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			LogLevel: "error",
			Ready:    func(status daemon.Status) { ready <- status },
		})
	}()

	var status daemon.Status
	select {
	case status = <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	pid, err := daemonctl.ReadPID(cfg.PIDPath())
	if err != nil || pid != status.PID {
		t.Fatalf("pid file = %d, %v; want %d", pid, err, status.PID)
	}
	client, err := api.NewClient(status.APIAddress, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	caps, err := client.Capabilities(ctx)
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if !caps.Features["scene-detection"] || caps.Features["translation"] {
		t.Fatalf("unexpected capabilities %+v", caps)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(40 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, err := daemonctl.ReadPID(cfg.PIDPath()); err == nil {
		t.Fatal("expected pid file removed on exit")
	}
}
