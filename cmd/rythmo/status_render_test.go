package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"rythmo/internal/deps"
	"rythmo/internal/preflight"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Rythmo", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Rythmo:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Rythmo", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	statuses := []deps.Status{
		{Name: "FFmpeg", Available: false},
		{Name: "Python", Available: true, Command: "python3"},
		{Name: "FFprobe", Available: false, Optional: true, Detail: "not found on PATH"},
	}
	lines := dependencyLines(statuses, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("expected error detail in second line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (command: python3)") {
		t.Fatalf("expected ready detail in third line, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] not found on PATH") {
		t.Fatalf("expected warn detail in fourth line, got %q", lines[3])
	}
	if !strings.Contains(lines[4], "FFmpeg, FFprobe") {
		t.Fatalf("expected missing dependencies summary, got %q", lines[4])
	}
}

func TestCheckLinesOptional(t *testing.T) {
	lines := checkLines([]preflight.Result{
		{Name: "Data directory", Passed: true, Detail: "read/write ok"},
		{Name: "Video directory", Detail: "missing", Optional: true},
		{Name: "Scratch directory", Detail: "missing"},
	}, false)
	if !strings.Contains(lines[0], "[OK]") || !strings.Contains(lines[1], "[WARN]") || !strings.Contains(lines[2], "[ERROR]") {
		t.Fatalf("unexpected check lines %q", lines)
	}
}

func TestRenderJobTable(t *testing.T) {
	out := renderJobTable([]workflow.JobStatus{
		{Feature: store.FeatureSceneDetection, Status: store.StatusProcessing, Progress: 40, Estimated: true, Message: "Detecting"},
		{Feature: store.FeatureTranslation, Status: store.StatusFailed, Progress: 55, Message: "Failed", Error: "ffmpeg exited 1"},
		{Feature: store.FeatureInstrumental, Status: store.StatusProcessing, Progress: 10, Stale: true},
	}, false)
	for _, want := range []string{"~40%", "ffmpeg exited 1", "processing (stale)", "Translation"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
