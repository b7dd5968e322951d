package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rythmo/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
	if result := CheckReadableDirectory("test", f); result.Passed {
		t.Fatal("expected readable check to reject a file")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAll_LocalStorage(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.LogDir = ""
	cfg.Paths.VideoDir = filepath.Join(base, "videos")
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalDir = filepath.Join(base, "blobs")
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ScratchDir, cfg.Paths.VideoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	results := RunAll(&cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 checks, got %d: %v", len(results), results)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Blob directory" {
		t.Fatalf("expected only the blob directory to fail, got %v", failed)
	}

	if err := os.Remove(cfg.Paths.VideoDir); err != nil {
		t.Fatal(err)
	}
	results = RunAll(&cfg)
	if len(Failed(results)) != 1 {
		t.Fatalf("a missing video directory must not be a required failure: %v", results)
	}
	for _, result := range results {
		if result.Name == "Video directory" && (result.Passed || !result.Optional) {
			t.Fatalf("expected optional failing video check, got %v", result)
		}
	}
}

type checkFunc func(context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func TestCheckRemote(t *testing.T) {
	ok := CheckRemote(context.Background(), "Blob store", checkFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %v", ok)
	}

	bad := CheckRemote(context.Background(), "Blob store", checkFunc(func(context.Context) error {
		return errors.New("bucket missing")
	}))
	if bad.Passed || bad.Detail != "bucket missing" {
		t.Fatalf("unexpected result %v", bad)
	}

	slow := CheckRemote(context.Background(), "Blob store", checkFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	if slow.Passed || slow.Detail != "check timed out" {
		t.Fatalf("unexpected result %v", slow)
	}

	if missing := CheckRemote(context.Background(), "Blob store", nil); missing.Passed {
		t.Fatal("expected nil checker to fail")
	}
}
