package demucs_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/services/demucs"
	"rythmo/internal/testsupport"
)

func TestSeparateWritesOutput(t *testing.T) {
	dir := t.TempDir()
	python := testsupport.WriteScript(t, filepath.Join(dir, "python3"), `
sleep 0.2
printf 'RIFFDATA' > "$3"
`)
	svc := demucs.NewService(demucs.Config{Python: python, Script: "separate.py"}, procrun.New(nil))

	ticks := 0
	size, err := svc.Separate(context.Background(), filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav"),
		20*time.Millisecond, func(time.Duration) error {
			ticks++
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, int64(8), size)
	require.Positive(t, ticks)
	require.Equal(t, []string{"separate.py", "a", "b", "--model", "htdemucs"}, svc.Args("a", "b"))
}

func TestSeparateRejectsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	python := testsupport.WriteScript(t, filepath.Join(dir, "python3"), `: > "$3"`)
	svc := demucs.NewService(demucs.Config{Python: python, Script: "separate.py"}, procrun.New(nil))

	_, err := svc.Separate(context.Background(), filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav"), 0, nil)
	require.True(t, errors.Is(err, services.ErrMalformedOutput), "got %v", err)
}

func TestSeparateMissingOutput(t *testing.T) {
	dir := t.TempDir()
	python := testsupport.WriteScript(t, filepath.Join(dir, "python3"), `exit 0`)
	svc := demucs.NewService(demucs.Config{Python: python, Script: "separate.py"}, procrun.New(nil))

	_, err := svc.Separate(context.Background(), filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav"), 0, nil)
	require.ErrorIs(t, err, services.ErrMalformedOutput)
}
