package scenes_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/procrun"
	"rythmo/internal/scenes"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

const fakeFFmpeg = `
echo "[Parsed_showinfo_2 @ 0x1] n:0 pts:1 pts_time:4.2" >&2
echo "[Parsed_showinfo_2 @ 0x1] n:1 pts:2 pts_time:1.5" >&2
echo "[Parsed_showinfo_2 @ 0x1] n:2 pts:3 pts_time:4.2" >&2
echo "[Parsed_showinfo_2 @ 0x1] n:3 pts:4 pts_time:9.75" >&2
`

func setup(t *testing.T, ffmpegBody string) (*config.Config, *store.Store, *store.Project, *scenes.Handler) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin")
	cfg.Tools.FFmpeg = testsupport.WriteScript(t, filepath.Join(bin, "ffmpeg"), ffmpegBody)
	cfg.Tools.FFprobe = testsupport.WriteScript(t, filepath.Join(bin, "ffprobe"), `echo '{"format":{"duration":"12.0"}}'`)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.VideoDir, "clip.mp4"), 128)

	st := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, st, "Pilot", "clip.mp4", 2)
	handler := scenes.New(cfg, procrun.New(logging.NewNop()), logging.NewNop())
	return cfg, st, project, handler
}

func TestPrepareDefaultsAndValidation(t *testing.T) {
	_, _, project, handler := setup(t, "exit 0")
	ctx := context.Background()

	params, err := handler.Prepare(ctx, project, nil)
	require.NoError(t, err)
	assert.Equal(t, scenes.Params{Threshold: 0.4, FPS: 2}, params)

	params, err = handler.Prepare(ctx, project, json.RawMessage(`{"threshold": 0.25, "fps": 10}`))
	require.NoError(t, err)
	assert.Equal(t, scenes.Params{Threshold: 0.25, FPS: 10}, params)

	for _, body := range []string{`{"threshold": 0.05}`, `{"threshold": 1.5}`, `{"fps": 0.5}`, `{"fps": 60}`} {
		_, err := handler.Prepare(ctx, project, json.RawMessage(body))
		assert.True(t, errors.Is(err, services.ErrValidation), "body %s: %v", body, err)
	}

	_, err = handler.Prepare(ctx, &store.Project{ID: project.ID, Name: "NoVideo"}, nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)
}

func TestPlanIsValid(t *testing.T) {
	_, _, _, handler := setup(t, "exit 0")
	require.NoError(t, handler.Plan().Validate())
	assert.Equal(t, store.FeatureSceneDetection, handler.Feature())
}

func TestExecuteStoresDeduplicatedScenes(t *testing.T) {
	cfg, st, project, handler := setup(t, fakeFFmpeg)
	ctx := context.Background()

	run, reporter, _ := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})
	message, err := handler.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "3 scene change(s) detected", message)

	changes, err := st.ListSceneChanges(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, []float64{1.5, 4.2, 9.75}, []float64{changes[0].Timecode, changes[1].Timecode, changes[2].Timecode})
	for _, change := range changes {
		assert.Equal(t, run.ID, change.RunID)
	}

	percents := reporter.Percents()
	require.NotEmpty(t, percents)
	assert.Equal(t, 0, percents[0])
	assert.Equal(t, 70, percents[len(percents)-1])
	assert.Equal(t, 3, run.Ledger.Summary().SceneChanges)
}

func TestExecuteSkipsExistingScenes(t *testing.T) {
	cfg, st, project, handler := setup(t, fakeFFmpeg)
	ctx := context.Background()

	first, _, _ := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})
	_, err := handler.Execute(ctx, first)
	require.NoError(t, err)

	second, _, _ := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})
	message, err := handler.Execute(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "No scene change detected", message)
	assert.True(t, second.Ledger.Summary().Empty())

	counts, err := st.Counts(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.SceneChanges)
}

func TestExecuteNoScenes(t *testing.T) {
	cfg, st, project, handler := setup(t, "echo 'frame=10 fps=0.0' >&2")
	run, _, _ := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})

	message, err := handler.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "No scene change detected", message)
}

func TestExecuteFailsOnFFmpegError(t *testing.T) {
	cfg, st, project, handler := setup(t, "echo 'Invalid data found when processing input' >&2\nexit 183")
	run, _, _ := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})

	_, err := handler.Execute(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNonZeroExit)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Equal(t, services.FailureFatal, services.Classify(err))
}

func TestExecuteStopsWhenCancelled(t *testing.T) {
	cfg, st, project, handler := setup(t, fakeFFmpeg)
	run, _, checker := testsupport.NewRun(t, cfg, st, project, handler.Feature(), scenes.Params{Threshold: 0.4, FPS: 2})
	checker.CancelAfter = 2

	_, err := handler.Execute(context.Background(), run)
	require.ErrorIs(t, err, services.ErrCancelled)

	counts, err := st.Counts(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Zero(t, counts.SceneChanges)
}
