package instrumental_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/config"
	"rythmo/internal/instrumental"
	"rythmo/internal/logging"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

const (
	probeWithAudio  = `{"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio"}],"format":{"duration":"60.0"}}`
	probeVideoOnly  = `{"streams":[{"index":0,"codec_type":"video"}],"format":{"duration":"60.0"}}`
	writeLastArg    = "for a in \"$@\"; do last=\"$a\"; done\nprintf 'RIFFaudio' > \"$last\""
	separateToThird = "sleep 0.1\nprintf 'RIFFstem' > \"$3\""
)

type fixture struct {
	cfg     *config.Config
	st      *store.Store
	project *store.Project
	handler *instrumental.Handler
}

func newFixture(t *testing.T, probe, separate string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin")
	cfg.Tools.FFmpeg = testsupport.WriteScript(t, filepath.Join(bin, "ffmpeg"), writeLastArg)
	cfg.Tools.FFprobe = testsupport.WriteScript(t, filepath.Join(bin, "ffprobe"), "echo '"+probe+"'")
	cfg.Tools.Python = testsupport.WriteScript(t, filepath.Join(bin, "python3"), separate)
	testsupport.WriteFile(t, cfg.ScriptPath(cfg.Instrumental.Script), 16)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.VideoDir, "clip.mp4"), 128)

	st := testsupport.MustOpenStore(t, cfg)
	return fixture{
		cfg:     cfg,
		st:      st,
		project: testsupport.NewProject(t, st, "Pilot", "clip.mp4", 1),
		handler: instrumental.New(cfg, procrun.New(logging.NewNop()), logging.NewNop()),
	}
}

func TestPrepare(t *testing.T) {
	f := newFixture(t, probeWithAudio, separateToThird)
	ctx := context.Background()

	params, err := f.handler.Prepare(ctx, f.project, nil)
	require.NoError(t, err)
	assert.Equal(t, instrumental.Params{}, params)

	_, err = f.handler.Prepare(ctx, f.project, json.RawMessage(`{"model": "other"}`))
	assert.ErrorIs(t, err, services.ErrValidation)

	bare := testsupport.NewProject(t, f.st, "No video", "", 1)
	_, err = f.handler.Prepare(ctx, bare, nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)
}

func TestExecuteStoresTrack(t *testing.T) {
	f := newFixture(t, probeWithAudio, separateToThird)
	ctx := context.Background()

	run, reporter, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	message, err := f.handler.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "Instrumental track extracted", message)

	key := instrumental.BlobKey(f.project.ID, run.ID)
	data, err := os.ReadFile(filepath.Join(f.cfg.Storage.LocalDir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "RIFFstem", string(data))

	project, err := f.st.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, key, project.InstrumentalPath)
	assert.Equal(t, 1, run.Ledger.Summary().Blobs)

	percents := reporter.Percents()
	assert.Equal(t, []int{0, 10, 30}, percents[:3])
	assert.Equal(t, 85, percents[len(percents)-1])
}

func TestRollbackRemovesTrackAndRestoresField(t *testing.T) {
	f := newFixture(t, probeWithAudio, separateToThird)
	ctx := context.Background()

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	_, err := f.handler.Execute(ctx, run)
	require.NoError(t, err)

	require.NoError(t, run.Persister.Rollback(ctx, run.Ledger))
	key := instrumental.BlobKey(f.project.ID, run.ID)
	_, err = os.Stat(filepath.Join(f.cfg.Storage.LocalDir, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err), "blob should be gone: %v", err)

	project, err := f.st.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, project.InstrumentalPath)
}

func TestFinalizeDropsReplacedTrack(t *testing.T) {
	f := newFixture(t, probeWithAudio, separateToThird)
	ctx := context.Background()

	first, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	_, err := f.handler.Execute(ctx, first)
	require.NoError(t, err)
	require.NoError(t, f.handler.Finalize(ctx, first))
	firstPath := filepath.Join(f.cfg.Storage.LocalDir, filepath.FromSlash(instrumental.BlobKey(f.project.ID, first.ID)))
	require.FileExists(t, firstPath)

	second, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	_, err = f.handler.Execute(ctx, second)
	require.NoError(t, err)
	require.NoError(t, f.handler.Finalize(ctx, second))

	assert.NoFileExists(t, firstPath)
	assert.FileExists(t, filepath.Join(f.cfg.Storage.LocalDir, filepath.FromSlash(instrumental.BlobKey(f.project.ID, second.ID))))
}

func TestVideoWithoutAudioIsRejected(t *testing.T) {
	f := newFixture(t, probeVideoOnly, separateToThird)

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	_, err := f.handler.Execute(context.Background(), run)
	assert.ErrorIs(t, err, services.ErrPrecondition)
}

func TestEmptySeparationOutputIsMalformed(t *testing.T) {
	f := newFixture(t, probeWithAudio, ": > \"$3\"")

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	_, err := f.handler.Execute(context.Background(), run)
	assert.ErrorIs(t, err, services.ErrMalformedOutput)

	project, err := f.st.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, project.InstrumentalPath)
}

func TestCancelBeforeSeparation(t *testing.T) {
	f := newFixture(t, probeWithAudio, separateToThird)

	run, _, checker := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureInstrumental, instrumental.Params{})
	checker.CancelAfter = 3
	_, err := f.handler.Execute(context.Background(), run)
	assert.ErrorIs(t, err, services.ErrCancelled)
	assert.True(t, run.Ledger.Summary().Empty())
}
