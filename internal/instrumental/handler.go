// Package instrumental extracts a project's audio track and separates the
// vocals out of it, keeping the instrumental stem in the blob store.
package instrumental

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/progress"
	"rythmo/internal/services"
	"rythmo/internal/services/demucs"
	"rythmo/internal/services/ffmpeg"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

// keyPrefix is the blob namespace for instrumental tracks.
const keyPrefix = "instrumental"

var (
	stageValidate = stage.Definition{Name: "validate", Low: 0, High: 10, Failure: services.FailureFatal}
	stageExtract  = stage.Definition{Name: "extract", Low: 10, High: 30, Failure: services.FailureFatal}
	stageSeparate = stage.Definition{Name: "separate", Low: 30, High: 85, Failure: services.FailureFatal}
	stageStore    = stage.Definition{Name: "store", Low: 85, High: 100, Failure: services.FailureRetryable}
)

// Params are the start parameters. The pipeline takes none.
type Params struct{}

// Handler runs instrumental extraction.
type Handler struct {
	cfg    *config.Config
	ffmpeg *ffmpeg.Client
	demucs *demucs.Service
	logger *slog.Logger
}

// New constructs the handler.
func New(cfg *config.Config, runner *procrun.Runner, logger *slog.Logger) *Handler {
	i := cfg.Instrumental
	return &Handler{
		cfg:    cfg,
		ffmpeg: ffmpeg.New(runner, cfg.Tools.FFmpeg, cfg.Tools.FFprobe),
		demucs: demucs.NewService(demucs.Config{
			Python:  cfg.Tools.Python,
			Script:  cfg.ScriptPath(i.Script),
			Model:   i.Model,
			EnvFile: cfg.Tools.EnvironmentFile,
			Timeout: config.Seconds(i.Timeout),
		}, runner),
		logger: logging.NewComponentLogger(logger, "instrumental"),
	}
}

// BlobKey is where a run stores its instrumental track.
func BlobKey(projectID int64, runID string) string {
	return path.Join(keyPrefix, strconv.FormatInt(projectID, 10), runID+".wav")
}

// Feature implements stage.Handler.
func (h *Handler) Feature() store.Feature { return store.FeatureInstrumental }

// Plan implements stage.Handler.
func (h *Handler) Plan() stage.Plan {
	return stage.Plan{stageValidate, stageExtract, stageSeparate, stageStore}
}

// Prepare implements stage.Handler.
func (h *Handler) Prepare(_ context.Context, project *store.Project, raw json.RawMessage) (any, error) {
	var params Params
	if err := stage.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if _, err := stage.VideoFile(h.cfg, project); err != nil {
		return nil, err
	}
	return params, nil
}

// Execute implements stage.Handler.
func (h *Handler) Execute(ctx context.Context, run *stage.Run) (string, error) {
	if err := run.Enter(ctx, stageValidate, "Checking video and separation script"); err != nil {
		return "", err
	}
	video, err := stage.VideoFile(h.cfg, run.Project)
	if err != nil {
		return "", stageValidate.Wrap(nil, "video", "", err)
	}
	script := h.cfg.ScriptPath(h.cfg.Instrumental.Script)
	if _, err := os.Stat(script); errors.Is(err, fs.ErrNotExist) {
		return "", stageValidate.Wrap(services.ErrConfiguration, "script", "separation script not found: "+script, nil)
	}
	mediaSeconds := 0.0
	if probe, err := h.ffmpeg.Probe(ctx, video); err != nil {
		logging.WarnWithContext(h.logger, "video probe failed; audio track not verified", "probe_failed",
			logging.String("video", video),
			logging.Error(err),
			logging.String(logging.FieldImpact, "separation progress uses the default estimate"),
		)
	} else {
		if probe.AudioStreamCount() == 0 {
			return "", stageValidate.Wrap(services.ErrPrecondition, "probe", "video has no audio track", nil)
		}
		mediaSeconds = probe.DurationSeconds()
	}

	if err := run.Enter(ctx, stageExtract, "Extracting audio track"); err != nil {
		return "", err
	}
	audio := run.Workspace.Path("audio.wav")
	if err := h.ffmpeg.ExtractAudio(ctx, video, audio, config.Seconds(h.cfg.Instrumental.Timeout)); err != nil {
		return "", stageExtract.Wrap(nil, "ffmpeg", "", err)
	}

	if err := run.Enter(ctx, stageSeparate, "Separating vocals"); err != nil {
		return "", err
	}
	expected := progress.ScaledExpectation(config.Seconds(h.cfg.Instrumental.ExpectedDuration), mediaSeconds)
	estimator := progress.NewEstimator(stageSeparate.Low, stageSeparate.High, expected)
	stem := run.Workspace.Path("instrumental.wav")
	size, err := h.demucs.Separate(ctx, audio, stem, config.Millis(h.cfg.Instrumental.PollIntervalMS),
		func(elapsed time.Duration) error {
			message := fmt.Sprintf("Separating vocals (%s elapsed)", elapsed.Truncate(time.Second))
			return run.Estimate(ctx, stageSeparate, estimator.At(elapsed), message)
		})
	if err != nil {
		return "", stageSeparate.Wrap(nil, "demucs", "", err)
	}

	if err := run.Enter(ctx, stageStore, "Storing instrumental track"); err != nil {
		return "", err
	}
	blobs := run.Persister.Blobs()
	key := BlobKey(run.Project.ID, run.ID)
	location, err := blobs.Put(ctx, key, stem)
	if err != nil {
		return "", stageStore.Wrap(nil, "upload", "", err)
	}
	run.Ledger.TrackBlob(key)
	h.logger.Info("instrumental track stored",
		logging.String("key", key),
		logging.String("location", location),
		logging.String("backend", blobs.Kind()),
		logging.Int64("bytes", size),
	)
	err = run.Commit(ctx, func(w *persist.Writer) error {
		return w.SetProjectField(ctx, store.FieldInstrumental, key)
	})
	if err != nil {
		return "", stageStore.Wrap(nil, "commit", "", err)
	}
	return "Instrumental track extracted", nil
}

// Finalize drops the track the run replaced.
func (h *Handler) Finalize(ctx context.Context, run *stage.Run) error {
	previous, ok := run.Ledger.OriginalField(store.FieldInstrumental)
	if !ok || !strings.HasPrefix(previous, keyPrefix+"/") || previous == BlobKey(run.Project.ID, run.ID) {
		return nil
	}
	if err := run.Persister.Blobs().Delete(ctx, previous); err != nil {
		return fmt.Errorf("delete previous instrumental %s: %w", previous, err)
	}
	h.logger.Debug("previous instrumental track removed", logging.String("key", previous))
	return nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	const name = "instrumental extraction"
	if !h.cfg.Instrumental.Enabled {
		return stage.Disabled(name)
	}
	script := h.cfg.ScriptPath(h.cfg.Instrumental.Script)
	if _, err := os.Stat(script); err != nil {
		return stage.Unhealthy(name, "script not found: "+script)
	}
	return stage.Healthy(name)
}
