// Package scenes detects visual cuts in a project's video with ffmpeg's scene
// score filter and stores them as scene changes.
package scenes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/services/ffmpeg"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

const (
	minThreshold = 0.1
	maxThreshold = 1.0
	minFPS       = 1.0
	maxFPS       = 30.0

	progressInterval = time.Second
)

var (
	stageValidate = stage.Definition{Name: "validate", Low: 0, High: 10, Failure: services.FailureFatal}
	stageDetect   = stage.Definition{Name: "detect", Low: 10, High: 60, Failure: services.FailureFatal}
	stageParse    = stage.Definition{Name: "parse", Low: 60, High: 70, Failure: services.FailureFatal}
	stagePersist  = stage.Definition{Name: "persist", Low: 70, High: 100, Failure: services.FailureRetryable}
)

// Params are the normalized start parameters.
type Params struct {
	Threshold float64 `json:"threshold"`
	FPS       float64 `json:"fps"`
}

// Handler runs scene detection.
type Handler struct {
	cfg    *config.Config
	ffmpeg *ffmpeg.Client
	logger *slog.Logger
}

// New constructs the handler.
func New(cfg *config.Config, runner *procrun.Runner, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		ffmpeg: ffmpeg.New(runner, cfg.Tools.FFmpeg, cfg.Tools.FFprobe),
		logger: logging.NewComponentLogger(logger, "scenes"),
	}
}

// Feature implements stage.Handler.
func (h *Handler) Feature() store.Feature { return store.FeatureSceneDetection }

// Plan implements stage.Handler.
func (h *Handler) Plan() stage.Plan {
	return stage.Plan{stageValidate, stageDetect, stageParse, stagePersist}
}

// Prepare implements stage.Handler.
func (h *Handler) Prepare(_ context.Context, project *store.Project, raw json.RawMessage) (any, error) {
	params := Params{
		Threshold: h.cfg.SceneDetection.DefaultThreshold,
		FPS:       h.cfg.SceneDetection.DefaultFPS,
	}
	if err := stage.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	if math.IsNaN(params.Threshold) || params.Threshold < minThreshold || params.Threshold > maxThreshold {
		return nil, fmt.Errorf("%w: threshold must be between %.1f and %.1f", services.ErrValidation, minThreshold, maxThreshold)
	}
	if math.IsNaN(params.FPS) || params.FPS < minFPS || params.FPS > maxFPS {
		return nil, fmt.Errorf("%w: fps must be between %.0f and %.0f", services.ErrValidation, minFPS, maxFPS)
	}
	if _, err := stage.VideoFile(h.cfg, project); err != nil {
		return nil, err
	}
	return params, nil
}

// Execute implements stage.Handler.
func (h *Handler) Execute(ctx context.Context, run *stage.Run) (string, error) {
	params, ok := run.Params.(Params)
	if !ok {
		return "", fmt.Errorf("scene detection: unexpected params %T", run.Params)
	}

	if err := run.Enter(ctx, stageValidate, "Checking video file"); err != nil {
		return "", err
	}
	video, err := stage.VideoFile(h.cfg, run.Project)
	if err != nil {
		return "", stageValidate.Wrap(services.ErrPrecondition, "video", "", err)
	}

	message := fmt.Sprintf("Analyzing video with ffmpeg (fps=%g, threshold=%g)", params.FPS, params.Threshold)
	if err := run.Enter(ctx, stageDetect, message); err != nil {
		return "", err
	}
	duration := 0.0
	if probe, err := h.ffmpeg.Probe(ctx, video); err != nil {
		logging.WarnWithContext(h.logger, "video duration unavailable; scene progress will not advance", "probe_failed",
			logging.String("video", video),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ffprobe is installed and the file is readable"),
			logging.String(logging.FieldImpact, "progress stays at the start of the detect stage"),
		)
	} else {
		duration = probe.DurationSeconds()
	}

	var latest atomic.Uint64
	times, err := h.ffmpeg.DetectScenes(ctx, video, ffmpeg.SceneOptions{
		Threshold: params.Threshold,
		FPS:       params.FPS,
		Timeout:   config.Seconds(h.cfg.SceneDetection.Timeout),
		OnTimestamp: func(seconds float64) {
			latest.Store(math.Float64bits(seconds))
		},
		Interval: progressInterval,
		OnTick: func(time.Duration) error {
			if duration <= 0 {
				return run.Checkpoint(ctx)
			}
			position := math.Float64frombits(latest.Load())
			return run.Advance(ctx, stageDetect, position/duration, message)
		},
	})
	if err != nil {
		return "", stageDetect.Wrap(nil, "ffmpeg", "", err)
	}

	if err := run.Enter(ctx, stageParse, "Parsing scene changes"); err != nil {
		return "", err
	}
	h.logger.Info("scene detection finished",
		logging.Int("timestamps", len(times)),
		logging.Float64("duration_seconds", duration),
	)
	if len(times) == 0 {
		return "No scene change detected", nil
	}

	if err := run.Enter(ctx, stagePersist, fmt.Sprintf("Saving %d scene change(s)", len(times))); err != nil {
		return "", err
	}
	created := 0
	err = run.Commit(ctx, func(w *persist.Writer) error {
		for _, ts := range times {
			added, err := w.AddSceneChange(ctx, ts)
			if err != nil {
				return err
			}
			if added {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return "", stagePersist.Wrap(nil, "commit", "", err)
	}
	if created == 0 {
		return "No scene change detected", nil
	}
	return fmt.Sprintf("%d scene change(s) detected", created), nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if !h.cfg.SceneDetection.Enabled {
		return stage.Disabled("scene detection")
	}
	return stage.Healthy("scene detection")
}
