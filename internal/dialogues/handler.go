package dialogues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"rythmo/internal/config"
	"rythmo/internal/language"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/procrun"
	"rythmo/internal/progress"
	"rythmo/internal/services"
	"rythmo/internal/services/ffmpeg"
	"rythmo/internal/services/whisper"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

const (
	minSpeakers = 2
	maxSpeakers = 20
)

var (
	stageValidate   = stage.Definition{Name: "validate", Low: 0, High: 5, Failure: services.FailureFatal}
	stageTranscribe = stage.Definition{Name: "transcribe", Low: 5, High: 85, Failure: services.FailureFatal}
	stageParse      = stage.Definition{Name: "parse", Low: 85, High: 90, Failure: services.FailureFatal}
	stagePersist    = stage.Definition{Name: "persist", Low: 90, High: 100, Failure: services.FailureRetryable}
)

// Params are the normalized start parameters.
type Params struct {
	Language    string `json:"language"`
	MaxSpeakers int    `json:"max_speakers"`
	Model       string `json:"model"`
}

// Handler runs dialogue extraction.
type Handler struct {
	cfg     *config.Config
	st      *store.Store
	whisper *whisper.Service
	ffmpeg  *ffmpeg.Client
	logger  *slog.Logger
}

// New constructs the handler.
func New(cfg *config.Config, st *store.Store, runner *procrun.Runner, logger *slog.Logger) *Handler {
	d := cfg.DialogueExtraction
	return &Handler{
		cfg: cfg,
		st:  st,
		whisper: whisper.NewService(whisper.Config{
			Python:            cfg.Tools.Python,
			Script:            cfg.ScriptPath(d.Script),
			DiarizationMethod: d.DiarizationMethod,
			HFToken:           d.HuggingFaceToken,
			EnvFile:           cfg.Tools.EnvironmentFile,
			Timeout:           config.Seconds(d.Timeout),
		}, runner),
		ffmpeg: ffmpeg.New(runner, cfg.Tools.FFmpeg, cfg.Tools.FFprobe),
		logger: logging.NewComponentLogger(logger, "dialogues"),
	}
}

// Feature implements stage.Handler.
func (h *Handler) Feature() store.Feature { return store.FeatureDialogueExtraction }

// Plan implements stage.Handler.
func (h *Handler) Plan() stage.Plan {
	return stage.Plan{stageValidate, stageTranscribe, stageParse, stagePersist}
}

// Prepare implements stage.Handler.
func (h *Handler) Prepare(ctx context.Context, project *store.Project, raw json.RawMessage) (any, error) {
	d := h.cfg.DialogueExtraction
	params := Params{
		Language:    d.DefaultLanguage,
		MaxSpeakers: d.DefaultMaxSpeakers,
		Model:       d.DefaultModel,
	}
	if err := stage.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	lang, err := language.NormalizeOrAuto(params.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: language must be \"auto\" or a language code: %w", services.ErrValidation, err)
	}
	params.Language = lang
	if params.MaxSpeakers < minSpeakers || params.MaxSpeakers > maxSpeakers {
		return nil, fmt.Errorf("%w: max_speakers must be between %d and %d", services.ErrValidation, minSpeakers, maxSpeakers)
	}
	params.Model = strings.ToLower(strings.TrimSpace(params.Model))
	if !slices.Contains(whisper.Models, params.Model) {
		return nil, fmt.Errorf("%w: model must be one of %s", services.ErrValidation, strings.Join(whisper.Models, ", "))
	}
	if _, err := stage.VideoFile(h.cfg, project); err != nil {
		return nil, err
	}
	if err := h.checkNoTimecodes(ctx, project); err != nil {
		return nil, err
	}
	return params, nil
}

// Execute implements stage.Handler.
func (h *Handler) Execute(ctx context.Context, run *stage.Run) (string, error) {
	params, ok := run.Params.(Params)
	if !ok {
		return "", fmt.Errorf("dialogue extraction: unexpected params %T", run.Params)
	}

	if err := run.Enter(ctx, stageValidate, "Checking video and transcription script"); err != nil {
		return "", err
	}
	video, err := stage.VideoFile(h.cfg, run.Project)
	if err != nil {
		return "", stageValidate.Wrap(nil, "video", "", err)
	}
	script := h.cfg.ScriptPath(h.cfg.DialogueExtraction.Script)
	if _, err := os.Stat(script); errors.Is(err, fs.ErrNotExist) {
		return "", stageValidate.Wrap(services.ErrConfiguration, "script", "transcription script not found: "+script, nil)
	}
	if err := h.checkNoTimecodes(ctx, run.Project); err != nil {
		return "", stageValidate.Wrap(nil, "timecodes", "", err)
	}

	if err := run.Enter(ctx, stageTranscribe, "Transcribing and identifying speakers"); err != nil {
		return "", err
	}
	expected := progress.ScaledExpectation(config.Seconds(h.cfg.DialogueExtraction.ExpectedDuration), h.mediaSeconds(ctx, video))
	estimator := progress.NewEstimator(stageTranscribe.Low, stageTranscribe.High, expected)
	out, err := h.whisper.Transcribe(ctx, whisper.Request{
		Video:       video,
		Output:      run.Workspace.Path("dialogues.json"),
		Model:       params.Model,
		Language:    params.Language,
		MaxSpeakers: params.MaxSpeakers,
	}, config.Millis(h.cfg.DialogueExtraction.PollIntervalMS), func(elapsed time.Duration) error {
		message := fmt.Sprintf("Transcribing and identifying speakers (%s elapsed)", elapsed.Truncate(time.Second))
		return run.Estimate(ctx, stageTranscribe, estimator.At(elapsed), message)
	})
	if err != nil {
		return "", stageTranscribe.Wrap(nil, "whisper", "", err)
	}

	if err := run.Enter(ctx, stageParse, "Reading dialogues"); err != nil {
		return "", err
	}
	h.logger.Info("transcription finished",
		logging.Int("dialogues", len(out.Segments)),
		logging.Int("speakers", len(out.Speakers)),
		logging.String("language", out.Language),
	)
	if len(out.Segments) == 0 {
		return "No dialogue detected", nil
	}

	speakers := RankSpeakers(out.Speakers)
	message := fmt.Sprintf("Creating %d character(s) and %d timecode(s)", len(speakers), len(out.Segments))
	if err := run.Enter(ctx, stagePersist, message); err != nil {
		return "", err
	}
	lines := run.Project.RythmoLinesCount
	err = run.Commit(ctx, func(w *persist.Writer) error {
		characters := make(map[string]int64, len(speakers))
		ranks := make(map[string]int, len(speakers))
		for rank, label := range speakers {
			color := ColorFor(rank)
			id, err := w.AddCharacter(ctx, store.Character{
				Name:      fmt.Sprintf("Speaker %d", rank+1),
				Color:     color.Background,
				TextColor: color.Text,
			})
			if err != nil {
				return err
			}
			characters[label] = id
			ranks[label] = rank
		}
		for _, seg := range out.Segments {
			if _, err := w.AddTimecode(ctx, store.Timecode{
				LineNumber:    LineFor(ranks[seg.Speaker], len(speakers), lines),
				Start:         seg.Start,
				End:           seg.End,
				Text:          seg.Text,
				CharacterID:   characters[seg.Speaker],
				ShowCharacter: true,
			}); err != nil {
				return err
			}
		}
		if detected, err := language.Normalize(out.Language); err == nil {
			return w.SetProjectField(ctx, store.FieldDetectedLanguage, detected)
		}
		return nil
	})
	if err != nil {
		return "", stagePersist.Wrap(nil, "commit", "", err)
	}
	return fmt.Sprintf("%d dialogue(s) extracted, %d character(s) detected", len(out.Segments), len(speakers)), nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	const name = "dialogue extraction"
	if !h.cfg.DialogueExtraction.Enabled {
		return stage.Disabled(name)
	}
	script := h.cfg.ScriptPath(h.cfg.DialogueExtraction.Script)
	if _, err := os.Stat(script); err != nil {
		return stage.Unhealthy(name, "script not found: "+script)
	}
	return stage.Healthy(name)
}

func (h *Handler) checkNoTimecodes(ctx context.Context, project *store.Project) error {
	counts, err := h.st.Counts(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("count timecodes: %w", err)
	}
	if counts.Timecodes > 0 {
		return fmt.Errorf("%w: project already has %d timecode(s); delete them before extracting dialogues", services.ErrPrecondition, counts.Timecodes)
	}
	return nil
}

func (h *Handler) mediaSeconds(ctx context.Context, video string) float64 {
	probe, err := h.ffmpeg.Probe(ctx, video)
	if err != nil {
		h.logger.Debug("video duration unavailable", logging.Error(err))
		return 0
	}
	return probe.DurationSeconds()
}
