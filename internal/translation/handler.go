package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rythmo/internal/config"
	"rythmo/internal/language"
	"rythmo/internal/logging"
	"rythmo/internal/persist"
	"rythmo/internal/services"
	"rythmo/internal/stage"
	"rythmo/internal/store"
)

const (
	// checkEvery is how many segments the sequential mode translates between
	// cancellation checkpoints.
	checkEvery   = 5
	detectSample = 5
)

var (
	stageDetect    = stage.Definition{Name: "detect", Low: 0, High: 10, Failure: services.FailureFatal}
	stageTranslate = stage.Definition{Name: "translate", Low: 10, High: 90, Failure: services.FailureRetryable}
	stageApply     = stage.Definition{Name: "apply", Low: 90, High: 100, Failure: services.FailureRetryable}
)

// Params are the normalized start parameters.
type Params struct {
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language,omitempty"`
}

// Sleeper pauses between sequential requests. It returns early with an error
// when ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

// Handler runs translation.
type Handler struct {
	cfg     *config.Config
	st      *store.Store
	backend Backend
	sleep   Sleeper
	logger  *slog.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithSleeper overrides how the sequential mode paces requests.
func WithSleeper(sleep Sleeper) Option {
	return func(h *Handler) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// New constructs the handler around backend.
func New(cfg *config.Config, st *store.Store, backend Backend, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		cfg:     cfg,
		st:      st,
		backend: backend,
		sleep:   sleepContext,
		logger:  logging.NewComponentLogger(logger, "translation"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Feature implements stage.Handler.
func (h *Handler) Feature() store.Feature { return store.FeatureTranslation }

// Plan implements stage.Handler.
func (h *Handler) Plan() stage.Plan {
	return stage.Plan{stageDetect, stageTranslate, stageApply}
}

// Prepare implements stage.Handler.
func (h *Handler) Prepare(ctx context.Context, project *store.Project, raw json.RawMessage) (any, error) {
	var params Params
	if err := stage.DecodeParams(raw, &params); err != nil {
		return nil, err
	}
	target := strings.TrimSpace(params.TargetLanguage)
	if len(target) < 2 || len(target) > 5 {
		return nil, fmt.Errorf("%w: target_language must be a 2 to 5 character language code", services.ErrValidation)
	}
	normalized, err := language.Normalize(target)
	if err != nil {
		return nil, fmt.Errorf("%w: target_language: %w", services.ErrValidation, err)
	}
	params.TargetLanguage = normalized
	source, err := language.NormalizeOrAuto(params.SourceLanguage)
	if err != nil {
		return nil, fmt.Errorf("%w: source_language: %w", services.ErrValidation, err)
	}
	params.SourceLanguage = source
	if params.SourceLanguage == params.TargetLanguage {
		return nil, fmt.Errorf("%w: source and target language are both %q", services.ErrValidation, params.TargetLanguage)
	}
	counts, err := h.st.Counts(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("count timecodes: %w", err)
	}
	if counts.Timecodes == 0 {
		return nil, fmt.Errorf("%w: project has no timecode to translate", services.ErrPrecondition)
	}
	return params, nil
}

type segment struct {
	id   int64
	text string
}

// Execute implements stage.Handler.
func (h *Handler) Execute(ctx context.Context, run *stage.Run) (string, error) {
	params, ok := run.Params.(Params)
	if !ok {
		return "", fmt.Errorf("translation: unexpected params %T", run.Params)
	}

	if err := run.Enter(ctx, stageDetect, "Loading dialogue"); err != nil {
		return "", err
	}
	segments, names, err := h.loadSegments(ctx, run.Project.ID)
	if err != nil {
		return "", stageDetect.Wrap(nil, "load", "", err)
	}
	if len(segments) == 0 {
		return "", stageDetect.Wrap(services.ErrPrecondition, "load", "no text to translate", nil)
	}
	source := params.SourceLanguage
	if source == "" || source == language.Auto {
		texts := make([]string, len(segments))
		for i, seg := range segments {
			texts[i] = seg.text
		}
		source = language.DetectSample(texts, detectSample)
		h.logger.Info("source language detected",
			logging.String("language", source),
			logging.String("display", language.DisplayName(source)),
		)
	}
	target := params.TargetLanguage
	if source == target {
		return "", stageDetect.Wrap(services.ErrPrecondition, "detect", fmt.Sprintf("dialogue is already in %s", language.DisplayName(target)), nil)
	}

	provider := h.backend.Name()
	message := fmt.Sprintf("Translating %d segment(s) with %s (%s -> %s)", len(segments), provider, source, target)
	if err := run.Enter(ctx, stageTranslate, message); err != nil {
		return "", err
	}
	var (
		results map[int64]string
		failed  int
	)
	if batch, ok := h.backend.(BatchBackend); ok {
		results, failed, err = h.translateBatch(ctx, run, batch, segments, names, source, target)
	} else {
		results, failed, err = h.translateEach(ctx, run, segments, source, target)
	}
	if err != nil {
		return "", stageTranslate.Wrap(nil, strings.ToLower(provider), "", err)
	}
	if len(results) == 0 {
		return "", stageTranslate.Wrap(services.ErrPartialFailure, strings.ToLower(provider),
			fmt.Sprintf("no segment could be translated (%d failure(s))", failed), nil)
	}

	if err := run.Enter(ctx, stageApply, fmt.Sprintf("Applying %d translation(s)", len(results))); err != nil {
		return "", err
	}
	err = run.Commit(ctx, func(w *persist.Writer) error {
		for _, seg := range segments {
			text, ok := results[seg.id]
			if !ok {
				continue
			}
			if err := w.ReplaceText(ctx, seg.id, text); err != nil {
				return err
			}
		}
		if err := w.SetProjectField(ctx, store.FieldSourceLanguage, source); err != nil {
			return err
		}
		return w.SetProjectField(ctx, store.FieldTargetLanguage, target)
	})
	if err != nil {
		return "", stageApply.Wrap(nil, "commit", "", err)
	}
	return fmt.Sprintf("%d segment(s) translated with %s, %d failure(s) (%s -> %s)",
		len(results), provider, failed, source, target), nil
}

func (h *Handler) translateBatch(ctx context.Context, run *stage.Run, backend BatchBackend, segments []segment, names []string, source, target string) (map[int64]string, int, error) {
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.text
	}
	req := BatchRequest{
		Source:  source,
		Target:  target,
		Texts:   texts,
		WorkDir: run.Workspace.Dir(),
	}
	if h.cfg.Translation.UseCharacterContext && len(names) > 0 {
		req.Context = "Film dialogue. Characters: " + strings.Join(names, ", ")
	}
	out, err := backend.TranslateBatch(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	if len(out) != len(segments) {
		logging.WarnWithContext(h.logger, "batch returned a different number of translations", "translation_count_mismatch",
			logging.Int("expected", len(segments)),
			logging.Int("received", len(out)),
			logging.String(logging.FieldImpact, "unmatched segments are counted as failures"),
		)
	}
	results := make(map[int64]string, len(segments))
	failed := 0
	for i, seg := range segments {
		if i >= len(out) || strings.TrimSpace(out[i]) == "" {
			failed++
			continue
		}
		results[seg.id] = out[i]
	}
	return results, failed, nil
}

func (h *Handler) translateEach(ctx context.Context, run *stage.Run, segments []segment, source, target string) (map[int64]string, int, error) {
	provider := h.backend.Name()
	pacing := config.Millis(h.cfg.Translation.PacingMS)
	results := make(map[int64]string, len(segments))
	failed := 0
	for i, seg := range segments {
		if i%checkEvery == 0 {
			if err := run.Checkpoint(ctx); err != nil {
				return nil, 0, err
			}
			message := fmt.Sprintf("Translating with %s... %d/%d", provider, i, len(segments))
			if err := run.Advance(ctx, stageTranslate, float64(i)/float64(len(segments)), message); err != nil {
				return nil, 0, err
			}
		}
		text, err := h.backend.Translate(ctx, seg.text, source, target)
		switch {
		case err != nil && (errors.Is(err, services.ErrCancelled) || ctx.Err() != nil):
			return nil, 0, err
		case err != nil:
			failed++
			h.logger.Warn("segment translation failed",
				logging.Int64("timecode_id", seg.id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "segment_translation_failed"),
			)
		case strings.TrimSpace(text) == "":
			failed++
		default:
			results[seg.id] = text
		}
		if i < len(segments)-1 {
			if err := h.sleep(ctx, pacing); err != nil {
				return nil, 0, err
			}
		}
	}
	return results, failed, nil
}

func (h *Handler) loadSegments(ctx context.Context, projectID int64) ([]segment, []string, error) {
	timecodes, err := h.st.ListTimecodes(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	characters, err := h.st.ListCharacters(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(characters))
	for _, c := range characters {
		names = append(names, c.Name)
	}
	segments := make([]segment, 0, len(timecodes))
	for _, tc := range timecodes {
		if strings.TrimSpace(tc.Text) == "" {
			continue
		}
		segments = append(segments, segment{id: tc.ID, text: tc.Text})
	}
	return segments, names, nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	name := "translation (" + h.backend.Name() + ")"
	if !h.cfg.Translation.Enabled {
		return stage.Disabled(name)
	}
	return stage.Healthy(name)
}
