package daemon

import (
	"log/slog"

	"rythmo/internal/config"
	"rythmo/internal/dialogues"
	"rythmo/internal/instrumental"
	"rythmo/internal/logging"
	"rythmo/internal/procrun"
	"rythmo/internal/scenes"
	"rythmo/internal/stage"
	"rythmo/internal/store"
	"rythmo/internal/translation"
)

// BuildHandlers constructs the four pipelines. Disabled pipelines are still
// registered so health reports show them; the orchestrator refuses to start
// them. A translation backend that cannot be built is left out.
func BuildHandlers(cfg *config.Config, st *store.Store, runner *procrun.Runner, logger *slog.Logger) []stage.Handler {
	handlers := []stage.Handler{
		scenes.New(cfg, runner, logger),
		dialogues.New(cfg, st, runner, logger),
	}
	backend, err := translation.NewBackend(cfg, runner)
	if err != nil {
		logging.WarnWithContext(logger, "translation backend unavailable", "translation_backend_unavailable",
			logging.Error(err),
			logging.String("provider", cfg.Translation.Provider),
			logging.String(logging.FieldErrorHint, "check translation.provider and translation.script"),
			logging.String(logging.FieldImpact, "translation jobs are rejected"),
		)
	} else {
		handlers = append(handlers, translation.New(cfg, st, backend, logger))
	}
	handlers = append(handlers, instrumental.New(cfg, runner, logger))
	return handlers
}
