package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"rythmo/internal/stage"
	"rythmo/internal/store"
)

// JobStatus is the client view of one job slot, with the project's record
// counts so callers can refresh their view without a second request.
type JobStatus struct {
	ProjectID    int64           `json:"project_id"`
	Feature      store.Feature   `json:"feature"`
	Status       store.Status    `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	Estimated    bool            `json:"estimated"`
	Stale        bool            `json:"stale"`
	RunID        string          `json:"run_id,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
	HeartbeatAt  *time.Time      `json:"last_heartbeat,omitempty"`
	SceneChanges int             `json:"scene_changes_count"`
	Timecodes    int             `json:"timecodes_count"`
	Characters   int             `json:"characters_count"`

	SourceLanguage   string `json:"source_language,omitempty"`
	TargetLanguage   string `json:"target_language,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	InstrumentalPath string `json:"instrumental_path,omitempty"`
}

// Status reads the job slot of feature. It never blocks on a running job.
func (o *Orchestrator) Status(ctx context.Context, projectID int64, feature store.Feature) (JobStatus, error) {
	project, err := o.project(ctx, projectID)
	if err != nil {
		return JobStatus{}, err
	}
	state, err := o.tracker.Read(ctx, store.JobKey{ProjectID: projectID, Feature: feature})
	if err != nil {
		return JobStatus{}, err
	}
	counts, err := o.store.Counts(ctx, projectID)
	if err != nil {
		return JobStatus{}, err
	}
	return o.view(project, state, counts, time.Now()), nil
}

// ListStatus reads every feature's job slot of the project.
func (o *Orchestrator) ListStatus(ctx context.Context, projectID int64) ([]JobStatus, error) {
	project, err := o.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	states, err := o.store.ListJobStates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	counts, err := o.store.Counts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]JobStatus, 0, len(states))
	for _, state := range states {
		out = append(out, o.view(project, state, counts, now))
	}
	return out, nil
}

func (o *Orchestrator) view(project *store.Project, state store.JobState, counts store.Counts, now time.Time) JobStatus {
	status := JobStatus{
		ProjectID:        project.ID,
		Feature:          state.Feature,
		Status:           state.Status,
		Progress:         state.Progress,
		Message:          state.Message,
		Stale:            state.Stale(now, o.heartbeat.Timeout()),
		RunID:            state.RunID,
		Error:            state.ErrorMessage,
		StartedAt:        state.StartedAt,
		HeartbeatAt:      state.LastHeartbeat,
		SceneChanges:     counts.SceneChanges,
		Timecodes:        counts.Timecodes,
		Characters:       counts.Characters,
		SourceLanguage:   project.SourceLanguage,
		TargetLanguage:   project.TargetLanguage,
		DetectedLanguage: project.DetectedLanguage,
		InstrumentalPath: project.InstrumentalPath,
	}
	if state.Status == store.StatusProcessing {
		status.Estimated = o.tracker.Estimated(state.RunID)
	}
	if !state.UpdatedAt.IsZero() {
		updated := state.UpdatedAt
		status.UpdatedAt = &updated
	}
	if params := strings.TrimSpace(state.Parameters); params != "" && json.Valid([]byte(params)) {
		status.Parameters = json.RawMessage(params)
	}
	return status
}

// Capabilities lists which features this daemon can run.
type Capabilities struct {
	Features            map[string]bool `json:"features"`
	TranslationProvider string          `json:"translation_provider,omitempty"`
}

// Capabilities reports enabled features keyed by slug.
func (o *Orchestrator) Capabilities() Capabilities {
	caps := Capabilities{Features: make(map[string]bool, len(store.Features()))}
	for _, feature := range store.Features() {
		caps.Features[feature.Slug()] = o.Enabled(feature)
	}
	if o.Enabled(store.FeatureTranslation) {
		caps.TranslationProvider = o.cfg.Translation.Provider
	}
	return caps
}

// Health runs every handler's readiness check in feature order.
func (o *Orchestrator) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(o.handlers))
	for _, feature := range store.Features() {
		if h, ok := o.handlers[feature]; ok {
			out = append(out, h.HealthCheck(ctx))
		}
	}
	return out
}
