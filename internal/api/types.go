package api

import (
	"encoding/json"
	"time"

	"rythmo/internal/deps"
	"rythmo/internal/events"
	"rythmo/internal/preflight"
	"rythmo/internal/stage"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name             string `json:"name"`
	VideoPath        string `json:"video_path,omitempty"`
	RythmoLinesCount int    `json:"rythmo_lines_count,omitempty"`
}

// Project describes a project with its record counts.
type Project struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	VideoPath        string `json:"video_path,omitempty"`
	RythmoLinesCount int    `json:"rythmo_lines_count"`
	SourceLanguage   string `json:"source_language,omitempty"`
	TargetLanguage   string `json:"target_language,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	InstrumentalPath string `json:"instrumental_path,omitempty"`
	SceneChanges     int    `json:"scene_changes_count"`
	Timecodes        int    `json:"timecodes_count"`
	Characters       int    `json:"characters_count"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// FromProject converts a stored project and its counts.
func FromProject(p *store.Project, counts store.Counts) Project {
	if p == nil {
		return Project{}
	}
	return Project{
		ID:               p.ID,
		Name:             p.Name,
		VideoPath:        p.VideoPath,
		RythmoLinesCount: p.RythmoLinesCount,
		SourceLanguage:   p.SourceLanguage,
		TargetLanguage:   p.TargetLanguage,
		DetectedLanguage: p.DetectedLanguage,
		InstrumentalPath: p.InstrumentalPath,
		SceneChanges:     counts.SceneChanges,
		Timecodes:        counts.Timecodes,
		Characters:       counts.Characters,
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

// StartResponse acknowledges a queued job.
type StartResponse struct {
	Status     store.Status    `json:"status"`
	RunID      string          `json:"run_id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	Status store.Status `json:"status"`
}

// JobListResponse wraps the four job slots of a project.
type JobListResponse struct {
	Jobs []workflow.JobStatus `json:"jobs"`
}

// EventsResponse is one long-poll batch. Next is the cursor for the following
// request.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// PipelineHealth mirrors readiness reporting for pipelines.
type PipelineHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates pipeline, tool and filesystem readiness.
type HealthResponse struct {
	Status       string             `json:"status"`
	Running      int                `json:"running_jobs"`
	Pipelines    []PipelineHealth   `json:"pipelines"`
	Dependencies []deps.Status      `json:"dependencies"`
	Checks       []preflight.Result `json:"checks"`
}

// Healthy reports whether every pipeline, required tool and check is ready.
func (h HealthResponse) Healthy() bool {
	return h.Status == healthOK
}

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

func newHealthResponse(pipelines []stage.Health, statuses []deps.Status, checks []preflight.Result, running int) HealthResponse {
	resp := HealthResponse{
		Status:       healthOK,
		Running:      running,
		Pipelines:    make([]PipelineHealth, 0, len(pipelines)),
		Dependencies: statuses,
		Checks:       checks,
	}
	for _, h := range pipelines {
		resp.Pipelines = append(resp.Pipelines, PipelineHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
		if h.Degraded() {
			resp.Status = healthDegraded
		}
	}
	if len(deps.Missing(statuses)) > 0 || len(preflight.Failed(checks)) > 0 {
		resp.Status = healthDegraded
	}
	return resp
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
