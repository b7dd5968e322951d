package store

import (
	"fmt"
	"strings"
	"time"
)

// Feature identifies one of the background pipelines a project can run.
type Feature string

const (
	FeatureSceneDetection     Feature = "scene_detection"
	FeatureDialogueExtraction Feature = "dialogue_extraction"
	FeatureTranslation        Feature = "translation"
	FeatureInstrumental       Feature = "instrumental_extraction"
)

var allFeatures = []Feature{
	FeatureSceneDetection,
	FeatureDialogueExtraction,
	FeatureTranslation,
	FeatureInstrumental,
}

var featureSlugs = map[Feature]string{
	FeatureSceneDetection:     "scene-detection",
	FeatureDialogueExtraction: "dialogue-extraction",
	FeatureTranslation:        "translation",
	FeatureInstrumental:       "instrumental",
}

// Features returns every known feature in display order.
func Features() []Feature {
	return append([]Feature(nil), allFeatures...)
}

// ParseFeature accepts either the canonical name or the URL slug.
func ParseFeature(value string) (Feature, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, f := range allFeatures {
		if normalized == string(f) || normalized == featureSlugs[f] {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown feature %q", value)
}

// Slug returns the URL form of the feature.
func (f Feature) Slug() string {
	if slug, ok := featureSlugs[f]; ok {
		return slug
	}
	return string(f)
}

// Label returns a human readable feature name.
func (f Feature) Label() string {
	switch f {
	case FeatureSceneDetection:
		return "Scene detection"
	case FeatureDialogueExtraction:
		return "Dialogue extraction"
	case FeatureTranslation:
		return "Translation"
	case FeatureInstrumental:
		return "Instrumental extraction"
	default:
		return string(f)
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether the status blocks a new start.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobKey identifies the single job slot of a feature within a project.
type JobKey struct {
	ProjectID int64
	Feature   Feature
}

func (k JobKey) String() string {
	return fmt.Sprintf("project %d %s", k.ProjectID, k.Feature)
}

// JobState is the persisted snapshot of one job slot.
type JobState struct {
	JobKey
	Status        Status
	Progress      int
	Message       string
	RunID         string
	Parameters    string
	ErrorMessage  string
	StartedAt     *time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// Stale reports whether an active job has stopped sending heartbeats.
func (s JobState) Stale(now time.Time, timeout time.Duration) bool {
	if !s.Status.Active() || timeout <= 0 {
		return false
	}
	last := s.UpdatedAt
	if s.LastHeartbeat != nil {
		last = *s.LastHeartbeat
	}
	return now.Sub(last) > timeout
}

// Project is the owner of every domain record a job creates.
type Project struct {
	ID               int64
	Name             string
	VideoPath        string
	RythmoLinesCount int
	SourceLanguage   string
	TargetLanguage   string
	DetectedLanguage string
	InstrumentalPath string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SceneChange is a detected visual cut.
type SceneChange struct {
	ID        int64
	ProjectID int64
	Timecode  float64
	RunID     string
}

// Character is a speaker shown on the rythmo band.
type Character struct {
	ID        int64
	ProjectID int64
	Name      string
	Color     string
	TextColor string
	RunID     string
}

// Timecode is a dialogue segment placed on a rythmo line.
type Timecode struct {
	ID            int64
	ProjectID     int64
	LineNumber    int
	Start         float64
	End           float64
	Text          string
	CharacterID   int64
	ShowCharacter bool
	RunID         string
}

// Counts summarizes the domain records attached to a project.
type Counts struct {
	SceneChanges int
	Timecodes    int
	Characters   int
}
