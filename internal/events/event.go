package events

import "time"

// Type names what happened to a job.
type Type string

const (
	TypeJobPending      Type = "job_pending"
	TypeJobStarted      Type = "job_started"
	TypeJobProgress     Type = "job_progress"
	TypeJobCompleted    Type = "job_completed"
	TypeJobFailed       Type = "job_failed"
	TypeJobCancelled    Type = "job_cancelled"
	TypeCancelRequested Type = "cancel_requested"
)

// Event is one job state change published to watchers.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      Type      `json:"type"`
	ProjectID int64     `json:"project_id"`
	Feature   string    `json:"feature"`
	RunID     string    `json:"run_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	// Estimated marks progress derived from elapsed time rather than tool output.
	Estimated bool `json:"estimated,omitempty"`
	// Origin is the node id of the daemon that produced a relayed event.
	Origin string `json:"origin,omitempty"`
}
