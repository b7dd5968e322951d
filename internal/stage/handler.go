package stage

import (
	"context"
	"encoding/json"

	"rythmo/internal/store"
)

// Handler describes the contract the orchestrator needs from each pipeline.
type Handler interface {
	Feature() store.Feature
	Plan() Plan
	// Prepare decodes and validates start parameters and checks the project's
	// preconditions. It runs synchronously in the start request and must not
	// write anything. The returned value is passed to Execute as Run.Params
	// and echoed to the client.
	Prepare(ctx context.Context, project *store.Project, raw json.RawMessage) (any, error)
	// Execute runs the plan and returns the completion message.
	Execute(ctx context.Context, run *Run) (string, error)
	HealthCheck(ctx context.Context) Health
}

// Finalizer is implemented by handlers with cleanup that may only run after
// the job was recorded as completed, such as dropping artifacts the run
// replaced. Errors are logged, never reported on the job.
type Finalizer interface {
	Finalize(ctx context.Context, run *Run) error
}
