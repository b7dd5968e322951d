// Package api serves the daemon's HTTP control surface and provides the
// client the CLI uses to talk to it.
//
// # Routes
//
// All routes live under /api and share an optional bearer token:
//
//	GET  /api/health                               pipeline, tool and directory readiness
//	GET  /api/capabilities                         enabled features by slug
//	POST /api/projects                             create a project (201)
//	GET  /api/projects/{id}                        project with record counts
//	GET  /api/projects/{id}/jobs                   the four job slots
//	POST /api/projects/{id}/jobs/{feature}         start a job (202)
//	GET  /api/projects/{id}/jobs/{feature}         one job slot
//	POST /api/projects/{id}/jobs/{feature}/cancel  request cancellation
//	GET  /api/events?since=N&wait=1                long-poll event batch
//	GET  /api/events/ws                            websocket event push
//
// Features are addressed by slug (scene-detection, dialogue-extraction,
// translation, instrumental) or by their stored name.
//
// # Errors
//
// Every failure is answered as {"error": "..."}. The status code comes from
// services.HTTPStatus: not-found markers become 404, precondition and
// validation markers 422, everything else 500. Client-side, Error unwraps to
// the matching marker so callers can use errors.Is across the wire.
//
// # Design Notes
//
// Start, status and cancel handlers only touch job state and never wait on a
// running job. Payloads use snake_case JSON to match the stored columns.
// Timestamps use RFC3339 with milliseconds.
package api
