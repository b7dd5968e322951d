package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"rythmo/internal/logging"
	"rythmo/internal/preflight"
	"rythmo/internal/services"
	"rythmo/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := preflight.RunAll(s.cfg)
	if s.blobs != nil {
		checks = append(checks, preflight.CheckRemote(ctx, "Blob store", s.blobs))
	}
	resp := newHealthResponse(s.orch.Health(ctx), s.deps.Check(ctx), checks, s.orch.Running())
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Capabilities())
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeFailure(w, r, fmt.Errorf("%w: name is required", services.ErrValidation))
		return
	}
	if req.RythmoLinesCount < 0 {
		s.writeFailure(w, r, fmt.Errorf("%w: rythmo_lines_count must be positive", services.ErrValidation))
		return
	}
	project, err := s.store.CreateProject(r.Context(), req.Name, req.VideoPath, req.RythmoLinesCount)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("project created",
		logging.Int64(logging.FieldProjectID, project.ID),
		logging.String("name", project.Name),
	)
	s.writeJSON(w, http.StatusCreated, FromProject(project, store.Counts{}))
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, notFound(err))
		return
	}
	counts, err := s.store.Counts(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromProject(project, counts))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	jobs, err := s.orch.ListStatus(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id, feature, ok := s.jobKey(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var raw json.RawMessage
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if !json.Valid([]byte(trimmed)) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		raw = json.RawMessage(trimmed)
	}
	result, err := s.orch.Start(r.Context(), id, feature, raw)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, StartResponse{
		Status:     result.Status,
		RunID:      result.RunID,
		Parameters: result.Parameters,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, feature, ok := s.jobKey(w, r)
	if !ok {
		return
	}
	status, err := s.orch.Status(r.Context(), id, feature)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, feature, ok := s.jobKey(w, r)
	if !ok {
		return
	}
	if err := s.orch.Cancel(r.Context(), id, feature); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CancelResponse{Status: store.StatusCancelled})
}

func (s *Server) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusNotFound, "project not found")
		return 0, false
	}
	return id, true
}

func (s *Server) jobKey(w http.ResponseWriter, r *http.Request) (int64, store.Feature, bool) {
	id, ok := s.projectID(w, r)
	if !ok {
		return 0, "", false
	}
	feature, err := store.ParseFeature(mux.Vars(r)["feature"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return 0, "", false
	}
	return id, feature, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrProjectNotFound) {
		return fmt.Errorf("%w: %w", services.ErrNotFound, err)
	}
	return err
}
