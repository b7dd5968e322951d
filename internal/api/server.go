package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rythmo/internal/config"
	"rythmo/internal/deps"
	"rythmo/internal/events"
	"rythmo/internal/logging"
	"rythmo/internal/preflight"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

// Options wires the server to the daemon's components.
type Options struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *workflow.Orchestrator
	Hub          *events.Hub
	Deps         *deps.Checker
	// Blobs is probed by the health endpoint when set.
	Blobs  preflight.Checker
	Logger *slog.Logger
}

// Server serves the HTTP control surface.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	orch   *workflow.Orchestrator
	hub    *events.Hub
	deps   *deps.Checker
	blobs  preflight.Checker
	logger *slog.Logger

	router   *mux.Router
	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer builds the router. It does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Store == nil || opts.Orchestrator == nil || opts.Hub == nil {
		return nil, errors.New("api server requires config, store, orchestrator and event hub")
	}
	s := &Server{
		cfg:    opts.Config,
		store:  opts.Store,
		orch:   opts.Orchestrator,
		hub:    opts.Hub,
		deps:   opts.Deps,
		blobs:  opts.Blobs,
		logger: logging.NewComponentLogger(opts.Logger, "api-server"),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.requestContext, authMiddleware(opts.Config.API.Token))

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.handleCreateProject).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}", s.handleProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}/jobs/{feature}", s.handleJobStatus).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}/jobs/{feature}", s.handleStartJob).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}/jobs/{feature}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", s.handleEventStream).Methods(http.MethodGet)
	s.router = router

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on api.bind and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.API.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, giving in-flight requests five seconds.
// Websocket streams are closed as well.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.done) })
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// requestContext tags each request with a correlation id, honoring a
// caller-supplied X-Request-ID.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeFailure maps err to a status code. Server errors are logged; client
// errors are returned with the marker prefix stripped.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		s.writeError(w, status, err.Error())
		return
	}
	s.writeError(w, status, services.Details(err).Message)
}
