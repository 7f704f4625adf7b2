// Package server exposes the agentdesk HTTP API: query dispatch, the
// pipeline catalog, and session administration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/auth"
	"github.com/szaher/agentdesk/internal/session"
	"github.com/szaher/agentdesk/internal/telemetry"
)

// Server routes HTTP requests to the agent service and the session store.
type Server struct {
	service   *agent.Service
	sessions  *session.Store
	metrics   *telemetry.Metrics
	limiter   *auth.RateLimiter
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	startTime time.Time
	apiKey    string
	version   string
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey sets the API key for authentication. Empty disables auth.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRateLimiter throttles per-client request rates and blocks clients
// with repeated authentication failures.
func WithRateLimiter(rl *auth.RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics mounts the Prometheus registry at GET /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version string reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates the HTTP server for the given service and store.
func NewServer(service *agent.Service, sessions *session.Store, opts ...Option) *Server {
	s := &Server{
		service:   service,
		sessions:  sessions,
		logger:    slog.Default(),
		startTime: time.Now(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/{type}", s.handleAgentInfo)
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("POST /v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/stats", s.handleSessionStats)
	mux.HandleFunc("POST /v1/sessions/cleanup", s.handleSessionCleanup)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = auth.Middleware(s.apiKey, s.limiter, "/healthz")(h)
	if s.limiter != nil {
		h = s.limiter.Throttle(auth.ClientIP)(h)
	}
	return s.logRequests(h)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("http server starting", "addr", addr, "agents", len(s.service.Infos()), "default_type", s.service.DefaultType())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// logRequests tags every request with an ID, threads it through the
// request context as the correlation ID, and logs one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		r = r.WithContext(telemetry.WithCorrelationID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	infos := s.service.Infos()
	types := make([]string, len(infos))
	for i, info := range infos {
		types[i] = info.Type
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"uptime":      time.Since(s.startTime).String(),
		"agent_types": types,
		"version":     s.version,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":       s.service.Infos(),
		"agent_types":  s.service.AgentTypes(),
		"default_type": s.service.DefaultType(),
	})
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	agentType := r.PathValue("type")
	info, ok := s.service.AgentInfo(agentType)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Agent type %q not found", agentType))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req agent.Query
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Query must not be empty")
		return
	}

	resp, err := s.service.Process(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_implemented", "Streaming is not yet implemented")
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string            `json:"user_id,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	// An empty body creates an anonymous session.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess, err := s.sessions.Create(r.Context(), req.UserID, req.Metadata)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Session %q not found", id))
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.sessions.Delete(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Session %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions lists sessions for the user_id query parameter.
// Without the parameter it lists anonymous sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessions, err := s.sessions.List(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.sessions.SweepExpired(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// writeServiceError maps service and store failures onto HTTP statuses.
// Storage failures get a generic body so backend details stay out of
// responses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrUnknownAgent):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, session.ErrStorageUnavailable):
		s.logger.Error("session storage failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Session storage is unavailable")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
