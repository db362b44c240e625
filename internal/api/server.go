// Package api implements the HTTP API for the conversation backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/orcalabs/orca-agents/internal/agent"
	"github.com/orcalabs/orca-agents/internal/backend"
	"github.com/orcalabs/orca-agents/internal/buildinfo"
	"github.com/orcalabs/orca-agents/internal/llm"
)

// maxMessageLen bounds a single chat message, matching the request
// validation of the original service.
const maxMessageLen = 10000

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	orchestrator *agent.Orchestrator
	selector     *backend.Selector
	clients      map[string]llm.Client
	logger       *slog.Logger
	server       *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, orchestrator *agent.Orchestrator, selector *backend.Selector, clients map[string]llm.Client, logger *slog.Logger) *Server {
	return &Server{
		address:      address,
		port:         port,
		orchestrator: orchestrator,
		selector:     selector,
		clients:      clients,
		logger:       logger,
	}
}

// routes builds the request mux. Split from Start so tests can drive
// the handlers without a listener.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/models", s.handleModels)

	mux.HandleFunc("GET /api/conversations", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{id}/stats", s.handleConversationStats)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("POST /api/conversations/sweep", s.handleSweep)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleAPIHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return mux
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // turns block on the backend
	}

	s.logger.Info("API server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
	UseDeep        bool   `json:"use_deep,omitempty"`
	ResetContext   bool   `json:"reset_context,omitempty"`
}

// ChatResponse is the response body for POST /api/chat.
type ChatResponse struct {
	Message          string    `json:"message"`
	ConversationID   string    `json:"conversation_id"`
	Model            string    `json:"model"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageLen {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("message exceeds %d characters", maxMessageLen))
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	// Asking for the deep model by name routes to the deep path, same
	// as the explicit flag.
	useDeep := req.UseDeep || req.Model == s.selector.Deep().Model

	res := s.orchestrator.ProcessMessage(r.Context(), convID, req.Message, useDeep, req.ResetContext)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Message:          res.Reply,
		ConversationID:   res.ConversationID,
		Model:            res.Model,
		Timestamp:        time.Now(),
		ProcessingTimeMs: res.Elapsed.Milliseconds(),
	}, s.logger)
}

// ModelsResponse is the response body for GET /api/models.
type ModelsResponse struct {
	Models    []string `json:"models"`
	FastModel string   `json:"fast_model"`
	DeepModel string   `json:"deep_model"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	// Ask both backends what they actually serve; fall back to the
	// configured defaults when a backend is unreachable.
	seen := make(map[string]bool)
	var models []string
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				models = append(models, n)
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, profile := range []backend.Profile{s.selector.Fast(), s.selector.Deep()} {
		names, err := s.clients[profile.Name].ListModels(ctx)
		if err != nil {
			s.logger.Warn("model listing failed", "profile", profile.Name, "error", err)
			continue
		}
		add(names...)
	}
	add(s.selector.Fast().Model, s.selector.Deep().Model)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ModelsResponse{
		Models:    models,
		FastModel: s.selector.Fast().Model,
		DeepModel: s.selector.Deep().Model,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	ids := s.orchestrator.ListConversations()
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string][]string{"conversations": ids}, s.logger)
}

func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.orchestrator.Stats(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("conversation %s not found", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orchestrator.DeleteConversation(id) {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("conversation %s not found", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"message": fmt.Sprintf("conversation %s cleared", id),
	}, s.logger)
}

// SweepRequest is the request body for POST /api/conversations/sweep.
type SweepRequest struct {
	MaxAgeHours int `json:"max_age_hours"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	req := SweepRequest{MaxAgeHours: 24}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.MaxAgeHours <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "max_age_hours must be positive")
		return
	}

	removed := s.orchestrator.SweepStale(time.Duration(req.MaxAgeHours) * time.Hour)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{"removed": removed}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "orca-agents",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"service": "orca-agents",
		"version": buildinfo.Version,
	}, s.logger)
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := func(p backend.Profile) string {
		if err := s.clients[p.Name].Ping(ctx); err != nil {
			s.logger.Warn("backend health check failed", "profile", p.Name, "error", err)
			return "unreachable"
		}
		return "healthy"
	}

	fast := status(s.selector.Fast())
	deep := status(s.selector.Deep())
	overall := "healthy"
	if fast != "healthy" || deep != "healthy" {
		overall = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":       overall,
		"service":      "orca-agents-api",
		"version":      buildinfo.Version,
		"fast_backend": fast,
		"deep_backend": deep,
	}, s.logger)
}
