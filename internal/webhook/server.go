// Package webhook receives Huly change notifications and turns them into
// sync work. The listener is optional: serve starts it only when
// HULY_WEBHOOK_ADDR is set, and polling covers everything it would catch,
// just later.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event is one decoded delivery. Type is the Huly event class
// (issue.created, issue.updated, project.updated, ...); the identifiers
// are optional and narrow the sync the event triggers.
type Event struct {
	Type              string `json:"type"`
	ProjectIdentifier string `json:"project,omitempty"`
	IssueIdentifier   string `json:"issue,omitempty"`
	ModifiedOn        int64  `json:"modifiedOn,omitempty"` // epoch ms
}

// Sink receives validated events. The durable sink enqueues a workflow;
// the plain sink calls the orchestrator directly.
type Sink interface {
	Enqueue(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Enqueue calls f.
func (f SinkFunc) Enqueue(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Server handles HTTP requests for Huly webhook deliveries.
type Server struct {
	sink       Sink
	secret     []byte
	logger     *zap.Logger
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Sink   Sink
	Secret []byte // HMAC secret; empty accepts unsigned deliveries
	Logger *zap.Logger
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		sink:   cfg.Sink,
		secret: cfg.Secret,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/hooks/huly", s.handleHuly)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// hulyResponse is the JSON response body.
type hulyResponse struct {
	Accepted bool   `json:"accepted"`
	Type     string `json:"type,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleHuly handles POST /hooks/huly.
func (s *Server) handleHuly(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	if len(s.secret) > 0 {
		if err := VerifySignature(body, r.Header.Get(SignatureHeader), s.secret); err != nil {
			s.logger.Warn("webhook rejected", zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if ev.Type == "" {
		s.writeError(w, http.StatusBadRequest, "missing event type")
		return
	}

	if err := s.sink.Enqueue(r.Context(), ev); err != nil {
		s.logger.Error("webhook enqueue failed",
			zap.String("type", ev.Type), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.logger.Debug("webhook accepted",
		zap.String("type", ev.Type),
		zap.String("project", ev.ProjectIdentifier),
		zap.String("issue", ev.IssueIdentifier))

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(hulyResponse{Accepted: true, Type: ev.Type})
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(hulyResponse{
		Accepted: false,
		Error:    message,
	})
}
