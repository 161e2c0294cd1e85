// Package server exposes the administrative control surface and the SSE
// event transport. It sits outside the engine core: nothing here can reach
// the gate except through the same Approve/Reject entry points a human
// operator uses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatehouse-io/gatehouse/internal/config"
	"github.com/gatehouse-io/gatehouse/internal/engine"
	"github.com/gatehouse-io/gatehouse/pkg/toolset"
)

// Options configures the admin server
type Options struct {
	Host string
	Port int

	// Metrics, when set, is served at /metrics
	Metrics http.Handler
}

// Server is the admin + transport HTTP server
type Server struct {
	options Options
	server  *http.Server
	engine  *engine.Engine
	cfg     *config.Manager
	logger  zerolog.Logger
}

// NewServer creates the admin server
func NewServer(options Options, eng *engine.Engine, cfg *config.Manager, logger zerolog.Logger) *Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.Port == 0 {
		options.Port = 8470
	}

	return &Server{
		options: options,
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start starts serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/tool-access-mode", s.handleAccessMode)
	mux.HandleFunc("/confirmations/", s.handleConfirmation)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.options.Metrics != nil {
		mux.Handle("/metrics", s.options.Metrics)
	}

	addr := fmt.Sprintf("%s:%d", s.options.Host, s.options.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Admin server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAccessMode implements GET/PUT of the tool access mode
func (s *Server) handleAccessMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{
			"tool_access_mode": string(s.cfg.AccessMode()),
		})

	case http.MethodPut:
		var body struct {
			Mode string `json:"tool_access_mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := s.cfg.SetAccessMode(toolset.AccessMode(body.Mode)); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tool_access_mode": body.Mode})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConfirmation routes POST /confirmations/{conversation}/{call}/approve|reject
func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/confirmations/"), "/"), "/")
	if len(parts) != 3 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	conversationID, callID, action := parts[0], parts[1], parts[2]

	switch action {
	case "approve":
		// The resumed call must outlive the approver's HTTP request: an
		// admin client disconnecting right after POST must not cancel the
		// tool call it just approved.
		result := s.engine.Executor().Approve(context.WithoutCancel(r.Context()), conversationID, callID)
		writeJSON(w, http.StatusOK, result)
	case "reject":
		result := s.engine.Executor().Reject(conversationID, callID)
		writeJSON(w, http.StatusOK, result)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
