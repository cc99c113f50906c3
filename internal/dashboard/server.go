// Package dashboard serves the read-only inspection surface: live session
// groups with token counts, and a forced-rotation trigger.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/session"
)

// Server is the dashboard HTTP server.
type Server struct {
	cfg   config.DashboardConfig
	store *session.Store
	http  *http.Server
}

// New creates a dashboard server over the session registry.
func New(cfg config.DashboardConfig, store *session.Store) *Server {
	s := &Server{cfg: cfg, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/rotate", s.handleRotate)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	slog.Info("Dashboard started", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSessions lists sessions. ?all=1 includes archived history.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var entries []session.Entry
	if r.URL.Query().Get("all") != "" {
		entries = s.store.ListAll()
	} else {
		entries = s.store.ListLive()
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// handleRotate force-rotates a named group.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Group string `json:"group"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Group) == "" {
		http.Error(w, "group is required", http.StatusBadRequest)
		return
	}

	sessionID, ok := s.store.Archive(req.Group, "force-rotated via dashboard")
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"rotated": false,
			"error":   "no live session for group",
		})
		return
	}
	slog.Info("Session force-rotated", "group", req.Group, "old_session", sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"rotated":    true,
		"session_id": sessionID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
