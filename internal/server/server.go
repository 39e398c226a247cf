// Package server exposes a small local HTTP API over the persisted
// snapshots and the history database, for scripts that prefer HTTP over
// reading the snapshot files directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/snapshot"
	"github.com/quotabar/quotabar/pkg/storage"
)

// Server provides health check and usage API endpoints.
type Server struct {
	store   *snapshot.Store
	history storage.History
	mux     *http.ServeMux
	logger  *slog.Logger
}

// NewServer creates an API server. history may be nil, in which case the
// history endpoint reports 404.
func NewServer(store *snapshot.Store, history storage.History, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		history: history,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/usage/{provider}", s.handleUsage)
	s.mux.HandleFunc("GET /api/usage/{provider}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/tokens/{provider}", s.handleTokens)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) provider(w http.ResponseWriter, r *http.Request) (model.UsageProvider, bool) {
	p, ok := model.ParseProvider(r.PathValue("provider"))
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return "", false
	}
	return p, true
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	snap, err := s.store.LoadUsage(p)
	if errors.Is(err, snapshot.ErrNotFound) {
		http.Error(w, "not fetched yet", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("load usage snapshot", "provider", p, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	snap, err := s.store.LoadTokenUsage(p)
	if errors.Is(err, snapshot.ErrNotFound) {
		http.Error(w, "not fetched yet", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("load token snapshot", "provider", p, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "bad since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	entries, err := s.history.UsageHistory(ctx, p, since, 500)
	if err != nil {
		s.logger.Error("query usage history", "provider", p, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
