// Package api exposes the read-only HTTP surface next to the streaming
// endpoint: a liveness probe and per-room statistics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lookout/pkg/types"
)

// ConnectionCounter reports how many live connections of a role are bound
// to a room, plus service-wide totals.
type ConnectionCounter interface {
	CountInRoom(role, room string) int
	Stats() map[string]int
}

// RosterReader reads room membership as maintained by the directory.
type RosterReader interface {
	Snapshot(room string) []types.Participant
	StudentCount(room string) int
}

// Server serves the HTTP API.
type Server struct {
	counter ConnectionCounter
	roster  RosterReader
	logger  *slog.Logger
}

// NewServer builds the API server over the shared connection and roster
// state.
func NewServer(counter ConnectionCounter, roster RosterReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{counter: counter, roster: roster, logger: logger}
}

// Routes mounts the API on a fresh chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/rooms/{room}/stats", s.handleRoomStats)

	return r
}

// corsMiddleware allows browser dashboards served from any origin to read
// the API. Mirrors the permissive policy of the streaming endpoint.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.counter.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"teachers": stats["teachers"],
		"students": stats["students"],
		"rooms":    stats["rooms"],
	})
}

func (s *Server) handleRoomStats(w http.ResponseWriter, r *http.Request) {
	roomID := types.NormalizeRoom(chi.URLParam(r, "room"))

	students := s.roster.Snapshot(roomID)
	s.writeJSON(w, http.StatusOK, types.RoomStats{
		Room:          roomID,
		TeachersCount: s.counter.CountInRoom(types.RoleTeacher, roomID),
		StudentsCount: len(students),
		Students:      students,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
