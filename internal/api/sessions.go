package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Barraka/room-controller/internal/game"
)

// defaultSessionLimit caps the session list when no limit is given.
const defaultSessionLimit = 50

// handleListSessions returns recent session records, newest first.
// An optional ?limit=N query bounds the result.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []game.Record{})
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list session history", "error", err)
		writeInternalError(w, "failed to list session history")
		return
	}
	if records == nil {
		records = []game.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetSession returns one session record by ID.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if s.history == nil {
		writeNotFound(w, "session "+sessionID+" not found")
		return
	}

	record, err := s.history.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, game.ErrRecordNotFound) {
			writeNotFound(w, "session "+sessionID+" not found")
			return
		}
		s.logger.Error("failed to load session record", "session_id", sessionID, "error", err)
		writeInternalError(w, "failed to load session record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleSessionStats returns aggregate statistics over all recorded sessions.
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, game.HistoryStats{})
		return
	}

	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute session stats", "error", err)
		writeInternalError(w, "failed to compute session stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
