package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Dashboard WebSocket lives at the root, outside the REST prefix.
	if s.hub != nil {
		r.Get(s.wsPath, s.hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/room", s.handleUpdateRoom)

			r.Route("/props", func(r chi.Router) {
				r.Get("/", s.handleListProps)
				r.Post("/", s.handleCreateProp)
				r.Put("/{propId}", s.handleUpdateProp)
				r.Delete("/{propId}", s.handleDeleteProp)
			})

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", s.handleListScenarios)
				r.Post("/", s.handleCreateScenario)
				r.Put("/{ruleId}", s.handleUpdateScenario)
				r.Delete("/{ruleId}", s.handleDeleteScenario)
			})

			r.Put("/mqtt", s.handleUpdateMQTT)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/stats", s.handleSessionStats)
			r.Get("/{sessionId}", s.handleGetSession)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleState returns the live runtime state: room info, prop states,
// and the current session.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    s.store.RoomInfo(),
		"props":   s.store.Props(),
		"session": s.store.Session(),
	})
}
