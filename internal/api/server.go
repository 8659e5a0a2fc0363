// Package api provides the admin HTTP API and the WebSocket mount point
// for the room controller.
//
// It exposes room configuration management (room info, props, scenario
// rules, MQTT settings), runtime state queries, and session history.
// Configuration changes are persisted to the room document and applied
// immediately through the hot-reload path; only MQTT broker settings
// require a restart.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/config"
	"github.com/Barraka/room-controller/internal/infrastructure/logging"
	"github.com/Barraka/room-controller/internal/roomcfg"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RuleReloader swaps the scenario engine's rule set after a config save.
type RuleReloader interface {
	ReloadRules(rules []roomcfg.Rule)
}

// RealtimeHub is the slice of the dashboard hub the API server needs:
// serving WebSocket upgrades and pushing a fresh snapshot after a
// configuration change.
type RealtimeHub interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	BroadcastFullState()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config         config.APIConfig
	WSPath         string
	Logger         *logging.Logger
	Store          *game.Store
	History        game.History
	Engine         RuleReloader
	Hub            RealtimeHub
	RoomConfigPath string
	// ServiceConfigPath is the YAML service config file patched by the
	// MQTT settings endpoint. Empty disables that endpoint.
	ServiceConfigPath string
	Version           string
}

// Server is the admin HTTP server.
type Server struct {
	cfg               config.APIConfig
	wsPath            string
	logger            *logging.Logger
	store             *game.Store
	history           game.History
	engine            RuleReloader
	hub               RealtimeHub
	roomConfigPath    string
	serviceConfigPath string
	version           string
	server            *http.Server

	// configMu serializes the load-modify-save cycle of the config
	// handlers so concurrent edits cannot drop each other's changes.
	configMu sync.Mutex
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("game store is required")
	}
	if deps.RoomConfigPath == "" {
		return nil, fmt.Errorf("room config path is required")
	}

	wsPath := deps.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}

	return &Server{
		cfg:               deps.Config,
		wsPath:            wsPath,
		logger:            deps.Logger,
		store:             deps.Store,
		history:           deps.History,
		engine:            deps.Engine,
		hub:               deps.Hub,
		roomConfigPath:    deps.RoomConfigPath,
		serviceConfigPath: deps.ServiceConfigPath,
		version:           deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
