// Room Hub - Escape Room Control Service
//
// This is the main entry point for the room controller. A single hub
// process is the authority for one physical room: it bridges battery
// powered props over MQTT, serves the game-master dashboard over
// WebSocket, runs the scenario automation engine, and records finished
// sessions to SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/Barraka/room-controller/migrations"

	"github.com/Barraka/room-controller/internal/api"
	"github.com/Barraka/room-controller/internal/bridge"
	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/config"
	"github.com/Barraka/room-controller/internal/infrastructure/database"
	"github.com/Barraka/room-controller/internal/infrastructure/logging"
	"github.com/Barraka/room-controller/internal/infrastructure/mqtt"
	"github.com/Barraka/room-controller/internal/infrastructure/tsdb"
	"github.com/Barraka/room-controller/internal/realtime"
	"github.com/Barraka/room-controller/internal/roomcfg"
	"github.com/Barraka/room-controller/internal/scenario"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting room hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Load the room document. The hub refuses to start on an invalid
	// document; a broken room is better caught at boot than mid-game.
	def, err := roomcfg.Load(cfg.Room.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading room config: %w", err)
	}
	log.Info("room config loaded",
		"room", def.Room.ID,
		"props", len(def.Props),
		"scenarios", len(def.Scenarios),
	)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Game store: the single authority for room state
	history := game.NewSQLiteHistory(db, def.Room.ID)
	store := game.NewStore(def, history, log)

	// Connect to InfluxDB (optional telemetry)
	var telemetry *tsdb.Client
	if cfg.InfluxDB.Enabled {
		telemetry, err = tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		telemetry.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the MQTT broker. The room ID is appended to the client
	// ID prefix so multiple hubs can share one broker.
	cfg.MQTT.Broker.ClientID = cfg.MQTT.Broker.ClientID + "-" + def.Room.ID
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Realtime hub for dashboards
	hub := realtime.NewHub(cfg.WebSocket, store, telemetry, log)
	go hub.Run(ctx)

	// Device bridge: MQTT props in, dashboard broadcasts out
	deviceBridge := bridge.New(store, mqttClient, hub, telemetry, log)
	if err := deviceBridge.Start(); err != nil {
		return fmt.Errorf("starting device bridge: %w", err)
	}
	hub.SetBridge(deviceBridge)
	log.Info("device bridge started", "base_topic", cfg.MQTT.BaseTopic)

	// Scenario engine consumes store events
	engine := scenario.New(def.Scenarios, store, deviceBridge, hub, log)
	go engine.Run(ctx, store.Events())
	log.Info("scenario engine started", "rules", len(def.Scenarios))

	// Admin API server (also mounts the dashboard WebSocket)
	server, err := api.New(api.Deps{
		Config:            cfg.API,
		WSPath:            cfg.WebSocket.Path,
		Logger:            log,
		Store:             store,
		History:           history,
		Engine:            engine,
		Hub:               hub,
		RoomConfigPath:    cfg.Room.ConfigFile,
		ServiceConfigPath: configPath,
		Version:           version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, telemetry, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "room", def.Room.ID)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("room hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ROOMHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ROOMHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetry *tsdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if telemetry != nil {
		if err := telemetry.HealthCheck(ctx); err != nil {
			// Telemetry is best-effort; a broken time-series store must
			// not take the room down.
			if !errors.Is(err, tsdb.ErrNotConnected) {
				return fmt.Errorf("influxdb: %w", err)
			}
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
