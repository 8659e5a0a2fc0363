package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
room:
  config_file: "/tmp/room.json"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-hub"
  base_topic: "ey/site-a/room-1"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Room.ConfigFile != "/tmp/room.json" {
		t.Errorf("Room.ConfigFile = %q, want %q", cfg.Room.ConfigFile, "/tmp/room.json")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.BaseTopic != "ey/site-a/room-1" {
		t.Errorf("MQTT.BaseTopic = %q, want %q", cfg.MQTT.BaseTopic, "ey/site-a/room-1")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	// Minimal file; defaults should fill the rest.
	cfg, err := Load(writeConfig(t, "room:\n  config_file: \"/tmp/room.json\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want %q", cfg.WebSocket.Path, "/ws")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
room:
  config_file: ""
mqtt:
  base_topic: "ey/#"
  qos: 7
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROOMHUB_MQTT_HOST", "override.local")
	t.Setenv("ROOMHUB_API_PORT", "9090")

	cfg, err := Load(writeConfig(t, "room:\n  config_file: \"/tmp/room.json\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "override.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "override.local")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}
