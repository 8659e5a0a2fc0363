package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// loadRoomConfig reads and validates the room document from disk.
func (s *Server) loadRoomConfig() (*roomcfg.Definition, error) {
	return roomcfg.Load(s.roomConfigPath)
}

// saveAndReload persists the room document and applies it to the live
// system: the store reconciles prop state, the engine swaps its rules,
// and every dashboard receives a fresh snapshot.
func (s *Server) saveAndReload(def *roomcfg.Definition) error {
	if err := roomcfg.Save(s.roomConfigPath, def); err != nil {
		return err
	}

	s.store.ReloadConfig(def)
	if s.engine != nil {
		s.engine.ReloadRules(def.Scenarios)
	}
	if s.hub != nil {
		s.hub.BroadcastFullState()
	}

	s.logger.Info("room configuration reloaded",
		"props", len(def.Props),
		"scenarios", len(def.Scenarios),
	)
	return nil
}

// handleGetConfig returns the full room document.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// updateRoomRequest is the body for PUT /config/room.
type updateRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Site string `json:"site"`
}

// handleUpdateRoom replaces the room info block of the room document.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req updateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ID == "" || req.Name == "" {
		writeBadRequest(w, "room id and name are required")
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	site := req.Site
	if site == "" {
		site = "default"
	}
	def.Room = roomcfg.RoomInfo{ID: req.ID, Name: req.Name, Site: site}

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"room":            def.Room,
		"restartRequired": false,
	})
}

// updateMQTTRequest is the body for PUT /config/mqtt. Absent fields are
// left untouched in the service configuration.
type updateMQTTRequest struct {
	Broker *struct {
		Host     *string `json:"host"`
		Port     *int    `json:"port"`
		TLS      *bool   `json:"tls"`
		ClientID *string `json:"clientId"`
	} `json:"broker"`
	BaseTopic *string `json:"baseTopic"`
	QoS       *int    `json:"qos"`
}

// handleUpdateMQTT patches the MQTT section of the YAML service
// configuration. Broker settings only take effect on the next start,
// so the response always reports restartRequired.
func (s *Server) handleUpdateMQTT(w http.ResponseWriter, r *http.Request) {
	if s.serviceConfigPath == "" {
		writeError(w, http.StatusNotImplemented, ErrCodeBadRequest, "service configuration is not writable")
		return
	}

	var req updateMQTTRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.QoS != nil && (*req.QoS < 0 || *req.QoS > 2) {
		writeBadRequest(w, "qos must be 0, 1, or 2")
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	doc, err := readServiceConfig(s.serviceConfigPath)
	if err != nil {
		writeInternalError(w, "failed to read service configuration")
		return
	}

	mqttSection := ensureMap(doc, "mqtt")
	if req.Broker != nil {
		broker := ensureMap(mqttSection, "broker")
		if req.Broker.Host != nil {
			broker["host"] = *req.Broker.Host
		}
		if req.Broker.Port != nil {
			broker["port"] = *req.Broker.Port
		}
		if req.Broker.TLS != nil {
			broker["tls"] = *req.Broker.TLS
		}
		if req.Broker.ClientID != nil {
			broker["client_id"] = *req.Broker.ClientID
		}
	}
	if req.BaseTopic != nil {
		mqttSection["base_topic"] = *req.BaseTopic
	}
	if req.QoS != nil {
		mqttSection["qos"] = *req.QoS
	}

	if err := writeServiceConfig(s.serviceConfigPath, doc); err != nil {
		writeInternalError(w, "failed to write service configuration")
		return
	}

	s.logger.Info("MQTT settings updated, restart required to apply")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"mqtt":            mqttSection,
		"restartRequired": true,
	})
}

// writeSaveError maps a room document save failure onto an HTTP error.
func (s *Server) writeSaveError(w http.ResponseWriter, err error) {
	if errors.Is(err, roomcfg.ErrInvalid) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	s.logger.Error("failed to save room configuration", "error", err)
	writeInternalError(w, "failed to save room configuration")
}

// readServiceConfig loads the YAML service config as a generic document
// so unknown sections survive a round trip.
func readServiceConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeServiceConfig writes the YAML service config atomically.
func writeServiceConfig(path string, doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best-effort cleanup
		return err
	}
	return nil
}

// ensureMap returns the named sub-map of doc, creating it if missing.
// YAML unmarshals nested mappings as map[string]any already.
func ensureMap(doc map[string]any, key string) map[string]any {
	if existing, ok := doc[key].(map[string]any); ok {
		return existing
	}
	section := map[string]any{}
	doc[key] = section
	return section
}
