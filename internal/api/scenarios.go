package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// handleListScenarios returns the scenario rules from the room document.
func (s *Server) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}
	writeJSON(w, http.StatusOK, def.Scenarios)
}

// handleCreateScenario appends a rule to the room document and
// hot-reloads. A missing rule ID is generated.
func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var rule roomcfg.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()
	}
	for _, existing := range def.Scenarios {
		if existing.ID == rule.ID {
			writeConflict(w, "scenario rule "+rule.ID+" already exists")
			return
		}
	}

	def.Scenarios = append(def.Scenarios, rule)

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"rule":            rule,
		"restartRequired": false,
	})
}

// handleUpdateScenario replaces a rule wholesale and hot-reloads.
func (s *Server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var rule roomcfg.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	rule.ID = ruleID

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	index := scenarioIndex(def, ruleID)
	if index == -1 {
		writeNotFound(w, "scenario rule "+ruleID+" not found")
		return
	}
	def.Scenarios[index] = rule

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"rule":            rule,
		"restartRequired": false,
	})
}

// handleDeleteScenario removes a rule and hot-reloads.
func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	index := scenarioIndex(def, ruleID)
	if index == -1 {
		writeNotFound(w, "scenario rule "+ruleID+" not found")
		return
	}
	def.Scenarios = append(def.Scenarios[:index], def.Scenarios[index+1:]...)

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"restartRequired": false,
	})
}

// scenarioIndex finds a rule by ID, or -1.
func scenarioIndex(def *roomcfg.Definition, ruleID string) int {
	for i := range def.Scenarios {
		if def.Scenarios[i].ID == ruleID {
			return i
		}
	}
	return -1
}
