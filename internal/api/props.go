package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// handleListProps returns the prop definitions from the room document.
func (s *Server) handleListProps(w http.ResponseWriter, _ *http.Request) {
	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}
	writeJSON(w, http.StatusOK, def.Props)
}

// createPropRequest is the body for POST /config/props.
type createPropRequest struct {
	PropID  string              `json:"propId"`
	Name    string              `json:"name"`
	Order   int                 `json:"order"`
	Sensors []roomcfg.SensorDef `json:"sensors"`
}

// handleCreateProp appends a prop to the room document and hot-reloads.
func (s *Server) handleCreateProp(w http.ResponseWriter, r *http.Request) {
	var req createPropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.PropID == "" || req.Name == "" {
		writeBadRequest(w, "propId and name are required")
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	if def.Prop(req.PropID) != nil {
		writeConflict(w, "prop "+req.PropID+" already exists")
		return
	}

	order := req.Order
	if order == 0 {
		order = len(def.Props) + 1
	}
	prop := roomcfg.PropDef{
		PropID:  req.PropID,
		Name:    req.Name,
		Order:   order,
		Sensors: req.Sensors,
	}
	def.Props = append(def.Props, prop)
	sortProps(def)

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"prop":            prop,
		"restartRequired": false,
	})
}

// updatePropRequest is the body for PUT /config/props/{propId}.
// Pointer fields distinguish "absent" from zero values.
type updatePropRequest struct {
	Name    *string              `json:"name"`
	Order   *int                 `json:"order"`
	Sensors *[]roomcfg.SensorDef `json:"sensors"`
}

// handleUpdateProp patches a prop definition and hot-reloads.
func (s *Server) handleUpdateProp(w http.ResponseWriter, r *http.Request) {
	propID := chi.URLParam(r, "propId")

	var req updatePropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
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

	prop := def.Prop(propID)
	if prop == nil {
		writeNotFound(w, "prop "+propID+" not found")
		return
	}

	if req.Name != nil {
		prop.Name = *req.Name
	}
	if req.Order != nil {
		prop.Order = *req.Order
	}
	if req.Sensors != nil {
		prop.Sensors = *req.Sensors
	}
	sortProps(def)

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"prop":            def.Prop(propID),
		"restartRequired": false,
	})
}

// handleDeleteProp removes a prop from the room document and hot-reloads.
func (s *Server) handleDeleteProp(w http.ResponseWriter, r *http.Request) {
	propID := chi.URLParam(r, "propId")

	s.configMu.Lock()
	defer s.configMu.Unlock()

	def, err := s.loadRoomConfig()
	if err != nil {
		writeInternalError(w, "failed to read room configuration")
		return
	}

	index := -1
	for i := range def.Props {
		if def.Props[i].PropID == propID {
			index = i
			break
		}
	}
	if index == -1 {
		writeNotFound(w, "prop "+propID+" not found")
		return
	}

	def.Props = append(def.Props[:index], def.Props[index+1:]...)

	if err := s.saveAndReload(def); err != nil {
		s.writeSaveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"restartRequired": false,
	})
}

// sortProps keeps the document ordered by solve order.
func sortProps(def *roomcfg.Definition) {
	sort.SliceStable(def.Props, func(i, j int) bool {
		return def.Props[i].Order < def.Props[j].Order
	})
}
