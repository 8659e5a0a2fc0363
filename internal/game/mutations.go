package game

import (
	"context"
	"fmt"
	"time"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// historyTimeout bounds the synchronous history append at session end.
const historyTimeout = 5 * time.Second

// SetPropOnline records a presence change. Idempotent: returns a nil
// update when the value is unchanged. Unknown props are reported, not
// fatal, since retained presence messages can outlive a config change.
func (s *Store) SetPropOnline(propID string, online bool) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prop, ok := s.props[propID]
	if !ok {
		s.logger.Warn("presence for unknown prop", "prop_id", propID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownProp, propID)
	}
	if prop.Online == online {
		return nil, nil
	}

	prop.Online = online
	s.logger.Info("prop presence changed", "prop_id", propID, "online", online)
	return &Update{PropID: propID, Changes: map[string]any{"online": online}}, nil
}

// ApplyDeviceStatus merges a partial status report into a prop,
// computing a minimal diff. A nil update with nil error means nothing
// changed and callers should not broadcast.
//
// Transitions: solved false→true stamps solvedAt (true→false clears
// it); the first sensor false→true while a session is active stamps the
// prop's startedAt.
func (s *Store) ApplyDeviceStatus(propID string, status DeviceStatus) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prop, ok := s.props[propID]
	if !ok {
		s.logger.Warn("status for unknown prop", "prop_id", propID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownProp, propID)
	}

	changes := make(map[string]any)
	nowMs := s.nowMs()

	if status.Online != nil && *status.Online != prop.Online {
		prop.Online = *status.Online
		changes["online"] = prop.Online
	}

	if status.Solved != nil && *status.Solved != prop.Solved {
		prop.Solved = *status.Solved
		changes["solved"] = prop.Solved

		if prop.Solved {
			prop.SolvedAt = &nowMs
			changes["solvedAt"] = nowMs
			s.emit(Event{Type: EventPropSolved, PropID: propID})
		} else {
			prop.SolvedAt = nil
			changes["solvedAt"] = nil
		}
	}

	if status.Override != nil && *status.Override != prop.Override {
		prop.Override = *status.Override
		changes["override"] = prop.Override
	}

	if status.Details != nil && len(status.Details.Sensors) > 0 && len(prop.Sensors) > 0 {
		var sensorChanges []SensorChange
		for _, su := range status.Details.Sensors {
			if su.Triggered == nil {
				continue
			}
			sensor := findSensor(prop, su.SensorID)
			if sensor == nil || sensor.Triggered == *su.Triggered {
				continue
			}
			sensor.Triggered = *su.Triggered

			if sensor.Triggered {
				s.markFirstInteraction(prop, nowMs, changes)
				s.emit(Event{Type: EventSensorTriggered, PropID: propID, SensorID: sensor.SensorID})
			}
			sensorChanges = append(sensorChanges, SensorChange{
				SensorID:  sensor.SensorID,
				Triggered: sensor.Triggered,
			})
		}
		if len(sensorChanges) > 0 {
			changes["sensors"] = sensorChanges
		}
	}

	if len(changes) == 0 {
		return nil, nil
	}
	s.logger.Debug("prop status applied", "prop_id", propID, "changes", len(changes))
	return &Update{PropID: propID, Changes: changes}, nil
}

// ForceSolve marks a prop solved via GM bypass. Idempotent: an already
// solved prop yields a nil update.
func (s *Store) ForceSolve(propID string) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prop, ok := s.props[propID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProp, propID)
	}
	if prop.Solved {
		return nil, nil
	}

	nowMs := s.nowMs()
	prop.Solved = true
	prop.Override = true
	prop.SolvedAt = &nowMs

	s.logger.Info("prop force-solved", "prop_id", propID)
	s.emit(Event{Type: EventPropSolved, PropID: propID})

	return &Update{PropID: propID, Changes: map[string]any{
		"solved":   true,
		"solvedAt": nowMs,
		"override": true,
	}}, nil
}

// ResetProp unconditionally clears a prop's runtime state: solved,
// override, both timestamps, and every sensor's triggered flag.
func (s *Store) ResetProp(propID string) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prop, ok := s.props[propID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProp, propID)
	}

	prop.Solved = false
	prop.Override = false
	prop.StartedAt = nil
	prop.SolvedAt = nil

	changes := map[string]any{
		"solved":    false,
		"solvedAt":  nil,
		"override":  false,
		"startedAt": nil,
	}

	if len(prop.Sensors) > 0 {
		sensorChanges := make([]SensorChange, len(prop.Sensors))
		for i := range prop.Sensors {
			prop.Sensors[i].Triggered = false
			sensorChanges[i] = SensorChange{SensorID: prop.Sensors[i].SensorID}
		}
		changes["sensors"] = sensorChanges
	}

	s.logger.Info("prop reset", "prop_id", propID)
	return &Update{PropID: propID, Changes: changes}, nil
}

// TriggerSensor sets one sensor's triggered flag from an operator
// command, applying the same first-interaction rule as device status.
func (s *Store) TriggerSensor(propID, sensorID string) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prop, ok := s.props[propID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProp, propID)
	}
	sensor := findSensor(prop, sensorID)
	if sensor == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSensor, propID, sensorID)
	}

	nowMs := s.nowMs()
	changes := map[string]any{
		"sensors": []SensorChange{{SensorID: sensorID, Triggered: true}},
	}

	if !sensor.Triggered {
		sensor.Triggered = true
		s.markFirstInteraction(prop, nowMs, changes)
		s.emit(Event{Type: EventSensorTriggered, PropID: propID, SensorID: sensorID})
	}

	s.logger.Info("sensor triggered by operator", "prop_id", propID, "sensor_id", sensorID)
	return &Update{PropID: propID, Changes: changes}, nil
}

// markFirstInteraction stamps a prop's startedAt on its first sensor
// activity during an active session. Callers hold mu.
func (s *Store) markFirstInteraction(prop *Prop, nowMs int64, changes map[string]any) {
	if prop.StartedAt != nil || !s.session.Active {
		return
	}
	prop.StartedAt = &nowMs
	changes["startedAt"] = nowMs
}

// StartSession begins a new session, re-arming the whole room: all
// prop and sensor runtime fields return to initial values.
func (s *Store) StartSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Active {
		return s.session, ErrSessionActive
	}

	nowMs := s.nowMs()
	s.session = Session{Active: true, StartedAt: &nowMs}

	for _, prop := range s.props {
		prop.Solved = false
		prop.Override = false
		prop.StartedAt = nil
		prop.SolvedAt = nil
		for i := range prop.Sensors {
			prop.Sensors[i].Triggered = false
		}
	}

	s.logger.Info("session started", "room_id", s.room.ID)
	s.emit(Event{Type: EventSessionStarted})
	return s.session, nil
}

// PauseSession suspends the session clock.
func (s *Store) PauseSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active {
		return s.session, ErrNoActiveSession
	}
	if s.session.PausedAt != nil {
		return s.session, ErrAlreadyPaused
	}

	nowMs := s.nowMs()
	s.session.PausedAt = &nowMs
	s.logger.Info("session paused")
	return s.session, nil
}

// ResumeSession resumes a paused session, accumulating the completed
// pause interval into totalPausedMs.
func (s *Store) ResumeSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active {
		return s.session, ErrNoActiveSession
	}
	if s.session.PausedAt == nil {
		return s.session, ErrNotPaused
	}

	paused := s.nowMs() - *s.session.PausedAt
	s.session.TotalPausedMs += paused
	s.session.PausedAt = nil
	s.logger.Info("session resumed", "paused_ms", paused)
	return s.session, nil
}

// EndSession finalizes the active session: closes out any in-progress
// pause, computes real duration, per-prop stats, and step durations,
// appends the record to history, and marks the session inactive.
func (s *Store) EndSession(result string, comments *string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active {
		return nil, ErrNoActiveSession
	}

	nowMs := s.nowMs()
	if s.session.PausedAt != nil {
		s.session.TotalPausedMs += nowMs - *s.session.PausedAt
		s.session.PausedAt = nil
	}

	startedAt := *s.session.StartedAt
	s.session.EndedAt = &nowMs
	s.session.Active = false

	record := &Record{
		SessionID:      fmt.Sprintf("session-%d", startedAt),
		Result:         result,
		StartedAt:      startedAt,
		EndedAt:        nowMs,
		TotalPausedMs:  s.session.TotalPausedMs,
		RealDurationMs: nowMs - startedAt - s.session.TotalPausedMs,
		HintsGiven:     s.session.HintsGiven,
		Comments:       comments,
		PropStats:      s.buildPropStats(),
		StepDurations:  s.buildStepDurations(startedAt),
	}

	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := s.history.Append(ctx, record); err != nil {
			// History is best-effort; the session still ends.
			s.logger.Error("failed to persist session record",
				"session_id", record.SessionID, "error", err)
		}
		cancel()
	}

	s.logger.Info("session ended",
		"result", result,
		"real_duration_ms", record.RealDurationMs,
	)
	s.emit(Event{Type: EventSessionEnded, Record: record})
	return record, nil
}

// AbortSession unconditionally discards the current session without
// writing a history record. Used for error and cancel paths.
func (s *Store) AbortSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive := s.session.Active
	s.session = Session{}

	if wasActive {
		s.logger.Info("session aborted")
		s.emit(Event{Type: EventSessionAborted})
	}
	return s.session
}

// IncrementHints bumps the hint counter for the active session.
func (s *Store) IncrementHints() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active {
		return s.session, ErrNoActiveSession
	}

	s.session.HintsGiven++
	s.logger.Info("hint given", "total", s.session.HintsGiven)
	return s.session, nil
}

// ReloadConfig reconciles the live prop set against a new definition:
// props absent from the new set are removed, new props are added with
// default runtime state, and props present in both keep their online,
// solved, startedAt, solvedAt, and per-sensor triggered values while
// taking the new name, order, and sensor labels. An active session is
// never interrupted.
func (s *Store) ReloadConfig(def *roomcfg.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.room = def.Room

	keep := make(map[string]struct{}, len(def.Props))
	for _, pd := range def.Props {
		keep[pd.PropID] = struct{}{}
	}
	for propID := range s.props {
		if _, ok := keep[propID]; !ok {
			delete(s.props, propID)
			s.logger.Info("prop removed on reload", "prop_id", propID)
		}
	}

	for _, pd := range def.Props {
		existing, ok := s.props[pd.PropID]
		if !ok {
			s.props[pd.PropID] = newProp(pd)
			s.logger.Info("prop added on reload", "prop_id", pd.PropID)
			continue
		}

		existing.Name = pd.Name
		existing.Order = pd.Order

		triggered := make(map[string]bool, len(existing.Sensors))
		for _, sensor := range existing.Sensors {
			triggered[sensor.SensorID] = sensor.Triggered
		}
		sensors := make([]Sensor, len(pd.Sensors))
		for i, sd := range pd.Sensors {
			sensors[i] = Sensor{
				SensorID:  sd.SensorID,
				Label:     sd.Label,
				Triggered: triggered[sd.SensorID],
			}
		}
		existing.Sensors = sensors
	}

	s.logger.Info("room config reloaded", "props", len(s.props))
}

// buildPropStats snapshots per-prop outcomes for a session record.
// Callers hold mu.
func (s *Store) buildPropStats() []PropStat {
	props := s.propsLocked()
	stats := make([]PropStat, len(props))
	for i, p := range props {
		stat := PropStat{
			PropID:    p.PropID,
			Solved:    p.Solved,
			Override:  p.Override,
			StartedAt: p.StartedAt,
			SolvedAt:  p.SolvedAt,
		}
		if p.SolvedAt != nil && p.StartedAt != nil {
			d := *p.SolvedAt - *p.StartedAt
			stat.TimeToSolveMs = &d
		}
		stats[i] = stat
	}
	return stats
}

// buildStepDurations computes per-step timing: props grouped by order,
// walked ascending; each completed group's duration runs from the
// previous group's latest solve (or session start) to its own latest
// solve. The first incomplete group gets a nil duration and terminates
// the walk. Callers hold mu.
func (s *Store) buildStepDurations(sessionStart int64) []StepDuration {
	props := s.propsLocked()
	if len(props) == 0 {
		return nil
	}

	type stepGroup struct {
		order int
		props []Prop
	}
	// propsLocked returns props sorted by order, so consecutive
	// grouping yields ascending steps.
	var steps []stepGroup
	for _, p := range props {
		if len(steps) == 0 || steps[len(steps)-1].order != p.Order {
			steps = append(steps, stepGroup{order: p.Order})
		}
		steps[len(steps)-1].props = append(steps[len(steps)-1].props, p)
	}

	var durations []StepDuration
	prevSolvedAt := sessionStart
	for _, step := range steps {
		propIDs := make([]string, len(step.props))
		allSolved := true
		var latest int64
		for i, p := range step.props {
			propIDs[i] = p.PropID
			if !p.Solved || p.SolvedAt == nil {
				allSolved = false
				continue
			}
			if *p.SolvedAt > latest {
				latest = *p.SolvedAt
			}
		}

		if !allSolved {
			// Later steps cannot have meaningful timing past an
			// uncleared gate.
			durations = append(durations, StepDuration{Step: step.order, PropIDs: propIDs})
			break
		}

		d := latest - prevSolvedAt
		durations = append(durations, StepDuration{Step: step.order, DurationMs: &d, PropIDs: propIDs})
		prevSolvedAt = latest
	}
	return durations
}

// findSensor locates a sensor within a prop. Callers hold mu.
func findSensor(prop *Prop, sensorID string) *Sensor {
	for i := range prop.Sensors {
		if prop.Sensors[i].SensorID == sensorID {
			return &prop.Sensors[i]
		}
	}
	return nil
}
