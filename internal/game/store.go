package game

import (
	"sort"
	"sync"
	"time"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// Logger is the minimal logging interface the store requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the authoritative owner of room, prop, and session state.
//
// All access goes through its methods; the internal mutex is the single
// serialization point for the three concurrent input sources (device
// bridge, realtime bridge, automation engine). Mutations return a
// description of what changed so callers can decide whether to
// broadcast. The store performs no I/O of its own except appending
// completed sessions to History.
type Store struct {
	mu      sync.Mutex
	room    roomcfg.RoomInfo
	props   map[string]*Prop
	session Session

	events  chan Event
	history History
	logger  Logger

	// now is replaceable in tests for deterministic time arithmetic.
	now func() time.Time
}

// NewStore builds a store from a validated room definition.
//
// History may be nil, in which case completed sessions are not
// persisted. Logger may be nil.
func NewStore(def *roomcfg.Definition, history History, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Store{
		room:    def.Room,
		props:   make(map[string]*Prop, len(def.Props)),
		events:  make(chan Event, eventBuffer),
		history: history,
		logger:  logger,
		now:     time.Now,
	}
	for _, pd := range def.Props {
		s.props[pd.PropID] = newProp(pd)
	}
	return s
}

// SetNowFunc replaces the store's clock. Test hook.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// newProp builds a prop with default runtime state from its definition.
func newProp(pd roomcfg.PropDef) *Prop {
	sensors := make([]Sensor, len(pd.Sensors))
	for i, sd := range pd.Sensors {
		sensors[i] = Sensor{SensorID: sd.SensorID, Label: sd.Label}
	}
	return &Prop{
		PropID:  pd.PropID,
		Name:    pd.Name,
		Order:   pd.Order,
		Sensors: sensors,
	}
}

// nowMs returns the current time in Unix milliseconds. Callers hold mu.
func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// RoomInfo returns the room identity.
func (s *Store) RoomInfo() roomcfg.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Session returns a copy of the current session state.
func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Props returns copies of all props, ordered by step then id.
func (s *Store) Props() []Prop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propsLocked()
}

// Prop returns a copy of one prop, or false if not configured.
func (s *Store) Prop(propID string) (Prop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[propID]
	if !ok {
		return Prop{}, false
	}
	return copyProp(p), true
}

// FullState returns the snapshot sent to newly connected clients.
func (s *Store) FullState() FullState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FullState{
		Session: s.session,
		Props:   s.propsLocked(),
	}
}

// propsLocked returns sorted prop copies. Callers hold mu.
func (s *Store) propsLocked() []Prop {
	props := make([]Prop, 0, len(s.props))
	for _, p := range s.props {
		props = append(props, copyProp(p))
	}
	sort.Slice(props, func(i, j int) bool {
		if props[i].Order != props[j].Order {
			return props[i].Order < props[j].Order
		}
		return props[i].PropID < props[j].PropID
	})
	return props
}

// copyProp deep-copies a prop so callers never alias store internals.
func copyProp(p *Prop) Prop {
	cp := *p
	cp.Sensors = make([]Sensor, len(p.Sensors))
	copy(cp.Sensors, p.Sensors)
	if p.StartedAt != nil {
		v := *p.StartedAt
		cp.StartedAt = &v
	}
	if p.SolvedAt != nil {
		v := *p.SolvedAt
		cp.SolvedAt = &v
	}
	return cp
}
