package game

// EventType identifies a state transition published to the automation
// engine.
type EventType string

// Event types emitted by the store.
const (
	EventPropSolved      EventType = "prop_solved"
	EventSensorTriggered EventType = "sensor_triggered"
	EventSessionStarted  EventType = "session_started"
	EventSessionEnded    EventType = "session_ended"
	EventSessionAborted  EventType = "session_aborted"
)

// Event is one state transition. PropID and SensorID are set for the
// prop-level types; Record is set only for EventSessionEnded.
type Event struct {
	Type     EventType
	PropID   string
	SensorID string
	Record   *Record
}

// eventBuffer sizes the store-to-engine channel. The engine consumes
// promptly; the buffer absorbs bursts (a status update can solve a prop
// and trigger several sensors at once).
const eventBuffer = 64

// Events returns the channel of state transitions. Single consumer:
// events are delivered in mutation order.
func (s *Store) Events() <-chan Event {
	return s.events
}

// emit publishes an event without blocking. The store holds its mutex
// while emitting, so a full channel drops the event rather than
// deadlocking against a consumer that is calling back into the store.
func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event",
			"type", string(ev.Type),
			"prop_id", ev.PropID,
		)
	}
}
