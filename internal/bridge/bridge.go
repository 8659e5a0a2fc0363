package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/mqtt"
	"github.com/Barraka/room-controller/internal/infrastructure/tsdb"
)

// commandQoS: commands must reach the prop at least once.
const commandQoS byte = 1

// Bus is the slice of the MQTT client the bridge uses.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
}

// Broadcaster fans bridge-originated changes out to realtime clients.
type Broadcaster interface {
	BroadcastPropUpdate(update *game.Update)
	BroadcastEvent(propID, action, source string, details map[string]any)
	BroadcastPresence(propID string, online bool)
}

// Logger is the minimal logging interface the bridge requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// eventPayload is an inbound prop event message.
type eventPayload struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Source string         `json:"source"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// lwtPayload is an inbound last-will presence message.
type lwtPayload struct {
	Online bool `json:"online"`
}

// Bridge is the device side of the protocol bridge: it translates bus
// messages into state mutations and state mutations into dashboard
// broadcasts, and publishes outbound commands to props.
//
// Malformed payloads are logged and dropped; the bridge never crashes
// on bad input. Resubscription after a reconnect is handled by the
// underlying client.
type Bridge struct {
	store     *game.Store
	bus       Bus
	broadcast Broadcaster
	telemetry *tsdb.Client
	roomID    string
	logger    Logger
}

// New wires a bridge over the given bus. telemetry may be nil.
func New(store *game.Store, bus Bus, broadcast Broadcaster, telemetry *tsdb.Client, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		store:     store,
		bus:       bus,
		broadcast: broadcast,
		telemetry: telemetry,
		roomID:    store.RoomInfo().ID,
		logger:    logger,
	}
}

// Start subscribes to the three prop topic families. The client
// restores these subscriptions automatically on reconnect.
func (b *Bridge) Start() error {
	topics := b.bus.Topics()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.AllPropStatus(), b.handleStatus},
		{topics.AllPropEvents(), b.handleEvent},
		{topics.AllPropLWT(), b.handleLWT},
	}
	for _, sub := range subs {
		if err := b.bus.Subscribe(sub.topic, commandQoS, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
	}

	b.logger.Info("device bridge started", "room_id", b.roomID)
	return nil
}

// handleStatus applies a retained status report to the store and
// broadcasts the resulting diff.
func (b *Bridge) handleStatus(topic string, payload []byte) error {
	propID, _, ok := b.bus.Topics().ParseProp(topic)
	if !ok {
		b.logger.Warn("unparseable status topic", "topic", topic)
		return nil
	}

	var status game.DeviceStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		b.logger.Warn("malformed status payload", "prop_id", propID, "error", err)
		return nil
	}
	if status.Type != "status" {
		return nil
	}

	update, err := b.store.ApplyDeviceStatus(propID, status)
	if err != nil {
		b.logger.Warn("status rejected", "prop_id", propID, "error", err)
		return nil
	}
	if update == nil {
		return nil
	}

	b.broadcast.BroadcastPropUpdate(update)
	b.writePropTelemetry(propID)
	b.writeSensorTelemetry(propID, update)
	return nil
}

// handleEvent forwards a prop event to dashboards. A force_solved
// event from a device-originated GM source (the physical bypass
// button) also solves the prop.
func (b *Bridge) handleEvent(topic string, payload []byte) error {
	propID, _, ok := b.bus.Topics().ParseProp(topic)
	if !ok {
		b.logger.Warn("unparseable event topic", "topic", topic)
		return nil
	}

	var event eventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn("malformed event payload", "prop_id", propID, "error", err)
		return nil
	}
	if event.Type != "event" {
		return nil
	}

	b.logger.Info("prop event", "prop_id", propID, "action", event.Action, "source", event.Source)

	details := event.Meta
	if details == nil {
		details = map[string]any{}
	}
	b.broadcast.BroadcastEvent(propID, event.Action, event.Source, details)

	if event.Action == "force_solved" && event.Source == "gm" {
		update, err := b.store.ForceSolve(propID)
		if err != nil {
			b.logger.Warn("force_solved event for unknown prop", "prop_id", propID)
			return nil
		}
		if update != nil {
			b.broadcast.BroadcastPropUpdate(update)
			b.writePropTelemetry(propID)
		}
	}
	return nil
}

// handleLWT updates prop presence from a last-will message.
func (b *Bridge) handleLWT(topic string, payload []byte) error {
	propID, _, ok := b.bus.Topics().ParseProp(topic)
	if !ok {
		b.logger.Warn("unparseable lwt topic", "topic", topic)
		return nil
	}

	var lwt lwtPayload
	if err := json.Unmarshal(payload, &lwt); err != nil {
		b.logger.Warn("malformed lwt payload", "prop_id", propID, "error", err)
		return nil
	}

	update, err := b.store.SetPropOnline(propID, lwt.Online)
	if err != nil || update == nil {
		return nil
	}

	b.broadcast.BroadcastPresence(propID, lwt.Online)
	b.writePropTelemetry(propID)
	return nil
}

// SendCommand publishes a command envelope to one prop and returns the
// generated request id for correlation. Extra params are flattened
// into the envelope root for firmware compatibility.
func (b *Bridge) SendCommand(propID, command string, params map[string]any) (string, error) {
	requestID := "req-" + uuid.NewString()

	envelope := map[string]any{
		"type":      "cmd",
		"propId":    propID,
		"command":   command,
		"source":    "gm",
		"timestamp": time.Now().UnixMilli(),
		"requestId": requestID,
	}
	// Flattened at the root for firmware compatibility.
	for k, v := range params {
		envelope[k] = v
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encoding command: %w", err)
	}

	topic := b.bus.Topics().PropCommand(propID)
	if err := b.bus.Publish(topic, payload, commandQoS, false); err != nil {
		return "", fmt.Errorf("publishing command to %s: %w", propID, err)
	}

	b.logger.Info("command sent", "prop_id", propID, "command", command, "request_id", requestID)
	return requestID, nil
}

// SendForceSolve tells a prop to enter its solved state.
func (b *Bridge) SendForceSolve(propID string) (string, error) {
	return b.SendCommand(propID, "force_solve", nil)
}

// SendReset tells a prop to return to its armed state.
func (b *Bridge) SendReset(propID string) (string, error) {
	return b.SendCommand(propID, "reset", nil)
}

// SendTriggerSensor drives one of a prop's outputs as if the sensor
// had fired.
func (b *Bridge) SendTriggerSensor(propID, sensorID string) (string, error) {
	return b.SendCommand(propID, "set_output", map[string]any{
		"sensorId": sensorID,
		"value":    true,
	})
}

// writePropTelemetry records the prop's current state when telemetry
// is enabled.
func (b *Bridge) writePropTelemetry(propID string) {
	if b.telemetry == nil {
		return
	}
	prop, ok := b.store.Prop(propID)
	if !ok {
		return
	}
	state := "armed"
	if prop.Solved {
		state = "solved"
	}
	b.telemetry.WritePropState(b.roomID, propID, state, prop.Online)
}

// writeSensorTelemetry records sensor transitions from a status diff.
func (b *Bridge) writeSensorTelemetry(propID string, update *game.Update) {
	if b.telemetry == nil {
		return
	}
	changes, ok := update.Changes["sensors"].([]game.SensorChange)
	if !ok {
		return
	}
	for _, change := range changes {
		b.telemetry.WriteSensorEvent(b.roomID, propID, change.SensorID, change.Triggered)
	}
}
