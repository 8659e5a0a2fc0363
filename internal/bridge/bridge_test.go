package bridge_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/Barraka/room-controller/internal/bridge"
	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/mqtt"
	"github.com/Barraka/room-controller/internal/roomcfg"
)

// fakeBus captures subscriptions and published messages, and lets
// tests inject inbound messages.
type fakeBus struct {
	mu        sync.Mutex
	topics    mqtt.Topics
	handlers  map[string]mqtt.MessageHandler
	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload []byte
	qos     byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		topics:   mqtt.Topics{Base: "ey/downtown/vault"},
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

func (f *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBus) Publish(topic string, payload []byte, qos byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload, qos: qos})
	return nil
}

func (f *fakeBus) Topics() mqtt.Topics { return f.topics }

// deliver routes an inbound message through the wildcard handler that
// matches its kind, as the broker would.
func (f *fakeBus) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	_, kind, ok := f.topics.ParseProp(topic)
	if !ok {
		t.Fatalf("test topic %q does not parse", topic)
	}

	var wildcard string
	switch kind {
	case mqtt.KindStatus:
		wildcard = f.topics.AllPropStatus()
	case mqtt.KindEvent:
		wildcard = f.topics.AllPropEvents()
	case mqtt.KindLWT:
		wildcard = f.topics.AllPropLWT()
	}

	f.mu.Lock()
	handler := f.handlers[wildcard]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler subscribed for %q", wildcard)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

// fakeBroadcaster records outbound dashboard broadcasts.
type fakeBroadcaster struct {
	mu       sync.Mutex
	updates  []*game.Update
	events   []string
	presence []string
}

func (f *fakeBroadcaster) BroadcastPropUpdate(update *game.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeBroadcaster) BroadcastEvent(propID, action, source string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, propID+":"+action+":"+source)
}

func (f *fakeBroadcaster) BroadcastPresence(propID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	f.presence = append(f.presence, propID+":"+state)
}

func testStore() *game.Store {
	return game.NewStore(&roomcfg.Definition{
		Room: roomcfg.RoomInfo{ID: "vault", Name: "The Vault"},
		Props: []roomcfg.PropDef{
			{
				PropID: "keypad", Name: "Keypad", Order: 1,
				Sensors: []roomcfg.SensorDef{{SensorID: "btn-1", Label: "Button 1"}},
			},
		},
	}, nil, nil)
}

func newTestBridge(t *testing.T) (*bridge.Bridge, *fakeBus, *fakeBroadcaster, *game.Store) {
	t.Helper()
	store := testStore()
	bus := newFakeBus()
	broadcast := &fakeBroadcaster{}
	b := bridge.New(store, bus, broadcast, nil, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b, bus, broadcast, store
}

func TestStart_SubscribesAllFamilies(t *testing.T) {
	_, bus, _, _ := newTestBridge(t)

	for _, topic := range []string{
		"ey/downtown/vault/prop/+/status",
		"ey/downtown/vault/prop/+/event",
		"ey/downtown/vault/prop/+/lwt",
	} {
		if bus.handlers[topic] == nil {
			t.Errorf("no subscription for %q", topic)
		}
	}
}

func TestHandleStatus_AppliesAndBroadcasts(t *testing.T) {
	_, bus, broadcast, store := newTestBridge(t)

	bus.deliver(t, "ey/downtown/vault/prop/keypad/status",
		`{"type":"status","online":true,"solved":true}`)

	prop, _ := store.Prop("keypad")
	if !prop.Online || !prop.Solved {
		t.Errorf("prop = %+v, want online and solved", prop)
	}
	if len(broadcast.updates) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(broadcast.updates))
	}
	if broadcast.updates[0].PropID != "keypad" {
		t.Errorf("broadcast prop = %q, want keypad", broadcast.updates[0].PropID)
	}

	// Identical retained replay: no state change, no broadcast.
	bus.deliver(t, "ey/downtown/vault/prop/keypad/status",
		`{"type":"status","online":true,"solved":true}`)
	if len(broadcast.updates) != 1 {
		t.Error("no-op status produced a broadcast")
	}
}

func TestHandleStatus_DropsMalformedAndForeign(t *testing.T) {
	_, bus, broadcast, _ := newTestBridge(t)

	bus.deliver(t, "ey/downtown/vault/prop/keypad/status", `{not json`)
	bus.deliver(t, "ey/downtown/vault/prop/keypad/status", `{"type":"event"}`)
	bus.deliver(t, "ey/downtown/vault/prop/ghost/status", `{"type":"status","online":true}`)

	if len(broadcast.updates) != 0 {
		t.Errorf("bad payloads produced %d broadcasts, want 0", len(broadcast.updates))
	}
}

func TestHandleEvent_ForwardsAndForceSolves(t *testing.T) {
	_, bus, broadcast, store := newTestBridge(t)

	bus.deliver(t, "ey/downtown/vault/prop/keypad/event",
		`{"type":"event","action":"force_solved","source":"gm"}`)

	if len(broadcast.events) != 1 || broadcast.events[0] != "keypad:force_solved:gm" {
		t.Errorf("events = %v, want forwarded force_solved", broadcast.events)
	}
	prop, _ := store.Prop("keypad")
	if !prop.Solved || !prop.Override {
		t.Errorf("prop = %+v, want force-solved with override", prop)
	}
	if len(broadcast.updates) != 1 {
		t.Errorf("got %d prop updates, want 1", len(broadcast.updates))
	}
}

func TestHandleEvent_UntrustedSourceDoesNotSolve(t *testing.T) {
	_, bus, broadcast, store := newTestBridge(t)

	bus.deliver(t, "ey/downtown/vault/prop/keypad/event",
		`{"type":"event","action":"force_solved","source":"player"}`)

	prop, _ := store.Prop("keypad")
	if prop.Solved {
		t.Error("non-gm force_solved event solved the prop")
	}
	if len(broadcast.events) != 1 {
		t.Error("event should still be forwarded to dashboards")
	}
}

func TestHandleLWT_PresenceBroadcast(t *testing.T) {
	_, bus, broadcast, store := newTestBridge(t)

	bus.deliver(t, "ey/downtown/vault/prop/keypad/lwt", `{"online":true}`)
	bus.deliver(t, "ey/downtown/vault/prop/keypad/lwt", `{"online":true}`)
	bus.deliver(t, "ey/downtown/vault/prop/keypad/lwt", `{"online":false}`)

	prop, _ := store.Prop("keypad")
	if prop.Online {
		t.Error("prop should be offline after final lwt")
	}
	// The duplicate online message is idempotent: two broadcasts, not three.
	want := []string{"keypad:online", "keypad:offline"}
	if len(broadcast.presence) != len(want) {
		t.Fatalf("presence = %v, want %v", broadcast.presence, want)
	}
	for i := range want {
		if broadcast.presence[i] != want[i] {
			t.Errorf("presence[%d] = %q, want %q", i, broadcast.presence[i], want[i])
		}
	}
}

func TestSendCommand_Envelope(t *testing.T) {
	b, bus, _, _ := newTestBridge(t)

	requestID, err := b.SendCommand("keypad", "set_output", map[string]any{
		"sensorId": "btn-1",
		"value":    true,
	})
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !strings.HasPrefix(requestID, "req-") {
		t.Errorf("requestID = %q, want req- prefix", requestID)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(bus.published))
	}
	msg := bus.published[0]
	if msg.topic != "ey/downtown/vault/prop/keypad/cmd" {
		t.Errorf("topic = %q, want command topic", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}

	var envelope map[string]any
	if err := json.Unmarshal(msg.payload, &envelope); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if envelope["type"] != "cmd" || envelope["command"] != "set_output" || envelope["source"] != "gm" {
		t.Errorf("envelope = %v, want cmd/set_output/gm", envelope)
	}
	if envelope["requestId"] != requestID {
		t.Errorf("envelope requestId = %v, want %q", envelope["requestId"], requestID)
	}
	// Params are flattened at the root, not nested.
	if envelope["sensorId"] != "btn-1" || envelope["value"] != true {
		t.Errorf("envelope params = %v, want flattened sensorId and value", envelope)
	}
	if _, nested := envelope["params"]; nested {
		t.Error("params must not be nested")
	}
}

func TestCommandHelpers(t *testing.T) {
	b, bus, _, _ := newTestBridge(t)

	if _, err := b.SendForceSolve("keypad"); err != nil {
		t.Fatalf("SendForceSolve() error = %v", err)
	}
	if _, err := b.SendReset("keypad"); err != nil {
		t.Fatalf("SendReset() error = %v", err)
	}
	if _, err := b.SendTriggerSensor("keypad", "btn-1"); err != nil {
		t.Fatalf("SendTriggerSensor() error = %v", err)
	}

	var commands []string
	for _, msg := range bus.published {
		var envelope map[string]any
		if err := json.Unmarshal(msg.payload, &envelope); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		commands = append(commands, envelope["command"].(string))
	}
	want := []string{"force_solve", "reset", "set_output"}
	for i := range want {
		if commands[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, commands[i], want[i])
		}
	}
}
