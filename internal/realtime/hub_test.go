package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/config"
	"github.com/Barraka/room-controller/internal/roomcfg"
)

type fakeHistory struct{}

func (f *fakeHistory) Append(ctx context.Context, record *game.Record) error { return nil }
func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]game.Record, error) {
	return nil, nil
}
func (f *fakeHistory) Get(ctx context.Context, sessionID string) (*game.Record, error) {
	return nil, game.ErrRecordNotFound
}
func (f *fakeHistory) Stats(ctx context.Context) (game.HistoryStats, error) {
	return game.HistoryStats{}, nil
}

type fakeBridge struct {
	forceSolved []string
	resets      []string
	sensorFires []string
}

func (f *fakeBridge) SendForceSolve(propID string) (string, error) {
	f.forceSolved = append(f.forceSolved, propID)
	return "req-1", nil
}

func (f *fakeBridge) SendReset(propID string) (string, error) {
	f.resets = append(f.resets, propID)
	return "req-2", nil
}

func (f *fakeBridge) SendTriggerSensor(propID, sensorID string) (string, error) {
	f.sensorFires = append(f.sensorFires, propID+"/"+sensorID)
	return "req-3", nil
}

func testDefinition() *roomcfg.Definition {
	return &roomcfg.Definition{
		Room: roomcfg.RoomInfo{ID: "vault", Name: "The Vault"},
		Props: []roomcfg.PropDef{
			{PropID: "keypad-01", Name: "Keypad", Order: 1, Sensors: []roomcfg.SensorDef{
				{SensorID: "btn-1", Label: "Button 1"},
			}},
			{PropID: "bookshelf", Name: "Bookshelf", Order: 2},
		},
	}
}

func newTestHub(t *testing.T) (*Hub, *fakeBridge) {
	t.Helper()

	store := game.NewStore(testDefinition(), &fakeHistory{}, nil)
	cfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(cfg, store, nil, nil)
	bridge := &fakeBridge{}
	hub.SetBridge(bridge)
	return hub, bridge
}

// newTestClient registers a client whose outbound queue the test can
// drain directly; no real connection is involved.
func newTestClient(hub *Hub) *Client {
	client := &Client{hub: hub, send: make(chan []byte, sendBufferSize)}
	hub.register(client)
	return client
}

// nextMessage pops one queued outbound message, failing if none is
// buffered.
func nextMessage(t *testing.T, client *Client) Envelope {
	t.Helper()

	select {
	case data := <-client.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal outbound message: %v", err)
		}
		return env
	default:
		t.Fatal("expected an outbound message, queue is empty")
		return Envelope{}
	}
}

func payloadAs[T any](t *testing.T, env Envelope) T {
	t.Helper()

	data, err := json.Marshal(env.Payload)
	if err != nil {
		t.Fatalf("re-marshal payload: %v", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode payload as %T: %v", out, err)
	}
	return out
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestHandleMessage_AckPerRequest(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	msg := mustMarshal(t, Envelope{Type: TypeCmd, Payload: cmdPayload{
		RequestID: "r-1", Command: CmdForceSolve, PropID: "keypad-01",
	}})
	client.handleMessage(msg)

	env := nextMessage(t, client)
	if env.Type != TypeCmdAck {
		t.Fatalf("expected first outbound message %s, got %s", TypeCmdAck, env.Type)
	}
	ack := payloadAs[ackPayload](t, env)
	if ack.RequestID != "r-1" {
		t.Errorf("ack requestId = %q, want r-1", ack.RequestID)
	}
	if !ack.Success {
		t.Error("expected ack success for valid command")
	}
}

func TestHandleMessage_UnknownPropAcksFailureWithoutBroadcast(t *testing.T) {
	hub, bridge := newTestHub(t)
	client := newTestClient(hub)
	observer := newTestClient(hub)

	msg := mustMarshal(t, Envelope{Type: TypeCmd, Payload: cmdPayload{
		RequestID: "r-2", Command: CmdForceSolve, PropID: "no-such-prop",
	}})
	client.handleMessage(msg)

	env := nextMessage(t, client)
	ack := payloadAs[ackPayload](t, env)
	if ack.Success {
		t.Error("expected ack failure for unknown prop")
	}
	if ack.Error == nil {
		t.Error("expected ack error message for unknown prop")
	}
	if len(observer.send) != 0 {
		t.Errorf("expected no broadcast to other clients, observer got %d messages", len(observer.send))
	}
	if len(bridge.forceSolved) != 0 {
		t.Error("expected no device command for rejected request")
	}
}

func TestHandleMessage_ForceSolveBroadcastsToAllClients(t *testing.T) {
	hub, bridge := newTestHub(t)
	client := newTestClient(hub)
	observer := newTestClient(hub)

	msg := mustMarshal(t, Envelope{Type: TypeCmd, Payload: cmdPayload{
		RequestID: "r-3", Command: CmdForceSolve, PropID: "keypad-01",
	}})
	client.handleMessage(msg)

	// Requester: ack first, then the shared broadcasts.
	if env := nextMessage(t, client); env.Type != TypeCmdAck {
		t.Fatalf("requester first message = %s, want %s", env.Type, TypeCmdAck)
	}

	update := nextMessage(t, observer)
	if update.Type != TypePropUpdate {
		t.Fatalf("observer first message = %s, want %s", update.Type, TypePropUpdate)
	}
	diff := payloadAs[game.Update](t, update)
	if diff.PropID != "keypad-01" {
		t.Errorf("prop_update propId = %q, want keypad-01", diff.PropID)
	}
	if solved, ok := diff.Changes["solved"].(bool); !ok || !solved {
		t.Errorf("prop_update changes solved = %v, want true", diff.Changes["solved"])
	}

	event := nextMessage(t, observer)
	if event.Type != TypeEvent {
		t.Fatalf("observer second message = %s, want %s", event.Type, TypeEvent)
	}
	ev := payloadAs[eventPayload](t, event)
	if ev.Action != CmdForceSolve || ev.Source != "gm" {
		t.Errorf("event = %s/%s, want %s/gm", ev.Action, ev.Source, CmdForceSolve)
	}

	if len(bridge.forceSolved) != 1 || bridge.forceSolved[0] != "keypad-01" {
		t.Errorf("bridge force solves = %v, want [keypad-01]", bridge.forceSolved)
	}
}

func TestHandleMessage_TriggerSensorEventDetails(t *testing.T) {
	hub, bridge := newTestHub(t)
	client := newTestClient(hub)

	msg := mustMarshal(t, Envelope{Type: TypeCmd, Payload: cmdPayload{
		RequestID: "r-4", Command: CmdTriggerSensor, PropID: "keypad-01", SensorID: "btn-1",
	}})
	client.handleMessage(msg)

	nextMessage(t, client) // ack
	nextMessage(t, client) // prop_update
	event := nextMessage(t, client)
	ev := payloadAs[eventPayload](t, event)
	if ev.Action != "sensor_triggered" {
		t.Errorf("event action = %q, want sensor_triggered", ev.Action)
	}
	if got := ev.Details["sensorId"]; got != "btn-1" {
		t.Errorf("event details sensorId = %v, want btn-1", got)
	}
	if len(bridge.sensorFires) != 1 || bridge.sensorFires[0] != "keypad-01/btn-1" {
		t.Errorf("bridge sensor fires = %v, want [keypad-01/btn-1]", bridge.sensorFires)
	}
}

func TestHandleMessage_SessionStartBroadcastsFullState(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	msg := mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-5", Command: SessionCmdStart,
	}})
	client.handleMessage(msg)

	if env := nextMessage(t, client); env.Type != TypeCmdAck {
		t.Fatalf("first message = %s, want %s", env.Type, TypeCmdAck)
	}
	if env := nextMessage(t, client); env.Type != TypeSessionUpdate {
		t.Fatalf("second message = %s, want %s", env.Type, TypeSessionUpdate)
	}
	full := nextMessage(t, client)
	if full.Type != TypeFullState {
		t.Fatalf("third message = %s, want %s", full.Type, TypeFullState)
	}
	state := payloadAs[game.FullState](t, full)
	if !state.Session.Active {
		t.Error("full_state after start should show an active session")
	}
	if len(state.Props) != 2 {
		t.Errorf("full_state props = %d, want 2", len(state.Props))
	}
}

func TestHandleMessage_SessionEndBroadcastsRecord(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-6", Command: SessionCmdStart,
	}}))
	for len(client.send) > 0 {
		<-client.send
	}

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-7", Command: SessionCmdEnd, Result: game.ResultVictory,
	}}))

	if env := nextMessage(t, client); env.Type != TypeCmdAck {
		t.Fatalf("first message = %s, want %s", env.Type, TypeCmdAck)
	}
	ended := nextMessage(t, client)
	if ended.Type != TypeSessionEnded {
		t.Fatalf("second message = %s, want %s", ended.Type, TypeSessionEnded)
	}
	record := payloadAs[game.Record](t, ended)
	if record.Result != game.ResultVictory {
		t.Errorf("record result = %q, want %q", record.Result, game.ResultVictory)
	}
}

func TestHandleMessage_SessionCmdWithoutActiveSessionFails(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-8", Command: SessionCmdPause,
	}}))

	ack := payloadAs[ackPayload](t, nextMessage(t, client))
	if ack.Success {
		t.Error("pause without an active session should fail")
	}
	if len(client.send) != 0 {
		t.Errorf("expected no broadcast after failed command, got %d queued", len(client.send))
	}
}

func TestHandleMessage_AbortAlwaysSucceeds(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-9", Command: SessionCmdAbort,
	}}))

	ack := payloadAs[ackPayload](t, nextMessage(t, client))
	if !ack.Success {
		t.Error("abort should succeed even without an active session")
	}
	if env := nextMessage(t, client); env.Type != TypeSessionUpdate {
		t.Errorf("second message = %s, want %s", env.Type, TypeSessionUpdate)
	}
}

func TestHandleMessage_HintGiven(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeSessionCmd, Payload: sessionCmdPayload{
		RequestID: "r-10", Command: SessionCmdStart,
	}}))
	for len(client.send) > 0 {
		<-client.send
	}

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeHintGiven, Payload: hintPayload{
		RequestID: "r-11",
	}}))

	ack := payloadAs[ackPayload](t, nextMessage(t, client))
	if !ack.Success {
		t.Error("hint_given during active session should succeed")
	}
	update := nextMessage(t, client)
	session := payloadAs[game.Session](t, update)
	if session.HintsGiven != 1 {
		t.Errorf("hintsGiven = %d, want 1", session.HintsGiven)
	}
}

func TestHandleMessage_UnknownCommandAcksError(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: TypeCmd, Payload: cmdPayload{
		RequestID: "r-12", Command: "open_sesame", PropID: "keypad-01",
	}}))

	ack := payloadAs[ackPayload](t, nextMessage(t, client))
	if ack.Success {
		t.Error("unknown command should fail")
	}
}

func TestHandleMessage_UnknownTypeAcksError(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{
		Type:    "bogus_type",
		Payload: map[string]any{"requestId": "r-13"},
	}))

	ack := payloadAs[ackPayload](t, nextMessage(t, client))
	if ack.RequestID != "r-13" {
		t.Errorf("ack requestId = %q, want r-13", ack.RequestID)
	}
	if ack.Success {
		t.Error("unknown message type should fail")
	}
	if ack.Error == nil {
		t.Error("expected ack error message for unknown type")
	}
}

func TestHandleMessage_UnknownTypeWithoutRequestIDIgnored(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage(mustMarshal(t, Envelope{Type: "bogus_type"}))

	if len(client.send) != 0 {
		t.Errorf("unaddressable message should produce no reply, got %d queued", len(client.send))
	}
}

func TestHandleMessage_MalformedJSONIgnored(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	client.handleMessage([]byte("{not json"))

	if len(client.send) != 0 {
		t.Errorf("malformed message should produce no reply, got %d queued", len(client.send))
	}
}

func TestUnregister_ClosesSendOnce(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)

	hub.unregister(client)
	hub.unregister(client)

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestBroadcast_SkipsClosedClients(t *testing.T) {
	hub, _ := newTestHub(t)
	client := newTestClient(hub)
	gone := newTestClient(hub)
	hub.unregister(gone)

	hub.BroadcastPresence("keypad-01", false)

	env := nextMessage(t, client)
	if env.Type != TypePropOffline {
		t.Fatalf("message type = %s, want %s", env.Type, TypePropOffline)
	}
	presence := payloadAs[presencePayload](t, env)
	if presence.PropID != "keypad-01" {
		t.Errorf("presence propId = %q, want keypad-01", presence.PropID)
	}
}

func TestHandleWS_HandshakePrecedesBroadcasts(t *testing.T) {
	hub, _ := newTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	// Hammer broadcasts for the whole connect window; none may land
	// ahead of hello and the snapshot.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.BroadcastPresence("keypad-01", false)
			}
		}
	}()

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close() //nolint:errcheck // Best-effort teardown

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck

	var first Envelope
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read first message: %v", err)
	}
	if first.Type != TypeHello {
		t.Fatalf("first message type = %s, want %s", first.Type, TypeHello)
	}

	var second Envelope
	if err := ws.ReadJSON(&second); err != nil {
		t.Fatalf("read second message: %v", err)
	}
	if second.Type != TypeFullState {
		t.Fatalf("second message type = %s, want %s", second.Type, TypeFullState)
	}

	close(stop)
	wg.Wait()
}
