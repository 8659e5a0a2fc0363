package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/config"
	"github.com/Barraka/room-controller/internal/infrastructure/tsdb"
)

// sendBufferSize is the per-client outbound message buffer.
const sendBufferSize = 256

// DeviceBridge is the slice of the device side the realtime side uses
// to forward operator prop commands to the physical props.
type DeviceBridge interface {
	SendForceSolve(propID string) (string, error)
	SendReset(propID string) (string, error)
	SendTriggerSensor(propID, sensorID string) (string, error)
}

// Logger is the minimal logging interface the hub requires.
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

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware.
		return true
	},
}

// Hub is the realtime side of the protocol bridge: it accepts
// dashboard connections, snapshots them on connect, routes their
// commands into the state store and device bridge, and fans state
// changes out to every connected client.
//
// Pushes are fire-and-forget per client; a disconnected or slow client
// misses messages until it reconnects and re-snapshots.
type Hub struct {
	cfg       config.WebSocketConfig
	store     *game.Store
	telemetry *tsdb.Client
	logger    Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex

	// bridge is set after construction; the device bridge needs the
	// hub as a broadcaster first.
	bridgeMu sync.RWMutex
	bridge   DeviceBridge
}

// NewHub creates a hub over the given store. telemetry may be nil.
func NewHub(cfg config.WebSocketConfig, store *game.Store, telemetry *tsdb.Client, logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{
		cfg:       cfg,
		store:     store,
		telemetry: telemetry,
		logger:    logger,
		clients:   make(map[*Client]struct{}),
	}
}

// SetBridge wires the device bridge in after both sides exist.
func (h *Hub) SetBridge(bridge DeviceBridge) {
	h.bridgeMu.Lock()
	h.bridge = bridge
	h.bridgeMu.Unlock()
}

func (h *Hub) getBridge() DeviceBridge {
	h.bridgeMu.RLock()
	defer h.bridgeMu.RUnlock()
	return h.bridge
}

// Run blocks until ctx is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// HandleWS upgrades an HTTP request to a realtime connection and
// starts its pumps. Mounted on the admin router.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	// Queue the handshake before the client joins the broadcast set so
	// no concurrent broadcast can land ahead of hello and the snapshot.
	client.sendMessage(newEnvelope(TypeHello, helloPayload{
		Room:            h.store.RoomInfo(),
		ServerVersion:   serverVersion,
		ContractVersion: contractVersion,
	}))
	client.sendMessage(newEnvelope(TypeFullState, h.store.FullState()))

	h.register(client)

	go client.writePump(h.cfg)
	go client.readPump(h.cfg)
}

// register adds a client to the hub.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("dashboard connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that removes the
// client from the map closes the send channel, preventing double-close
// panics during shutdown.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Info("dashboard disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client so pump goroutines exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // Best-effort teardown
		}
		delete(h.clients, client)
	}
}

// broadcast fans an envelope out to every connected client.
func (h *Hub) broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "type", env.Type, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
}

// BroadcastPropUpdate pushes a prop state diff to all dashboards.
func (h *Hub) BroadcastPropUpdate(update *game.Update) {
	if update == nil {
		return
	}
	h.broadcast(newEnvelope(TypePropUpdate, update))
}

// BroadcastEvent pushes a prop event to all dashboards.
func (h *Hub) BroadcastEvent(propID, action, source string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	h.broadcast(newEnvelope(TypeEvent, eventPayload{
		PropID:  propID,
		Action:  action,
		Source:  source,
		Details: details,
	}))
}

// BroadcastPresence pushes a prop_online or prop_offline notice.
func (h *Hub) BroadcastPresence(propID string, online bool) {
	msgType := TypePropOffline
	if online {
		msgType = TypePropOnline
	}
	h.broadcast(newEnvelope(msgType, presencePayload{PropID: propID}))
}

// BroadcastSessionUpdate pushes the current session state.
func (h *Hub) BroadcastSessionUpdate(session game.Session) {
	h.broadcast(newEnvelope(TypeSessionUpdate, session))
}

// BroadcastSessionEnded pushes the full record of a completed session.
func (h *Hub) BroadcastSessionEnded(record *game.Record) {
	h.broadcast(newEnvelope(TypeSessionEnded, record))
}

// BroadcastFullState pushes a fresh snapshot to all dashboards.
// Used after session start and config reload, both of which touch
// every prop.
func (h *Hub) BroadcastFullState() {
	h.broadcast(newEnvelope(TypeFullState, h.store.FullState()))
}

// BroadcastAutomation pushes a UI cue from a fired scenario rule.
func (h *Hub) BroadcastAutomation(action string, params map[string]any) {
	h.broadcast(newEnvelope(TypeAutomation, automationPayload{
		Action: action,
		Params: params,
	}))
}

// writeSessionTelemetry records a session milestone when telemetry is
// enabled.
func (h *Hub) writeSessionTelemetry(phase string, session game.Session) {
	if h.telemetry == nil {
		return
	}
	var sessionID string
	var elapsed int64
	if session.StartedAt != nil {
		sessionID = "session-" + strconv.FormatInt(*session.StartedAt, 10)
		elapsed = elapsedMs(session)
	}
	h.telemetry.WriteSessionMetric(h.store.RoomInfo().ID, sessionID, phase, elapsed)
}

// elapsedMs computes the pause-excluded elapsed time of a session.
func elapsedMs(session game.Session) int64 {
	if session.StartedAt == nil {
		return 0
	}
	ref := time.Now().UnixMilli()
	if session.PausedAt != nil {
		ref = *session.PausedAt
	}
	return ref - *session.StartedAt - session.TotalPausedMs
}
