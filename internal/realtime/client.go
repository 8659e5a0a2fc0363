package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/infrastructure/config"
)

// Client is one connected dashboard.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump reads messages from the connection until it closes.
func (c *Client) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // Best-effort teardown
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes outbound messages and protocol pings.
func (c *Client) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Best-effort teardown
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel.
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data for the client without blocking. A full buffer
// (slow client) or closed channel (disconnect during broadcast) drops
// the message.
func (c *Client) trySend(data []byte) {
	defer func() {
		// Absorb send-on-closed-channel when a broadcast races a disconnect.
		_ = recover()
	}()

	select {
	case c.send <- data:
	default:
	}
}

// sendMessage marshals and queues one envelope for this client only.
func (c *Client) sendMessage(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("failed to marshal message", "type", env.Type, "error", err)
		return
	}
	c.trySend(data)
}

// sendAck delivers the single acknowledgement every request receives.
func (c *Client) sendAck(requestID string, err error) {
	payload := ackPayload{RequestID: requestID, Success: err == nil}
	if err != nil {
		msg := err.Error()
		payload.Error = &msg
	}
	c.sendMessage(newEnvelope(TypeCmdAck, payload))
}

// handleMessage routes one inbound dashboard message. Unknown types
// and commands are answered through the ack error field; the
// connection always stays open.
func (c *Client) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.hub.logger.Warn("malformed realtime message", "error", err)
		return
	}

	raw, err := json.Marshal(env.Payload)
	if err != nil {
		c.hub.logger.Warn("unreadable realtime payload", "type", env.Type)
		return
	}

	switch env.Type {
	case TypeCmd:
		var payload cmdPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.hub.logger.Warn("malformed cmd payload", "error", err)
			return
		}
		c.handlePropCommand(payload)

	case TypeSessionCmd:
		var payload sessionCmdPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.hub.logger.Warn("malformed session_cmd payload", "error", err)
			return
		}
		c.handleSessionCommand(payload)

	case TypeHintGiven:
		var payload hintPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.hub.logger.Warn("malformed hint_given payload", "error", err)
			return
		}
		c.handleHintGiven(payload)

	default:
		c.hub.logger.Warn("unknown realtime message type", "type", env.Type)
		// Answer through the ack when the payload carries a correlation
		// id; without one there is nothing to address the error to.
		var payload struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.RequestID != "" {
			c.sendAck(payload.RequestID, errors.New("unknown message type: "+env.Type))
		}
	}
}

// handlePropCommand runs an operator prop command: mutate the store,
// ack the requester, and on success broadcast the diff to everyone and
// forward the command to the physical prop.
func (c *Client) handlePropCommand(payload cmdPayload) {
	var (
		update *game.Update
		err    error
	)

	switch payload.Command {
	case CmdForceSolve:
		update, err = c.hub.store.ForceSolve(payload.PropID)
	case CmdReset:
		update, err = c.hub.store.ResetProp(payload.PropID)
	case CmdTriggerSensor:
		update, err = c.hub.store.TriggerSensor(payload.PropID, payload.SensorID)
	default:
		err = errors.New("unknown command: " + payload.Command)
	}

	c.sendAck(payload.RequestID, err)
	if err != nil {
		return
	}

	// A command that changed nothing produces neither a broadcast nor a
	// device command.
	if update == nil {
		return
	}

	c.forwardPropCommand(payload)
	c.hub.BroadcastPropUpdate(update)

	action := payload.Command
	details := map[string]any{}
	if payload.Command == CmdTriggerSensor {
		action = "sensor_triggered"
		details["sensorId"] = payload.SensorID
	}
	c.hub.BroadcastEvent(payload.PropID, action, "gm", details)
}

// forwardPropCommand relays a successful operator command to the prop
// itself. Publish failures are logged; the ack already sent reflects
// the state change, which has happened regardless.
func (c *Client) forwardPropCommand(payload cmdPayload) {
	bridge := c.hub.getBridge()
	if bridge == nil {
		return
	}

	var err error
	switch payload.Command {
	case CmdForceSolve:
		_, err = bridge.SendForceSolve(payload.PropID)
	case CmdReset:
		_, err = bridge.SendReset(payload.PropID)
	case CmdTriggerSensor:
		_, err = bridge.SendTriggerSensor(payload.PropID, payload.SensorID)
	}
	if err != nil {
		c.hub.logger.Error("device command forward failed",
			"prop_id", payload.PropID, "command", payload.Command, "error", err)
	}
}

// handleSessionCommand runs an operator session command and broadcasts
// the resulting session state to everyone on success.
func (c *Client) handleSessionCommand(payload sessionCmdPayload) {
	switch payload.Command {
	case SessionCmdStart:
		session, err := c.hub.store.StartSession()
		c.sendAck(payload.RequestID, err)
		if err != nil {
			return
		}
		c.hub.BroadcastSessionUpdate(session)
		// Start resets every prop; re-snapshot all dashboards.
		c.hub.BroadcastFullState()
		c.hub.writeSessionTelemetry("start", session)

	case SessionCmdPause:
		session, err := c.hub.store.PauseSession()
		c.sendAck(payload.RequestID, err)
		if err != nil {
			return
		}
		c.hub.BroadcastSessionUpdate(session)
		c.hub.writeSessionTelemetry("pause", session)

	case SessionCmdResume:
		session, err := c.hub.store.ResumeSession()
		c.sendAck(payload.RequestID, err)
		if err != nil {
			return
		}
		c.hub.BroadcastSessionUpdate(session)
		c.hub.writeSessionTelemetry("resume", session)

	case SessionCmdEnd:
		record, err := c.hub.store.EndSession(payload.Result, payload.Comments)
		c.sendAck(payload.RequestID, err)
		if err != nil {
			return
		}
		c.hub.BroadcastSessionEnded(record)
		c.hub.writeSessionTelemetry("end", c.hub.store.Session())

	case SessionCmdAbort:
		session := c.hub.store.AbortSession()
		c.sendAck(payload.RequestID, nil)
		c.hub.BroadcastSessionUpdate(session)

	default:
		c.sendAck(payload.RequestID, errors.New("unknown session command: "+payload.Command))
	}
}

// handleHintGiven bumps the hint counter and broadcasts the session.
func (c *Client) handleHintGiven(payload hintPayload) {
	session, err := c.hub.store.IncrementHints()
	c.sendAck(payload.RequestID, err)
	if err != nil {
		return
	}
	c.hub.BroadcastSessionUpdate(session)
}
