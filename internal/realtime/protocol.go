package realtime

import (
	"time"

	"github.com/Barraka/room-controller/internal/roomcfg"
)

// Protocol version tags sent in the hello handshake.
const (
	serverVersion   = "1.0.0"
	contractVersion = "1.0"
)

// Server-to-client message types.
const (
	TypeHello         = "hello"
	TypeFullState     = "full_state"
	TypePropUpdate    = "prop_update"
	TypeEvent         = "event"
	TypePropOnline    = "prop_online"
	TypePropOffline   = "prop_offline"
	TypeSessionUpdate = "session_update"
	TypeSessionEnded  = "session_ended"
	TypeCmdAck        = "cmd_ack"
	TypeAutomation    = "automation"
)

// Client-to-server message types.
const (
	TypeCmd        = "cmd"
	TypeSessionCmd = "session_cmd"
	TypeHintGiven  = "hint_given"
)

// Prop commands accepted over the realtime channel.
const (
	CmdForceSolve    = "force_solve"
	CmdReset         = "reset"
	CmdTriggerSensor = "trigger_sensor"
)

// Session commands accepted over the realtime channel.
const (
	SessionCmdStart  = "start"
	SessionCmdPause  = "pause"
	SessionCmdResume = "resume"
	SessionCmdEnd    = "end"
	SessionCmdAbort  = "abort"
)

// Envelope wraps every message in both directions. Timestamp is Unix
// milliseconds.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// newEnvelope stamps an envelope with the current time.
func newEnvelope(msgType string, payload any) Envelope {
	return Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// helloPayload is the capability handshake sent on connect.
type helloPayload struct {
	Room            roomcfg.RoomInfo `json:"room"`
	ServerVersion   string           `json:"serverVersion"`
	ContractVersion string           `json:"contractVersion"`
}

// cmdPayload is an inbound prop command.
type cmdPayload struct {
	RequestID string `json:"requestId"`
	Command   string `json:"command"`
	PropID    string `json:"propId"`
	SensorID  string `json:"sensorId,omitempty"`
}

// sessionCmdPayload is an inbound session command.
type sessionCmdPayload struct {
	RequestID string  `json:"requestId"`
	Command   string  `json:"command"`
	Result    string  `json:"result,omitempty"`
	Comments  *string `json:"comments,omitempty"`
}

// hintPayload is an inbound hint-given notice.
type hintPayload struct {
	RequestID string `json:"requestId"`
}

// ackPayload is the per-request acknowledgement. Every client request
// receives exactly one, addressed by the caller's correlation id.
type ackPayload struct {
	RequestID string  `json:"requestId"`
	Success   bool    `json:"success"`
	Error     *string `json:"error"`
}

// eventPayload describes a broadcast-worthy occurrence for dashboards.
type eventPayload struct {
	PropID  string         `json:"propId"`
	Action  string         `json:"action"`
	Source  string         `json:"source"`
	Details map[string]any `json:"details"`
}

// presencePayload accompanies prop_online / prop_offline broadcasts.
type presencePayload struct {
	PropID string `json:"propId"`
}

// automationPayload is the UI cue emitted by fired scenario rules.
type automationPayload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}
