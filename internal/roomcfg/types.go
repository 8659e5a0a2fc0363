package roomcfg

// Trigger types recognised by the scenario engine.
const (
	TriggerPropSolved      = "prop_solved"
	TriggerSensorTriggered = "sensor_triggered"
	TriggerTimer           = "timer"
	TriggerSessionStart    = "session_start"
	TriggerSessionEnd      = "session_end"
)

// Action types recognised by the scenario engine.
const (
	ActionPlayAudio = "play_audio"
	ActionStopMusic = "stop_music"
	ActionPlayMusic = "play_music"
	ActionDeviceCmd = "device_cmd"
)

// RoomInfo identifies the physical room this controller runs.
type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Site string `json:"site,omitempty"`
}

// SensorDef describes one sensor within a prop.
type SensorDef struct {
	SensorID string `json:"sensorId"`
	Label    string `json:"label"`
}

// PropDef describes a configured prop: identity, step order within the
// game flow, and its sensors. Props sharing an order value form a step
// group that must be solved together before the next step.
type PropDef struct {
	PropID  string      `json:"propId"`
	Name    string      `json:"name"`
	Order   int         `json:"order"`
	Sensors []SensorDef `json:"sensors"`
}

// Trigger describes the condition under which a scenario rule fires.
// Type selects the variant; the remaining fields apply per variant.
type Trigger struct {
	Type string `json:"type"`

	// PropID applies to prop_solved and sensor_triggered.
	PropID string `json:"propId,omitempty"`

	// SensorID applies to sensor_triggered.
	SensorID string `json:"sensorId,omitempty"`

	// AtElapsedMs applies to timer: fire once pause-excluded session
	// time reaches this threshold.
	AtElapsedMs int64 `json:"atElapsedMs,omitempty"`
}

// Action describes one automated effect of a scenario rule.
type Action struct {
	Type string `json:"type"`

	// File applies to play_audio and play_music.
	File string `json:"file,omitempty"`

	// PropID, Command, and Payload apply to device_cmd.
	PropID  string         `json:"propId,omitempty"`
	Command string         `json:"command,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`

	// DelayMs postpones execution after the rule fires.
	DelayMs int64 `json:"delay,omitempty"`
}

// Rule is one scenario automation entry. A rule fires at most once per
// session; firing state lives in the engine, not here.
type Rule struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Trigger Trigger  `json:"trigger"`
	Actions []Action `json:"actions"`
}

// Definition is the full room configuration document: room identity,
// props with sensors, and scenario rules. The admin API rewrites this
// document whole; the running system applies it via hot reload.
type Definition struct {
	Room      RoomInfo  `json:"room"`
	Props     []PropDef `json:"props"`
	Scenarios []Rule    `json:"scenarios"`
}

// Prop returns the definition for propID, or nil if not configured.
func (d *Definition) Prop(propID string) *PropDef {
	for i := range d.Props {
		if d.Props[i].PropID == propID {
			return &d.Props[i]
		}
	}
	return nil
}
