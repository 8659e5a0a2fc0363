package game

// Session result tags recorded in history.
const (
	ResultVictory = "victory"
	ResultDefeat  = "defeat"
)

// Sensor is a discrete triggerable input belonging to a prop.
type Sensor struct {
	SensorID  string `json:"sensorId"`
	Label     string `json:"label"`
	Triggered bool   `json:"triggered"`
}

// Prop is the live state of one physical puzzle device.
//
// Timestamps are Unix milliseconds; nil means "not yet". StartedAt is
// stamped once, on the first sensor trigger while a session is active,
// and cleared only by an explicit reset or session start. SolvedAt is
// stamped on the solved transition and cleared on the reverse.
type Prop struct {
	PropID    string   `json:"propId"`
	Name      string   `json:"name"`
	Order     int      `json:"order"`
	Online    bool     `json:"online"`
	Solved    bool     `json:"solved"`
	Override  bool     `json:"override"`
	StartedAt *int64   `json:"startedAt"`
	SolvedAt  *int64   `json:"solvedAt"`
	Sensors   []Sensor `json:"sensors"`
}

// Session is the state of the current play-through.
//
// Invariant: elapsed real time = (pausedAt ?? now) - startedAt -
// totalPausedMs. All time fields are nil/zero while inactive.
type Session struct {
	Active        bool   `json:"active"`
	StartedAt     *int64 `json:"startedAt"`
	EndedAt       *int64 `json:"endedAt"`
	PausedAt      *int64 `json:"pausedAt"`
	TotalPausedMs int64  `json:"totalPausedMs"`
	HintsGiven    int    `json:"hintsGiven"`
}

// FullState is the snapshot sent to realtime clients on connect.
type FullState struct {
	Session Session `json:"session"`
	Props   []Prop  `json:"props"`
}

// Update describes what a mutation changed on a single prop. Changes
// holds only the fields that actually changed; a nil Update means the
// mutation was a no-op and callers should not broadcast.
type Update struct {
	PropID  string         `json:"propId"`
	Changes map[string]any `json:"changes"`
}

// SensorChange is the per-sensor entry inside an Update's changes.
type SensorChange struct {
	SensorID  string `json:"sensorId"`
	Triggered bool   `json:"triggered"`
}

// DeviceStatus is a partial status report from a prop. Nil pointer
// fields were absent from the payload and leave state untouched.
type DeviceStatus struct {
	Type     string         `json:"type"`
	Online   *bool          `json:"online,omitempty"`
	Solved   *bool          `json:"solved,omitempty"`
	Override *bool          `json:"override,omitempty"`
	Details  *StatusDetails `json:"details,omitempty"`
}

// StatusDetails carries the optional sensor section of a status report.
type StatusDetails struct {
	Sensors []SensorStatus `json:"sensors,omitempty"`
}

// SensorStatus is one sensor's reported state within a device status.
type SensorStatus struct {
	SensorID  string `json:"sensorId"`
	Triggered *bool  `json:"triggered,omitempty"`
}

// PropStat is the per-prop summary captured in a session record.
type PropStat struct {
	PropID        string `json:"propId"`
	Solved        bool   `json:"solved"`
	Override      bool   `json:"override"`
	StartedAt     *int64 `json:"startedAt"`
	SolvedAt      *int64 `json:"solvedAt"`
	TimeToSolveMs *int64 `json:"timeToSolveMs"`
}

// StepDuration is the time one step group took to clear. DurationMs is
// nil for the first incomplete step, which also terminates the list.
type StepDuration struct {
	Step       int      `json:"step"`
	DurationMs *int64   `json:"durationMs"`
	PropIDs    []string `json:"propIds"`
}

// Record is the append-only historical record of one completed session.
type Record struct {
	SessionID      string         `json:"sessionId"`
	Result         string         `json:"result"`
	StartedAt      int64          `json:"startedAt"`
	EndedAt        int64          `json:"endedAt"`
	TotalPausedMs  int64          `json:"totalPausedMs"`
	RealDurationMs int64          `json:"realDurationMs"`
	HintsGiven     int            `json:"hintsGiven"`
	Comments       *string        `json:"comments"`
	PropStats      []PropStat     `json:"propStats"`
	StepDurations  []StepDuration `json:"stepDurations"`
}
