package roomcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors for room configuration operations.
var (
	// ErrNotFound indicates the room configuration file does not exist.
	ErrNotFound = errors.New("roomcfg: file not found")

	// ErrInvalid indicates the document failed validation.
	ErrInvalid = errors.New("roomcfg: invalid document")
)

// filePermissions is the permission mode for the room document.
const filePermissions = 0600

// Load reads and validates the room configuration document.
//
// The document is required at startup: a missing, unparseable, or
// invalid file is an error and the caller should refuse to start.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from service config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading room config: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing room config %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	// Steps evaluate in order; keep the document sorted the same way.
	sort.SliceStable(def.Props, func(i, j int) bool {
		return def.Props[i].Order < def.Props[j].Order
	})

	return &def, nil
}

// Save validates and writes the document atomically (temp file + rename)
// so a crash mid-write never leaves a truncated document behind.
func Save(path string, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding room config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating room config directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("writing room config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing room config: %w", err)
	}
	return nil
}

// Validate checks the document for structural errors, collecting all
// problems before reporting.
func (d *Definition) Validate() error {
	var errs []string

	if d.Room.ID == "" {
		errs = append(errs, "room.id is required")
	}
	if d.Room.Name == "" {
		errs = append(errs, "room.name is required")
	}

	propIDs := make(map[string]struct{}, len(d.Props))
	for i, prop := range d.Props {
		if prop.PropID == "" {
			errs = append(errs, fmt.Sprintf("props[%d].propId is required", i))
			continue
		}
		if _, dup := propIDs[prop.PropID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate prop id %q", prop.PropID))
		}
		propIDs[prop.PropID] = struct{}{}

		if prop.Name == "" {
			errs = append(errs, fmt.Sprintf("prop %q: name is required", prop.PropID))
		}
		if prop.Order < 1 {
			errs = append(errs, fmt.Sprintf("prop %q: order must be >= 1", prop.PropID))
		}

		sensorIDs := make(map[string]struct{}, len(prop.Sensors))
		for j, sensor := range prop.Sensors {
			if sensor.SensorID == "" {
				errs = append(errs, fmt.Sprintf("prop %q: sensors[%d].sensorId is required", prop.PropID, j))
				continue
			}
			if _, dup := sensorIDs[sensor.SensorID]; dup {
				errs = append(errs, fmt.Sprintf("prop %q: duplicate sensor id %q", prop.PropID, sensor.SensorID))
			}
			sensorIDs[sensor.SensorID] = struct{}{}
		}
	}

	ruleIDs := make(map[string]struct{}, len(d.Scenarios))
	for i, rule := range d.Scenarios {
		if rule.ID == "" {
			errs = append(errs, fmt.Sprintf("scenarios[%d].id is required", i))
			continue
		}
		if _, dup := ruleIDs[rule.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate scenario id %q", rule.ID))
		}
		ruleIDs[rule.ID] = struct{}{}

		errs = append(errs, validateTrigger(rule, propIDs, d.Props)...)
		errs = append(errs, validateActions(rule)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

func validateTrigger(rule Rule, propIDs map[string]struct{}, props []PropDef) []string {
	var errs []string
	t := rule.Trigger

	switch t.Type {
	case TriggerPropSolved:
		if t.PropID == "" {
			errs = append(errs, fmt.Sprintf("scenario %q: prop_solved trigger requires propId", rule.ID))
		} else if _, ok := propIDs[t.PropID]; !ok {
			errs = append(errs, fmt.Sprintf("scenario %q: trigger references unknown prop %q", rule.ID, t.PropID))
		}
	case TriggerSensorTriggered:
		if t.PropID == "" || t.SensorID == "" {
			errs = append(errs, fmt.Sprintf("scenario %q: sensor_triggered trigger requires propId and sensorId", rule.ID))
			break
		}
		if _, ok := propIDs[t.PropID]; !ok {
			errs = append(errs, fmt.Sprintf("scenario %q: trigger references unknown prop %q", rule.ID, t.PropID))
			break
		}
		if !propHasSensor(props, t.PropID, t.SensorID) {
			errs = append(errs, fmt.Sprintf("scenario %q: prop %q has no sensor %q", rule.ID, t.PropID, t.SensorID))
		}
	case TriggerTimer:
		if t.AtElapsedMs <= 0 {
			errs = append(errs, fmt.Sprintf("scenario %q: timer trigger requires atElapsedMs > 0", rule.ID))
		}
	case TriggerSessionStart, TriggerSessionEnd:
		// No parameters.
	default:
		errs = append(errs, fmt.Sprintf("scenario %q: unknown trigger type %q", rule.ID, t.Type))
	}
	return errs
}

func validateActions(rule Rule) []string {
	var errs []string
	for i, action := range rule.Actions {
		if action.DelayMs < 0 {
			errs = append(errs, fmt.Sprintf("scenario %q: actions[%d] delay must be >= 0", rule.ID, i))
		}
		switch action.Type {
		case ActionPlayAudio, ActionPlayMusic:
			if action.File == "" {
				errs = append(errs, fmt.Sprintf("scenario %q: actions[%d] (%s) requires file", rule.ID, i, action.Type))
			}
		case ActionStopMusic:
			// No parameters.
		case ActionDeviceCmd:
			if action.PropID == "" || action.Command == "" {
				errs = append(errs, fmt.Sprintf("scenario %q: actions[%d] (device_cmd) requires propId and command", rule.ID, i))
			}
		default:
			errs = append(errs, fmt.Sprintf("scenario %q: unknown action type %q", rule.ID, action.Type))
		}
	}
	return errs
}

func propHasSensor(props []PropDef, propID, sensorID string) bool {
	for _, p := range props {
		if p.PropID != propID {
			continue
		}
		for _, s := range p.Sensors {
			if s.SensorID == sensorID {
				return true
			}
		}
	}
	return false
}
