package mqtt

import (
	"fmt"
	"strings"
)

// Message kinds appearing as the last topic segment under prop/{propId}/.
const (
	KindStatus  = "status"
	KindEvent   = "event"
	KindLWT     = "lwt"
	KindCommand = "cmd"
)

// Topics builds the room-scoped topic hierarchy used by props and the hub.
//
// All prop topics live under a configured base path (typically
// "{realm}/{site}/{room}"), so multiple rooms can share one broker:
//
//	topics := mqtt.Topics{Base: "ey/site-a/room-1"}
//	topics.PropStatus("door-lock") // "ey/site-a/room-1/prop/door-lock/status"
type Topics struct {
	Base string
}

// PropStatus returns the retained status topic for a prop.
func (t Topics) PropStatus(propID string) string {
	return fmt.Sprintf("%s/prop/%s/%s", t.Base, propID, KindStatus)
}

// PropEvent returns the non-retained event topic for a prop.
func (t Topics) PropEvent(propID string) string {
	return fmt.Sprintf("%s/prop/%s/%s", t.Base, propID, KindEvent)
}

// PropLWT returns the last-will (presence) topic for a prop.
func (t Topics) PropLWT(propID string) string {
	return fmt.Sprintf("%s/prop/%s/%s", t.Base, propID, KindLWT)
}

// PropCommand returns the command topic for a prop.
func (t Topics) PropCommand(propID string) string {
	return fmt.Sprintf("%s/prop/%s/%s", t.Base, propID, KindCommand)
}

// HubStatus returns the retained status topic for the hub itself.
// The hub's LWT is registered here so dashboards and props can detect
// an unexpected hub disconnect.
func (t Topics) HubStatus() string {
	return fmt.Sprintf("%s/hub/status", t.Base)
}

// AllPropStatus returns a wildcard pattern matching every prop's status topic.
func (t Topics) AllPropStatus() string {
	return fmt.Sprintf("%s/prop/+/%s", t.Base, KindStatus)
}

// AllPropEvents returns a wildcard pattern matching every prop's event topic.
func (t Topics) AllPropEvents() string {
	return fmt.Sprintf("%s/prop/+/%s", t.Base, KindEvent)
}

// AllPropLWT returns a wildcard pattern matching every prop's presence topic.
func (t Topics) AllPropLWT() string {
	return fmt.Sprintf("%s/prop/+/%s", t.Base, KindLWT)
}

// ParseProp extracts the prop ID and message kind from a concrete prop topic.
// Returns ok=false for topics outside this base or not of the prop/{id}/{kind}
// shape. The prop ID itself must not contain '/'.
func (t Topics) ParseProp(topic string) (propID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/prop/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
