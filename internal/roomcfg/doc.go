// Package roomcfg defines and persists the room configuration document:
// room identity, props with their sensors, and scenario rules.
//
// The document is a single JSON file loaded at startup and rewritten
// whole by the admin API. Every write re-validates the full document,
// and the running system picks up changes through the state store's
// reload path rather than a restart.
package roomcfg
