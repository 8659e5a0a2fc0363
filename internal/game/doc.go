// Package game holds the authoritative state of the room: props with
// their sensors, the current session, and the mutation rules that keep
// them consistent.
//
// The Store is the single serialization point for the system's three
// concurrent input sources (device bridge, realtime bridge, automation
// engine). Mutations return minimal diffs so callers can decide
// whether to broadcast, and state transitions flow to the automation
// engine over a typed event channel in mutation order. Completed
// sessions are appended to a History store; nothing else is persisted.
package game
