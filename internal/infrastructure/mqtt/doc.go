// Package mqtt wraps the Eclipse Paho client for the room's device bus.
//
// Props publish retained status, non-retained events, and a broker-managed
// last-will presence message under a room-scoped base topic; the hub
// publishes commands back. This package provides:
//
//   - Connection management with auto-reconnect and exponential backoff
//   - Subscription tracking with automatic restoration on reconnect
//   - A hub-level LWT on {base}/hub/status for crash detection
//   - Topic builders and parsing for the prop/{propId}/{kind} hierarchy
//
// The device-side protocol bridge (internal/bridge) is the only component
// that interprets prop payloads; this package stays payload-agnostic.
package mqtt
