// Package tsdb records room telemetry to InfluxDB.
//
// Prop state transitions, sensor events, and session milestones are
// written as time-series points through the non-blocking batched write
// API. Telemetry is optional: when disabled in configuration, Connect
// returns ErrDisabled and the rest of the system runs without it. All
// write helpers are safe to call on a nil client.
package tsdb
