package tsdb

import "errors"

// Sentinel errors for telemetry operations.
var (
	// ErrDisabled indicates telemetry is disabled in configuration.
	ErrDisabled = errors.New("tsdb: disabled in configuration")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed indicates the initial connection failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")
)
