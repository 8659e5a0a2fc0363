// Package bridge is the device side of the protocol bridge: it
// subscribes to the prop status, event, and presence topic families,
// routes inbound messages into state store mutations (broadcasting the
// resulting diffs to dashboards), and publishes command envelopes back
// to props with generated request ids for correlation.
package bridge
