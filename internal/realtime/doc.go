// Package realtime serves the operator dashboard over WebSocket.
//
// The Hub fans state changes out to every connected dashboard and
// routes operator commands into the game store and, through the
// device bridge, down to physical props. Every inbound request
// carries a caller-assigned request id and is answered with exactly
// one cmd_ack; successful commands additionally produce a broadcast
// so all dashboards converge on the same view.
package realtime
