// Package scenario is the automation engine: it matches state store
// events and session elapsed time against a configurable rule set and
// executes the matched actions (dashboard audio cues, device commands).
//
// Rules fire at most once per session. Delayed actions live in a
// cancellable registry that is drained whenever a session ends or
// aborts, so stale automation never leaks across session boundaries.
package scenario
