package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/roomcfg"
)

// tickInterval is the timer-rule evaluation period while armed.
const tickInterval = time.Second

// Commander sends device commands on behalf of fired rules.
type Commander interface {
	SendCommand(propID, command string, params map[string]any) (requestID string, err error)
}

// Broadcaster pushes UI cues (audio, music) to connected dashboards.
type Broadcaster interface {
	BroadcastAutomation(action string, params map[string]any)
}

// SessionSource exposes the session clock the engine needs for
// pause-compensated timer rules.
type SessionSource interface {
	Session() game.Session
}

// Logger is the minimal logging interface the engine requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine evaluates scenario rules against store events and session
// time, executing matched actions. Lifecycle per session: idle until
// session start arms the timer tick; session end (or abort) disarms it
// and cancels every pending delayed action.
//
// Each rule fires at most once per session; the fired set clears on
// session start. Rule reloads swap the list wholesale without touching
// fired state or in-flight timers.
type Engine struct {
	session   SessionSource
	commander Commander
	broadcast Broadcaster
	logger    Logger

	rulesMu sync.RWMutex
	rules   []roomcfg.Rule

	fired map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]*time.Timer

	// now is replaceable in tests.
	now func() time.Time
}

// New builds an engine over the given rule set. Run must be called for
// the engine to process events.
func New(rules []roomcfg.Rule, session SessionSource, commander Commander, broadcast Broadcaster, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		session:   session,
		commander: commander,
		broadcast: broadcast,
		logger:    logger,
		rules:     rules,
		fired:     make(map[string]struct{}),
		pending:   make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// SetNowFunc replaces the engine's clock. Test hook.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	e.now = fn
}

// ReloadRules replaces the rule list. Per-session fired state and
// pending delayed actions are deliberately untouched: a mid-session
// config change must not re-fire rules or cancel scheduled effects.
func (e *Engine) ReloadRules(rules []roomcfg.Rule) {
	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()
	e.logger.Info("scenario rules reloaded", "count", len(rules))
}

// Run consumes store events until ctx is cancelled. It is the single
// consumer of the event channel; call it from exactly one goroutine.
func (e *Engine) Run(ctx context.Context, events <-chan game.Event) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer e.cancelPending()

	// Gated: nil until a session arms the tick.
	var tick <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case game.EventSessionStarted:
				e.resetFired()
				tick = ticker.C
				e.evaluate(roomcfg.TriggerSessionStart, "", "")

			case game.EventSessionEnded:
				e.cancelPending()
				tick = nil
				e.evaluate(roomcfg.TriggerSessionEnd, "", "")

			case game.EventSessionAborted:
				// Abort disarms without firing session_end rules.
				e.cancelPending()
				tick = nil

			case game.EventPropSolved:
				e.evaluate(roomcfg.TriggerPropSolved, ev.PropID, "")

			case game.EventSensorTriggered:
				e.evaluate(roomcfg.TriggerSensorTriggered, ev.PropID, ev.SensorID)
			}

		case <-tick:
			e.evaluateTimers()
		}
	}
}

// evaluate runs all enabled, not-yet-fired rules whose trigger matches
// the event.
func (e *Engine) evaluate(triggerType, propID, sensorID string) {
	for _, rule := range e.snapshot() {
		if !rule.Enabled || e.hasFired(rule.ID) {
			continue
		}
		if rule.Trigger.Type != triggerType {
			continue
		}

		match := false
		switch triggerType {
		case roomcfg.TriggerPropSolved:
			match = rule.Trigger.PropID == propID
		case roomcfg.TriggerSensorTriggered:
			match = rule.Trigger.PropID == propID && rule.Trigger.SensorID == sensorID
		case roomcfg.TriggerSessionStart, roomcfg.TriggerSessionEnd:
			match = true
		}

		if match {
			e.fire(rule)
		}
	}
}

// evaluateTimers fires timer rules whose threshold the pause-excluded
// elapsed time has reached.
func (e *Engine) evaluateTimers() {
	session := e.session.Session()
	if !session.Active || session.StartedAt == nil {
		return
	}

	var elapsedMs int64
	if session.PausedAt != nil {
		elapsedMs = *session.PausedAt - *session.StartedAt - session.TotalPausedMs
	} else {
		elapsedMs = e.now().UnixMilli() - *session.StartedAt - session.TotalPausedMs
	}

	for _, rule := range e.snapshot() {
		if !rule.Enabled || e.hasFired(rule.ID) {
			continue
		}
		if rule.Trigger.Type != roomcfg.TriggerTimer {
			continue
		}
		if elapsedMs >= rule.Trigger.AtElapsedMs {
			e.logger.Info("timer rule reached threshold",
				"rule", rule.ID, "elapsed_ms", elapsedMs)
			e.fire(rule)
		}
	}
}

// fire marks a rule fired and runs its actions in declaration order.
// Zero-delay actions run inline; delayed actions are scheduled as
// individually cancellable timers.
func (e *Engine) fire(rule roomcfg.Rule) {
	e.fired[rule.ID] = struct{}{}
	e.logger.Info("scenario triggered", "rule", rule.ID, "name", rule.Name)

	for _, action := range rule.Actions {
		if action.DelayMs > 0 {
			e.schedule(action)
		} else {
			e.execute(action)
		}
	}
}

// schedule registers a delayed action in the pending registry so a
// session boundary can cancel it.
func (e *Engine) schedule(action roomcfg.Action) {
	id := uuid.NewString()

	e.pendingMu.Lock()
	e.pending[id] = time.AfterFunc(time.Duration(action.DelayMs)*time.Millisecond, func() {
		e.pendingMu.Lock()
		_, live := e.pending[id]
		delete(e.pending, id)
		e.pendingMu.Unlock()

		// Lost the race with cancelPending: do nothing.
		if live {
			e.execute(action)
		}
	})
	e.pendingMu.Unlock()
}

// cancelPending stops every scheduled delayed action. Called on
// session end and abort so stale automation never fires into a new or
// absent session.
func (e *Engine) cancelPending() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for id, timer := range e.pending {
		timer.Stop()
		delete(e.pending, id)
	}
}

// execute performs one action.
func (e *Engine) execute(action roomcfg.Action) {
	switch action.Type {
	case roomcfg.ActionPlayAudio:
		e.broadcast.BroadcastAutomation("play_audio", map[string]any{"file": action.File})

	case roomcfg.ActionPlayMusic:
		e.broadcast.BroadcastAutomation("play_music", map[string]any{"file": action.File})

	case roomcfg.ActionStopMusic:
		e.broadcast.BroadcastAutomation("stop_music", nil)

	case roomcfg.ActionDeviceCmd:
		if e.commander == nil {
			return
		}
		if _, err := e.commander.SendCommand(action.PropID, action.Command, action.Payload); err != nil {
			e.logger.Error("scenario device command failed",
				"prop_id", action.PropID, "command", action.Command, "error", err)
		}

	default:
		e.logger.Warn("unknown action type", "type", action.Type)
	}
}

// resetFired clears the per-session fired set.
func (e *Engine) resetFired() {
	e.fired = make(map[string]struct{})
}

// hasFired reports whether a rule already fired this session.
func (e *Engine) hasFired(id string) bool {
	_, ok := e.fired[id]
	return ok
}

// snapshot returns the current rule list for iteration.
func (e *Engine) snapshot() []roomcfg.Rule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.rules
}

// PendingCount reports the number of scheduled delayed actions.
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}
