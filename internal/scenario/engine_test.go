package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Barraka/room-controller/internal/game"
	"github.com/Barraka/room-controller/internal/roomcfg"
)

// recordingBroadcaster captures automation cues.
type recordingBroadcaster struct {
	mu    sync.Mutex
	cues  []string
	files []string
}

func (b *recordingBroadcaster) BroadcastAutomation(action string, params map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cues = append(b.cues, action)
	if params != nil {
		if f, ok := params["file"].(string); ok {
			b.files = append(b.files, f)
		}
	}
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cues)
}

// recordingCommander captures device commands.
type recordingCommander struct {
	mu       sync.Mutex
	commands []string
}

func (c *recordingCommander) SendCommand(propID, command string, _ map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, propID+":"+command)
	return "req-test", nil
}

// fakeSession serves a canned session snapshot.
type fakeSession struct {
	mu      sync.Mutex
	session game.Session
}

func (f *fakeSession) Session() game.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSession) set(s game.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func int64Ptr(v int64) *int64 { return &v }

func solveRule(id, propID string) roomcfg.Rule {
	return roomcfg.Rule{
		ID:      id,
		Name:    id,
		Enabled: true,
		Trigger: roomcfg.Trigger{Type: roomcfg.TriggerPropSolved, PropID: propID},
		Actions: []roomcfg.Action{{Type: roomcfg.ActionPlayAudio, File: id + ".mp3"}},
	}
}

func TestEvaluate_FiresOncePerSession(t *testing.T) {
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{solveRule("ding", "keypad")}, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")

	if broadcast.count() != 1 {
		t.Errorf("rule fired %d times, want 1", broadcast.count())
	}

	// New session clears the fired set.
	engine.resetFired()
	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	if broadcast.count() != 2 {
		t.Errorf("rule fired %d times after reset, want 2", broadcast.count())
	}
}

func TestEvaluate_MatchesTriggerFields(t *testing.T) {
	rules := []roomcfg.Rule{
		solveRule("keypad-done", "keypad"),
		{
			ID: "secret-button", Name: "secret", Enabled: true,
			Trigger: roomcfg.Trigger{
				Type: roomcfg.TriggerSensorTriggered, PropID: "keypad", SensorID: "btn-2",
			},
			Actions: []roomcfg.Action{{Type: roomcfg.ActionStopMusic}},
		},
	}
	broadcast := &recordingBroadcaster{}
	engine := New(rules, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "bookshelf", "")
	engine.evaluate(roomcfg.TriggerSensorTriggered, "keypad", "btn-1")
	if broadcast.count() != 0 {
		t.Fatalf("non-matching events fired %d rules, want 0", broadcast.count())
	}

	engine.evaluate(roomcfg.TriggerSensorTriggered, "keypad", "btn-2")
	if broadcast.count() != 1 {
		t.Errorf("sensor rule fired %d times, want 1", broadcast.count())
	}
}

func TestEvaluate_SkipsDisabledRules(t *testing.T) {
	rule := solveRule("ding", "keypad")
	rule.Enabled = false
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{rule}, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	if broadcast.count() != 0 {
		t.Error("disabled rule fired")
	}
}

func TestEvaluateTimers_PauseCompensated(t *testing.T) {
	rule := roomcfg.Rule{
		ID: "halfway", Name: "halfway", Enabled: true,
		Trigger: roomcfg.Trigger{Type: roomcfg.TriggerTimer, AtElapsedMs: 5_000},
		Actions: []roomcfg.Action{{Type: roomcfg.ActionPlayAudio, File: "halfway.mp3"}},
	}
	session := &fakeSession{}
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{rule}, session, nil, broadcast, nil)

	// Session started at t=0, now t=12s, but 10s of it was paused:
	// only 2s of real time has elapsed.
	engine.SetNowFunc(func() time.Time { return time.UnixMilli(12_000) })
	session.set(game.Session{
		Active:        true,
		StartedAt:     int64Ptr(0),
		TotalPausedMs: 10_000,
	})

	engine.evaluateTimers()
	if broadcast.count() != 0 {
		t.Fatal("timer rule fired before pause-excluded threshold")
	}

	// 5 real seconds reached.
	engine.SetNowFunc(func() time.Time { return time.UnixMilli(15_000) })
	engine.evaluateTimers()
	if broadcast.count() != 1 {
		t.Errorf("timer rule fired %d times, want 1", broadcast.count())
	}

	// Repeated ticks past the threshold do not re-fire.
	engine.SetNowFunc(func() time.Time { return time.UnixMilli(20_000) })
	engine.evaluateTimers()
	if broadcast.count() != 1 {
		t.Error("timer rule re-fired on later tick")
	}
}

func TestEvaluateTimers_WhilePausedUsesPauseTime(t *testing.T) {
	rule := roomcfg.Rule{
		ID: "warn", Name: "warn", Enabled: true,
		Trigger: roomcfg.Trigger{Type: roomcfg.TriggerTimer, AtElapsedMs: 5_000},
		Actions: []roomcfg.Action{{Type: roomcfg.ActionStopMusic}},
	}
	session := &fakeSession{}
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{rule}, session, nil, broadcast, nil)

	// Paused at 3s elapsed; wall clock has moved far past the
	// threshold but elapsed time is frozen at the pause point.
	engine.SetNowFunc(func() time.Time { return time.UnixMilli(60_000) })
	session.set(game.Session{
		Active:    true,
		StartedAt: int64Ptr(0),
		PausedAt:  int64Ptr(3_000),
	})

	engine.evaluateTimers()
	if broadcast.count() != 0 {
		t.Error("timer rule fired while paused before threshold")
	}
}

func TestDelayedActions_CancelledOnSessionEnd(t *testing.T) {
	rule := solveRule("delayed", "keypad")
	rule.Actions[0].DelayMs = 50
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{rule}, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	if engine.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", engine.PendingCount())
	}

	engine.cancelPending()
	if engine.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d after cancel, want 0", engine.PendingCount())
	}

	time.Sleep(100 * time.Millisecond)
	if broadcast.count() != 0 {
		t.Error("cancelled delayed action still executed")
	}
}

func TestDelayedActions_ExecuteAfterDelay(t *testing.T) {
	rule := solveRule("delayed", "keypad")
	rule.Actions[0].DelayMs = 10
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{rule}, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")

	deadline := time.After(time.Second)
	for broadcast.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("delayed action never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if engine.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after execution, want 0", engine.PendingCount())
	}
}

func TestReloadRules_PreservesFiredState(t *testing.T) {
	broadcast := &recordingBroadcaster{}
	engine := New([]roomcfg.Rule{solveRule("ding", "keypad")}, &fakeSession{}, nil, broadcast, nil)

	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	if broadcast.count() != 1 {
		t.Fatal("rule did not fire")
	}

	// Reload with the same rule id: it must stay fired this session.
	engine.ReloadRules([]roomcfg.Rule{solveRule("ding", "keypad"), solveRule("new", "bookshelf")})
	engine.evaluate(roomcfg.TriggerPropSolved, "keypad", "")
	if broadcast.count() != 1 {
		t.Error("reloaded rule re-fired within the same session")
	}

	engine.evaluate(roomcfg.TriggerPropSolved, "bookshelf", "")
	if broadcast.count() != 2 {
		t.Error("newly added rule did not fire")
	}
}

func TestRun_SessionLifecycle(t *testing.T) {
	rules := []roomcfg.Rule{
		{
			ID: "intro", Name: "intro", Enabled: true,
			Trigger: roomcfg.Trigger{Type: roomcfg.TriggerSessionStart},
			Actions: []roomcfg.Action{{Type: roomcfg.ActionPlayMusic, File: "intro.mp3"}},
		},
		{
			ID: "outro", Name: "outro", Enabled: true,
			Trigger: roomcfg.Trigger{Type: roomcfg.TriggerSessionEnd},
			Actions: []roomcfg.Action{{Type: roomcfg.ActionStopMusic}},
		},
	}
	broadcast := &recordingBroadcaster{}
	commander := &recordingCommander{}
	engine := New(rules, &fakeSession{}, commander, broadcast, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan game.Event)

	done := make(chan struct{})
	go func() {
		engine.Run(ctx, events)
		close(done)
	}()

	events <- game.Event{Type: game.EventSessionStarted}
	events <- game.Event{Type: game.EventSessionEnded}

	// Events are consumed in order; once both are handled, both
	// lifecycle rules have fired.
	deadline := time.After(time.Second)
	for broadcast.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("lifecycle rules fired %d times, want 2", broadcast.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRun_AbortSkipsSessionEndRules(t *testing.T) {
	rules := []roomcfg.Rule{
		{
			ID: "outro", Name: "outro", Enabled: true,
			Trigger: roomcfg.Trigger{Type: roomcfg.TriggerSessionEnd},
			Actions: []roomcfg.Action{{Type: roomcfg.ActionStopMusic}},
		},
		{
			ID: "delayed", Name: "delayed", Enabled: true,
			Trigger: roomcfg.Trigger{Type: roomcfg.TriggerSessionStart},
			Actions: []roomcfg.Action{{Type: roomcfg.ActionPlayAudio, File: "late.mp3", DelayMs: 5_000}},
		},
	}
	broadcast := &recordingBroadcaster{}
	engine := New(rules, &fakeSession{}, nil, broadcast, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan game.Event)

	done := make(chan struct{})
	go func() {
		engine.Run(ctx, events)
		close(done)
	}()

	events <- game.Event{Type: game.EventSessionStarted}
	events <- game.Event{Type: game.EventSessionAborted}

	// The abort must have drained the delayed action scheduled at
	// session start without firing session_end rules.
	deadline := time.After(time.Second)
	for engine.PendingCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("pending actions not cancelled on abort")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if broadcast.count() != 0 {
		t.Errorf("abort fired %d rules, want 0", broadcast.count())
	}

	cancel()
	<-done
}
