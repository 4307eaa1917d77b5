package server

import (
	"encoding/json"
	"testing"
	"time"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/spatial"
	netlog "ebb-and-flow/server/logging/network"
	simlog "ebb-and-flow/server/logging/simulation"
)

func TestAdvanceAppliesStagedControls(t *testing.T) {
	hub, clock, _ := newTestHub(t, testConfig())

	if ok, reason := hub.EnqueueControl("watcher-1", feed.ControlMessage{Type: feed.ControlPause}); !ok {
		t.Fatalf("expected pause to stage, got %q", reason)
	}

	state, keyframe := hub.advance(clock.Now(), 0.05)
	if !state.Paused {
		t.Fatalf("expected the staged pause to apply before broadcast")
	}
	if state.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", state.Sequence)
	}
	if state.ServerTime != clock.Now().UnixMilli() {
		t.Fatalf("expected server time %d, got %d", clock.Now().UnixMilli(), state.ServerTime)
	}
	if len(state.Patches) < 4 {
		t.Fatalf("expected the first tick to carry the spawn patches, got %d", len(state.Patches))
	}
	if keyframe != nil {
		t.Fatalf("expected no keyframe without an interval, got %+v", keyframe)
	}
}

func TestAdvanceEmitsKeyframeOnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.KeyframeInterval = 2
	hub, clock, _ := newTestHub(t, cfg)

	state, keyframe := hub.advance(clock.Now(), 0.05)
	if keyframe != nil {
		t.Fatalf("expected no keyframe on tick 1")
	}
	if state.KeyframeSeq != 0 {
		t.Fatalf("expected keyframe seq 0 before the first keyframe, got %d", state.KeyframeSeq)
	}

	state, keyframe = hub.advance(clock.Now(), 0.05)
	if keyframe == nil {
		t.Fatalf("expected a keyframe on tick 2")
	}
	if keyframe.Type != "keyframe" || keyframe.Sequence != 1 {
		t.Fatalf("unexpected keyframe header %q seq %d", keyframe.Type, keyframe.Sequence)
	}
	if len(keyframe.Actors) != 4 {
		t.Fatalf("expected 4 actors in the keyframe, got %d", len(keyframe.Actors))
	}
	if state.KeyframeSeq != 1 {
		t.Fatalf("expected the state frame to reference keyframe 1, got %d", state.KeyframeSeq)
	}

	if _, keyframe = hub.advance(clock.Now(), 0.05); keyframe != nil {
		t.Fatalf("expected no keyframe on tick 3")
	}
	if _, keyframe = hub.advance(clock.Now(), 0.05); keyframe == nil || keyframe.Sequence != 2 {
		t.Fatalf("expected keyframe 2 on tick 4, got %+v", keyframe)
	}
}

func TestBranchSwitchForcesKeyframe(t *testing.T) {
	hub, clock, _ := newTestHub(t, testConfig())
	hub.advance(clock.Now(), 0.05)

	hub.EnqueueControl("watcher-1", feed.ControlMessage{Type: feed.ControlBranch, Name: "fork"})
	state, keyframe := hub.advance(clock.Now(), 0.05)
	if keyframe == nil {
		t.Fatalf("expected a keyframe after the branch switch")
	}
	if keyframe.Branch != "fork" || state.Branch != "fork" {
		t.Fatalf("expected frames on branch fork, got %q and %q", keyframe.Branch, state.Branch)
	}
}

func TestForceKeyframeFiresOnce(t *testing.T) {
	hub, clock, _ := newTestHub(t, testConfig())

	hub.ForceKeyframe()
	if _, keyframe := hub.advance(clock.Now(), 0.05); keyframe == nil {
		t.Fatalf("expected a forced keyframe")
	}
	if _, keyframe := hub.advance(clock.Now(), 0.05); keyframe != nil {
		t.Fatalf("expected the force flag to clear after one tick")
	}
}

func TestStagedControlRejectedAtApplyTime(t *testing.T) {
	hub, clock, recorder := newTestHub(t, testConfig())

	msg := feed.ControlMessage{Type: feed.ControlMove, Actor: "nobody", Target: &spatial.Vec3{X: 1}}
	if ok, reason := hub.EnqueueControl("watcher-1", msg); !ok {
		t.Fatalf("expected the move to pass shape validation, got %q", reason)
	}

	hub.advance(clock.Now(), 0.05)

	snap := hub.TelemetrySnapshot()
	if snap.ControlDrops[ControlRejectUnknownActor]["move"] != 1 {
		t.Fatalf("expected one unknown-actor drop, got %v", snap.ControlDrops)
	}
	if events := recorder.ofType(netlog.EventControlRejected); len(events) != 1 {
		t.Fatalf("expected one reject event, got %d", len(events))
	}
}

func TestAdvancePrunesSilentSubscribers(t *testing.T) {
	hub, clock, recorder := newTestHub(t, testConfig())
	conn := &stubConn{}
	hub.subscribe(conn, "10.0.0.1:4000")

	clock.Advance(disconnectAfter + time.Second)
	hub.advance(clock.Now(), 0.05)

	if subs := hub.DiagnosticsSnapshot().Subscribers; len(subs) != 0 {
		t.Fatalf("expected the silent subscriber to be pruned, got %d", len(subs))
	}
	if !conn.wasClosed() {
		t.Fatalf("expected the pruned connection to be closed")
	}
	if events := recorder.ofType(netlog.EventHeartbeatTimeout); len(events) != 1 {
		t.Fatalf("expected one timeout event, got %d", len(events))
	}
}

func TestObserveStepBudget(t *testing.T) {
	hub, _, recorder := newTestHub(t, testConfig())
	budget := 10 * time.Millisecond

	if streak := hub.observeStepBudget(5*time.Millisecond, budget, 0, 0); streak != 0 {
		t.Fatalf("expected no streak within budget, got %d", streak)
	}

	// Mild overruns warn and extend the streak.
	streak := uint64(0)
	for i := 0; i < 4; i++ {
		streak = hub.observeStepBudget(12*time.Millisecond, budget, streak, 0)
		if streak != uint64(i+1) {
			t.Fatalf("expected streak %d, got %d", i+1, streak)
		}
	}
	if events := recorder.ofType(simlog.EventStepBudgetOverrun); len(events) != 4 {
		t.Fatalf("expected 4 overrun events, got %d", len(events))
	}

	// The fifth consecutive overrun escalates and schedules a resync.
	if streak = hub.observeStepBudget(12*time.Millisecond, budget, streak, 0); streak != 0 {
		t.Fatalf("expected the alarm to reset the streak, got %d", streak)
	}
	if events := recorder.ofType(simlog.EventStepBudgetAlarm); len(events) != 1 {
		t.Fatalf("expected 1 alarm event, got %d", len(events))
	}
	if !hub.forceKeyframe.Load() {
		t.Fatalf("expected the alarm to force a keyframe")
	}

	// A single severe overrun escalates with no streak at all.
	hub.forceKeyframe.Store(false)
	if streak = hub.observeStepBudget(25*time.Millisecond, budget, 0, 0); streak != 0 {
		t.Fatalf("expected a severe overrun to reset the streak, got %d", streak)
	}
	if events := recorder.ofType(simlog.EventStepBudgetAlarm); len(events) != 2 {
		t.Fatalf("expected 2 alarm events, got %d", len(events))
	}
	if !hub.forceKeyframe.Load() {
		t.Fatalf("expected the severe overrun to force a keyframe")
	}
}

func TestRunSimulationBroadcastsState(t *testing.T) {
	hub, _, _ := newTestHub(t, testConfig())
	conn := &stubConn{}
	hub.subscribe(conn, "10.0.0.1:4000")

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	waitFor(t, "two broadcast ticks", func() bool { return conn.frameCount() >= 2 })

	var state feed.StateMessage
	if err := json.Unmarshal(conn.frame(0), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Type != "state" || state.Ver != feed.ProtocolVersion {
		t.Fatalf("unexpected frame header %q v%d", state.Type, state.Ver)
	}
	if state.Branch != "prime" {
		t.Fatalf("expected branch prime, got %q", state.Branch)
	}
	if state.Sequence == 0 {
		t.Fatalf("expected a nonzero sequence")
	}
}
