package server

import (
	"testing"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/ability"
	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/spatial"
	"ebb-and-flow/server/logging/timelinelog"
)

func applyOK(t *testing.T, world *World, msg feed.ControlMessage) {
	t.Helper()
	if ok, reason := world.ApplyControl(stagedControl{subscriber: "watcher-1", msg: msg}); !ok {
		t.Fatalf("expected %s to apply, got %q", msg.Type, reason)
	}
}

func applyRejected(t *testing.T, world *World, msg feed.ControlMessage, want string) {
	t.Helper()
	ok, reason := world.ApplyControl(stagedControl{subscriber: "watcher-1", msg: msg})
	if ok {
		t.Fatalf("expected %s to be rejected", msg.Type)
	}
	if reason != want {
		t.Fatalf("expected reason %q, got %q", want, reason)
	}
}

func TestApplyPauseResume(t *testing.T) {
	world := newTestWorld(t, testConfig(), nil)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlPause})
	if !world.Status().Paused {
		t.Fatalf("expected world paused")
	}
	applyOK(t, world, feed.ControlMessage{Type: feed.ControlResume})
	if world.Status().Paused {
		t.Fatalf("expected world resumed")
	}
}

func TestApplyScrubPauses(t *testing.T) {
	world := newTestWorld(t, testConfig(), nil)
	world.Advance(1.0)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlScrub, TimeSeconds: 0.2})
	if !world.Status().Paused {
		t.Fatalf("expected scrubbing to pause the world")
	}

	// The cursor approaches the target across updates instead of jumping.
	before := world.Status().TimeSeconds
	for i := 0; i < 200; i++ {
		world.Advance(0.05)
	}
	after := world.Status().TimeSeconds
	if after >= before {
		t.Fatalf("expected scrub to move time backward, got %.3f -> %.3f", before, after)
	}
}

func TestApplyReverseFlipsDirection(t *testing.T) {
	recorder := &eventRecorder{}
	world := newTestWorld(t, testConfig(), recorder)
	world.Advance(1.0)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlReverse})
	stepBefore := world.Status().Step
	world.Advance(0.5)
	stepAfter := world.Status().Step
	if stepAfter >= stepBefore {
		t.Fatalf("expected steps to fall after reverse, got %d -> %d", stepBefore, stepAfter)
	}
	if world.Status().Multiplier >= 0 {
		t.Fatalf("expected negative multiplier, got %f", world.Status().Multiplier)
	}
	if events := recorder.ofType(timelinelog.EventTimeReversed); len(events) != 1 {
		t.Fatalf("expected one time-reversed event, got %d", len(events))
	}
}

func TestApplyBranchDuplicateRejected(t *testing.T) {
	recorder := &eventRecorder{}
	world := newTestWorld(t, testConfig(), recorder)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlBranch, Name: "fork"})
	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlBranch, Name: "fork"}, ControlRejectDuplicate)

	if events := recorder.ofType(timelinelog.EventBranchCreated); len(events) != 1 {
		t.Fatalf("expected one branch-created event, got %d", len(events))
	}
}

func TestApplySwitchUnknownRejected(t *testing.T) {
	world := newTestWorld(t, testConfig(), nil)
	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlSwitch, Name: "nowhere"}, ControlRejectUnknownBranch)
}

func TestApplyMoveIssuesCommand(t *testing.T) {
	recorder := &eventRecorder{}
	world := newTestWorld(t, testConfig(), recorder)

	target := &spatial.Vec3{X: 3, Z: -2}
	applyOK(t, world, feed.ControlMessage{Type: feed.ControlMove, Actor: "drifter-1", Target: target, Speed: 5})

	events := recorder.ofType(timelinelog.EventCommandIssued)
	if len(events) != 1 {
		t.Fatalf("expected one command-issued event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(timelinelog.CommandIssuedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.Kind != string(chrono.CommandMove) {
		t.Fatalf("expected move command, got %q", payload.Kind)
	}
	if payload.Gait != string(chrono.GaitRun) {
		t.Fatalf("expected run gait at speed 5, got %q", payload.Gait)
	}

	obj, _ := world.sphere.Current().Object("drifter-1")
	start := obj.LocalPose().Linear
	world.Advance(2.0)
	moved := obj.LocalPose().Linear
	if start.DistanceTo(moved) == 0 {
		t.Fatalf("expected the drifter to move toward its target")
	}
}

func TestApplyMoveUnknownActorRejected(t *testing.T) {
	world := newTestWorld(t, testConfig(), nil)
	target := &spatial.Vec3{X: 1}
	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlMove, Actor: "nobody", Target: target}, ControlRejectUnknownActor)
}

func TestApplyBlinkTeleportsAndCoolsDown(t *testing.T) {
	recorder := &eventRecorder{}
	world := newTestWorld(t, testConfig(), recorder)

	target := &spatial.Vec3{X: 20, Z: 20}
	applyOK(t, world, feed.ControlMessage{Type: feed.ControlBlink, Actor: "drifter-1", Target: target})
	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlBlink, Actor: "drifter-1", Target: target}, ControlRejectCooldown)

	// Another actor's cooldown is its own.
	applyOK(t, world, feed.ControlMessage{Type: feed.ControlBlink, Actor: "drifter-2", Target: target})

	if events := recorder.ofType(timelinelog.EventActorBlinked); len(events) != 2 {
		t.Fatalf("expected two blink events, got %d", len(events))
	}
}

func TestApplyFreezeStopsTargetClock(t *testing.T) {
	recorder := &eventRecorder{}
	world := newTestWorld(t, testConfig(), recorder)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlFreeze, Actor: "drifter-1", TargetActor: "drifter-2"})

	events := recorder.ofType(timelinelog.EventModifierApplied)
	if len(events) != 1 {
		t.Fatalf("expected one modifier event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(timelinelog.ModifierAppliedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.Kind != string(chrono.ModifierFreeze) {
		t.Fatalf("expected freeze modifier, got %q", payload.Kind)
	}
	if payload.End-payload.Start != ability.DefaultFreezeDuration {
		t.Fatalf("expected default freeze span, got %d", payload.End-payload.Start)
	}

	frozen, _ := world.sphere.Current().Object("drifter-2")
	bystander, _ := world.sphere.Current().Object("drifter-1")
	brokenBefore := frozen.BrokenStep()
	world.Advance(0.5)
	if frozen.BrokenStep() != brokenBefore {
		t.Fatalf("expected frozen clock to hold at %d, got %d", brokenBefore, frozen.BrokenStep())
	}
	if bystander.BrokenStep() == brokenBefore {
		t.Fatalf("expected the bystander clock to keep running")
	}

	// The cooldown charges the caster, not the target.
	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlFreeze, Actor: "drifter-1", TargetActor: "sentry"}, ControlRejectCooldown)
}

func TestApplyHasteSpeedsSelf(t *testing.T) {
	world := newTestWorld(t, testConfig(), nil)

	applyOK(t, world, feed.ControlMessage{Type: feed.ControlHaste, Actor: "drifter-1", Rate: 2})

	hasted, _ := world.sphere.Current().Object("drifter-1")
	steady, _ := world.sphere.Current().Object("drifter-2")
	world.Advance(0.5)
	hastedDelta := hasted.BrokenStep()
	steadyDelta := steady.BrokenStep()
	if hastedDelta <= steadyDelta {
		t.Fatalf("expected hasted clock ahead, got %d vs %d", hastedDelta, steadyDelta)
	}

	applyRejected(t, world, feed.ControlMessage{Type: feed.ControlHaste, Actor: "drifter-1", Rate: 2}, ControlRejectCooldown)
}
