package server

import (
	"context"
	"math"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/ability"
	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/logging"
	"ebb-and-flow/server/logging/timelinelog"
)

func actorRef(name string) logging.EntityRef {
	return logging.EntityRef{ID: name, Kind: logging.EntityKindActor}
}

// durationSteps converts a requested modifier duration to broken steps,
// falling back to the ability default when the request leaves it unset.
func durationSteps(seconds float64, fallback int64) int64 {
	if seconds <= 0 {
		return fallback
	}
	return int64(math.Round(seconds * chrono.StepsPerSecond))
}

// ApplyControl executes one staged control against the sphere. The reason
// string shares the reject vocabulary the intake queue uses, so telemetry
// counts both stages under one key space.
//
// Playback controls return no typed events of their own; the per-tick state
// message already carries the paused flag and the multiplier. Structural
// changes and actor commands publish through the timeline log.
func (w *World) ApplyControl(ctl stagedControl) (bool, string) {
	msg := ctl.msg
	ctx := context.Background()
	current := w.sphere.Current()
	step := current.CurrentStep()

	switch msg.Type {
	case feed.ControlPause:
		w.sphere.Pause()
		return true, ""

	case feed.ControlResume:
		w.sphere.Resume()
		return true, ""

	case feed.ControlMultiplier:
		w.sphere.SetTargetTimeMultiplier(msg.Multiplier)
		return true, ""

	case feed.ControlScrub:
		// Scrubbing implies pausing; a running cursor would race the
		// damped approach.
		w.sphere.Pause()
		w.sphere.SetScrubTarget(msg.TimeSeconds)
		return true, ""

	case feed.ControlReverse:
		w.sphere.TimeReverseImmediate()
		timelinelog.TimeReversed(ctx, w.publisher, step, timelinelog.TimeReversedPayload{
			Multiplier: w.sphere.Multiplier(),
			Reversed:   current.ReversedPass(),
		}, nil)
		return true, ""

	case feed.ControlBranch:
		if _, err := w.sphere.CreateBranch(msg.Name); err != nil {
			return false, ControlRejectDuplicate
		}
		w.metrics.TelemetryAdd(logging.MetricBranchesCreated, 1)
		timelinelog.BranchCreated(ctx, w.publisher, step, timelinelog.BranchCreatedPayload{
			Source: current.Name(),
			Branch: msg.Name,
			Step:   step,
		}, nil)
		return true, ""

	case feed.ControlSwitch:
		if err := w.sphere.SwitchTimeline(msg.Name); err != nil {
			return false, ControlRejectUnknownBranch
		}
		return true, ""

	case feed.ControlMove:
		obj, ok := current.Object(msg.Actor)
		if !ok {
			return false, ControlRejectUnknownActor
		}
		speed := msg.Speed
		if speed <= 0 {
			speed = chrono.WalkSpeed
		}
		if !obj.MoveTo(*msg.Target, speed) {
			return false, ControlRejectInvalid
		}
		w.metrics.TelemetryAdd(logging.MetricCommandsIssued, 1)
		timelinelog.CommandIssued(ctx, w.publisher, step, actorRef(msg.Actor), timelinelog.CommandIssuedPayload{
			Kind:   string(chrono.CommandMove),
			Target: *msg.Target,
			Gait:   string(chrono.GaitForSpeed(speed)),
			Start:  obj.LocalStep(),
		}, nil)
		return true, ""

	case feed.ControlBlink:
		obj, ok := current.Object(msg.Actor)
		if !ok {
			return false, ControlRejectUnknownActor
		}
		if !w.abilities.Ready(msg.Actor, ability.KindBlink, current.Frontier()) {
			return false, ControlRejectCooldown
		}
		lapse := msg.Lapse
		if lapse <= 0 {
			lapse = chrono.DefaultBlinkLapse
		}
		blink := ability.Blink{Lapse: lapse}
		if !blink.UseOnEnvironment(obj, *msg.Target) {
			return false, ControlRejectInvalid
		}
		w.metrics.TelemetryAdd(logging.MetricCommandsIssued, 1)
		timelinelog.ActorBlinked(ctx, w.publisher, step, actorRef(msg.Actor), timelinelog.ActorBlinkedPayload{
			Target: *msg.Target,
			Lapse:  lapse,
		}, nil)
		return true, ""

	case feed.ControlFreeze:
		name := msg.TargetActor
		if name == "" {
			name = msg.Actor
		}
		caster := msg.Actor
		if caster == "" {
			caster = name
		}
		target, ok := current.Object(name)
		if !ok {
			return false, ControlRejectUnknownActor
		}
		if !w.abilities.Ready(caster, ability.KindFreeze, current.Frontier()) {
			return false, ControlRejectCooldown
		}
		duration := durationSteps(msg.DurationSeconds, ability.DefaultFreezeDuration)
		start := target.BrokenStep()
		freeze := ability.Freeze{Duration: duration}
		if !freeze.UseOnTarget(target) {
			return false, ControlRejectInvalid
		}
		timelinelog.ModifierApplied(ctx, w.publisher, step, actorRef(caster), actorRef(name), timelinelog.ModifierAppliedPayload{
			Kind:  string(chrono.ModifierFreeze),
			Start: start,
			End:   start + duration,
			Rate:  -1,
		}, nil)
		return true, ""

	case feed.ControlHaste:
		obj, ok := current.Object(msg.Actor)
		if !ok {
			return false, ControlRejectUnknownActor
		}
		if !w.abilities.Ready(msg.Actor, ability.KindHaste, current.Frontier()) {
			return false, ControlRejectCooldown
		}
		rate := msg.Rate
		if rate <= 1 {
			rate = ability.DefaultHasteRate
		}
		duration := durationSteps(msg.DurationSeconds, ability.DefaultHasteDuration)
		start := obj.BrokenStep()
		haste := ability.Haste{Rate: rate, Duration: duration}
		if !haste.UseOnSelf(obj) {
			return false, ControlRejectInvalid
		}
		timelinelog.ModifierApplied(ctx, w.publisher, step, actorRef(msg.Actor), actorRef(msg.Actor), timelinelog.ModifierAppliedPayload{
			Kind:  string(chrono.ModifierHaste),
			Start: start,
			End:   start + duration,
			Rate:  rate,
		}, nil)
		return true, ""
	}

	return false, ControlRejectInvalid
}
