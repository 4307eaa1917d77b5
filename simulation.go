package server

import (
	"context"
	"encoding/json"
	"time"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/journal"
	"ebb-and-flow/server/logging"
	netlog "ebb-and-flow/server/logging/network"
	simlog "ebb-and-flow/server/logging/simulation"
)

const (
	// catchupMaxTicks caps how much wall time a single tick may absorb
	// after a stall, so time jumps stay bounded.
	catchupMaxTicks = 4

	// A tick whose work exceeds its budget by the alarm ratio, or that
	// overruns this many ticks in a row, escalates to an alarm and
	// schedules a keyframe so drifted subscribers resync.
	stepBudgetAlarmRatio  = 2.0
	stepBudgetAlarmStreak = 5
)

// RunSimulation drives the fixed-rate tick loop until stop closes. Each tick
// drains staged controls, advances the world, broadcasts the resulting state
// and watches its own run time against the tick budget.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	tickRate := h.cfg.TickRate
	interval := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fallbackDt := 1.0 / float64(tickRate)
	maxDt := fallbackDt * catchupMaxTicks
	last := h.clock.Now()
	var streak uint64

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := h.clock.Now()
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = fallbackDt
			} else if dt > maxDt {
				dt = maxDt
			}
			last = now

			started := h.clock.Now()
			state, keyframe := h.advance(now, dt)
			if keyframe != nil {
				h.broadcastKeyframe(keyframe)
			}
			h.broadcastState(state)
			duration := h.clock.Now().Sub(started)
			h.counters.RecordTickDuration(duration)
			streak = h.observeStepBudget(duration, interval, streak, state.Step)
		}
	}
}

// advance runs one simulation tick and assembles the frames to broadcast.
// Controls apply before the step so a command and the step it lands on share
// a broadcast.
func (h *Hub) advance(now time.Time, dt float64) (feed.StateMessage, *feed.KeyframeMessage) {
	staged := h.drainControls()

	h.mu.Lock()
	h.pruneStaleLocked(now)

	for _, ctl := range staged {
		if ok, reason := h.world.ApplyControl(ctl); !ok {
			h.recordControlDrop(ctl.subscriber, ctl.msg, reason, int64(h.world.Status().Step))
		}
	}

	report := h.world.Advance(dt)
	status := h.world.Status()
	patches := h.world.DrainPatches()
	seq := feed.Seq(h.tick.Add(1))

	var keyframe *feed.KeyframeMessage
	if h.shouldEmitKeyframe(seq, report) {
		keyframe = h.recordKeyframeLocked(status)
	}
	h.mu.Unlock()

	state := feed.StateMessage{
		Ver:         feed.ProtocolVersion,
		Type:        "state",
		Branch:      status.Branch,
		Step:        status.Step,
		TimeSeconds: status.TimeSeconds,
		Multiplier:  status.Multiplier,
		Paused:      status.Paused,
		Reversed:    status.Reversed,
		Patches:     patches,
		Sequence:    seq,
		KeyframeSeq: feed.Seq(h.keyframeSeq.Load()),
		ServerTime:  now.UnixMilli(),
	}
	return state, keyframe
}

// pruneStaleLocked drops subscribers whose heartbeats went silent. Closing
// happens off the roster so the read loops observe the disconnect.
func (h *Hub) pruneStaleLocked(now time.Time) {
	for id, sub := range h.subscribers {
		silent := now.Sub(sub.lastHeartbeat)
		if silent <= disconnectAfter {
			continue
		}
		delete(h.subscribers, id)
		sub.Close()
		netlog.HeartbeatTimeout(context.Background(), h.publisher, int64(h.world.Status().Step),
			logging.EntityRef{ID: id, Kind: logging.EntityKindSubscriber},
			netlog.HeartbeatTimeoutPayload{SilentMillis: silent.Milliseconds()}, nil)
		h.metrics.TelemetryStore(logging.MetricFeedClients, uint64(len(h.subscribers)))
	}
}

// shouldEmitKeyframe decides whether this tick carries a full resync frame.
func (h *Hub) shouldEmitKeyframe(seq feed.Seq, report WorldReport) bool {
	forced := h.forceKeyframe.Swap(false)
	if forced || report.BranchSwitched || report.Resync {
		return true
	}
	interval := h.cfg.KeyframeInterval
	return interval > 0 && uint64(seq)%uint64(interval) == 0
}

func (h *Hub) recordKeyframeLocked(status WorldStatus) *feed.KeyframeMessage {
	seq := feed.Seq(h.keyframeSeq.Add(1))
	actors := h.world.SnapshotFrames()
	result := h.world.RecordKeyframe(journal.Keyframe{
		Step:     status.Step,
		Sequence: seq,
		Branch:   status.Branch,
		Actors:   actors,
	})
	h.counters.RecordKeyframeWindow(result.Size, result.OldestSequence, result.NewestSequence)
	return &feed.KeyframeMessage{
		Ver:      feed.ProtocolVersion,
		Type:     "keyframe",
		Sequence: seq,
		Branch:   status.Branch,
		Step:     status.Step,
		Actors:   actors,
	}
}

// broadcastState marshals and fans out the per-tick delta frame. A failed
// encode puts the drained patches back so the next tick carries them.
func (h *Hub) broadcastState(msg feed.StateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		h.mu.Lock()
		h.world.RestorePatches(msg.Patches)
		h.mu.Unlock()
		return
	}
	h.broadcast(data)
	h.counters.RecordBroadcast(len(data), len(msg.Patches))
}

func (h *Hub) broadcastKeyframe(msg *feed.KeyframeMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal keyframe %d: %v", msg.Sequence, err)
		return
	}
	h.broadcast(data)
}

// observeStepBudget tracks tick overruns. Ordinary overruns warn; crossing
// the alarm ratio or streak raises an error event and forces a keyframe,
// since subscribers have likely drifted behind the stretched ticks.
func (h *Hub) observeStepBudget(duration, budget time.Duration, streak uint64, step feed.Step) uint64 {
	if budget <= 0 || duration <= budget {
		return 0
	}
	streak++
	ratio := float64(duration) / float64(budget)
	if ratio >= stepBudgetAlarmRatio || streak >= stepBudgetAlarmStreak {
		h.ForceKeyframe()
		simlog.StepBudgetAlarm(context.Background(), h.publisher, int64(step), simlog.StepBudgetAlarmPayload{
			DurationMillis:  duration.Milliseconds(),
			BudgetMillis:    budget.Milliseconds(),
			Ratio:           ratio,
			Streak:          streak,
			ResyncScheduled: true,
			ThresholdRatio:  stepBudgetAlarmRatio,
			ThresholdStreak: stepBudgetAlarmStreak,
		}, nil)
		return 0
	}
	simlog.StepBudgetOverrun(context.Background(), h.publisher, int64(step), simlog.StepBudgetOverrunPayload{
		DurationMillis: duration.Milliseconds(),
		BudgetMillis:   budget.Milliseconds(),
		Ratio:          ratio,
		Streak:         streak,
	}, nil)
	return streak
}
