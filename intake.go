package server

import (
	"math"
	"strings"
	"time"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/logging"
)

// Reject reasons reported to clients and counted in telemetry.
const (
	ControlRejectInvalid       = "invalid"
	ControlRejectQueueFull     = "queue_full"
	ControlRejectQueueLimit    = "queue_limit"
	ControlRejectUnknownActor  = "unknown_actor"
	ControlRejectUnknownBranch = "unknown_branch"
	ControlRejectDuplicate     = "duplicate_branch"
	ControlRejectCooldown      = "cooldown"
)

// maxTimeMultiplier bounds the magnitude a subscriber may request.
const maxTimeMultiplier = 64.0

// stagedControl is one validated control frame waiting for the next tick.
type stagedControl struct {
	subscriber string
	msg        feed.ControlMessage
	receivedAt time.Time
}

const (
	metricControlQueueOccupancy = "control_queue_occupancy"
	metricControlQueueOverflow  = "control_queue_overflow_total"
)

// controlQueue is a fixed-capacity FIFO ring for staged controls. It does no
// locking of its own; the hub serialises access behind its queue mutex.
type controlQueue struct {
	data  []stagedControl
	head  int
	tail  int
	count int

	metrics *logging.Metrics
}

func newControlQueue(capacity int, metrics *logging.Metrics) *controlQueue {
	if capacity <= 0 {
		capacity = defaultControlQueueCapacity
	}
	return &controlQueue{data: make([]stagedControl, capacity), metrics: metrics}
}

// Push appends a control, reporting false when the ring is full.
func (q *controlQueue) Push(ctl stagedControl) bool {
	if q.count == len(q.data) {
		q.metrics.TelemetryAdd(metricControlQueueOverflow, 1)
		return false
	}
	q.data[q.tail] = ctl
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.metrics.TelemetryStore(metricControlQueueOccupancy, uint64(q.count))
	return true
}

// Drain copies the staged controls out in arrival order and resets the ring.
func (q *controlQueue) Drain() []stagedControl {
	if q.count == 0 {
		return nil
	}
	out := make([]stagedControl, 0, q.count)
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.data)
		out = append(out, q.data[idx])
		q.data[idx] = stagedControl{}
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	q.metrics.TelemetryStore(metricControlQueueOccupancy, 0)
	return out
}

func (q *controlQueue) Len() int {
	return q.count
}

func (q *controlQueue) Capacity() int {
	return len(q.data)
}

// validateControl checks a frame's shape before it may be staged. Semantics
// that need the world, such as actor and branch lookups, wait for apply time.
func validateControl(msg feed.ControlMessage) string {
	switch msg.Type {
	case feed.ControlPause, feed.ControlResume, feed.ControlReverse:
		return ""
	case feed.ControlMultiplier:
		if math.IsNaN(msg.Multiplier) || math.IsInf(msg.Multiplier, 0) {
			return ControlRejectInvalid
		}
		if msg.Multiplier == 0 || math.Abs(msg.Multiplier) > maxTimeMultiplier {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlScrub:
		if math.IsNaN(msg.TimeSeconds) || msg.TimeSeconds < 0 {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlBranch, feed.ControlSwitch:
		if strings.TrimSpace(msg.Name) == "" {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlMove:
		if msg.Actor == "" || msg.Target == nil || msg.Speed < 0 {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlBlink:
		if msg.Actor == "" || msg.Target == nil || msg.Lapse < 0 {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlFreeze:
		if msg.Actor == "" && msg.TargetActor == "" {
			return ControlRejectInvalid
		}
		if msg.DurationSeconds < 0 {
			return ControlRejectInvalid
		}
		return ""
	case feed.ControlHaste:
		if msg.Actor == "" || msg.DurationSeconds < 0 {
			return ControlRejectInvalid
		}
		// Rate zero means the default; anything else must speed time up.
		if msg.Rate != 0 && msg.Rate <= 1 {
			return ControlRejectInvalid
		}
		return ""
	}
	return ControlRejectInvalid
}
