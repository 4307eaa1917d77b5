package server

import (
	"sync"
	"sync/atomic"
	"time"

	"ebb-and-flow/server/feed"
)

// telemetryCounters aggregates the transport-side counters surfaced through
// /diagnostics. Hot-path counters are atomics; the reason-keyed drop maps sit
// behind a mutex because they only move when something is already wrong.
type telemetryCounters struct {
	broadcasts         atomic.Uint64
	broadcastBytes     atomic.Uint64
	lastBroadcastBytes atomic.Uint64
	lastPatchCount     atomic.Uint64
	lastTickMicros     atomic.Int64

	queueDepth atomic.Int64
	queueDrops atomic.Uint64

	keyframeCount  atomic.Int64
	keyframeOldest atomic.Uint64
	keyframeNewest atomic.Uint64

	mu           sync.Mutex
	controlDrops map[string]map[string]uint64
	journalDrops map[string]uint64
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{
		controlDrops: make(map[string]map[string]uint64),
		journalDrops: make(map[string]uint64),
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, patches int) {
	t.broadcasts.Add(1)
	t.broadcastBytes.Add(uint64(bytes))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastPatchCount.Store(uint64(patches))
}

func (t *telemetryCounters) RecordTickDuration(d time.Duration) {
	t.lastTickMicros.Store(d.Microseconds())
}

// RecordSubscriberQueueDepth tracks the deepest recently observed send queue.
func (t *telemetryCounters) RecordSubscriberQueueDepth(depth int) {
	t.queueDepth.Store(int64(depth))
}

// RecordSubscriberQueueDrop counts a frame skipped because a subscriber's
// send queue was full.
func (t *telemetryCounters) RecordSubscriberQueueDrop(depth int) {
	t.queueDrops.Add(1)
	t.queueDepth.Store(int64(depth))
}

// RecordControlDrop counts a refused control under its reject reason.
func (t *telemetryCounters) RecordControlDrop(reason, control string) {
	if reason == "" {
		return
	}
	t.mu.Lock()
	byControl := t.controlDrops[reason]
	if byControl == nil {
		byControl = make(map[string]uint64)
		t.controlDrops[reason] = byControl
	}
	byControl[control]++
	t.mu.Unlock()
}

// RecordJournalDrop satisfies journal.Telemetry.
func (t *telemetryCounters) RecordJournalDrop(metric string) {
	if metric == "" {
		return
	}
	t.mu.Lock()
	t.journalDrops[metric]++
	t.mu.Unlock()
}

func (t *telemetryCounters) RecordKeyframeWindow(size int, oldest, newest feed.Seq) {
	t.keyframeCount.Store(int64(size))
	t.keyframeOldest.Store(uint64(oldest))
	t.keyframeNewest.Store(uint64(newest))
}

// telemetrySnapshot is the diagnostics projection of the counters. Counters
// carries the simulation metric set alongside the transport numbers.
type telemetrySnapshot struct {
	Broadcasts           uint64                       `json:"broadcasts"`
	BroadcastBytes       uint64                       `json:"broadcastBytes"`
	LastBroadcastBytes   uint64                       `json:"lastBroadcastBytes"`
	LastPatchCount       uint64                       `json:"lastPatchCount"`
	LastTickMicros       int64                        `json:"lastTickMicros"`
	SubscriberQueueDepth int64                        `json:"subscriberQueueDepth"`
	SubscriberQueueDrops uint64                       `json:"subscriberQueueDrops"`
	KeyframeCount        int64                        `json:"keyframeCount"`
	KeyframeOldestSeq    uint64                       `json:"keyframeOldestSeq"`
	KeyframeNewestSeq    uint64                       `json:"keyframeNewestSeq"`
	ControlDrops         map[string]map[string]uint64 `json:"controlDrops,omitempty"`
	JournalDrops         map[string]uint64            `json:"journalDrops,omitempty"`
	Counters             map[string]uint64            `json:"counters,omitempty"`
}

func (t *telemetryCounters) snapshot() telemetrySnapshot {
	snap := telemetrySnapshot{
		Broadcasts:           t.broadcasts.Load(),
		BroadcastBytes:       t.broadcastBytes.Load(),
		LastBroadcastBytes:   t.lastBroadcastBytes.Load(),
		LastPatchCount:       t.lastPatchCount.Load(),
		LastTickMicros:       t.lastTickMicros.Load(),
		SubscriberQueueDepth: t.queueDepth.Load(),
		SubscriberQueueDrops: t.queueDrops.Load(),
		KeyframeCount:        t.keyframeCount.Load(),
		KeyframeOldestSeq:    t.keyframeOldest.Load(),
		KeyframeNewestSeq:    t.keyframeNewest.Load(),
	}
	t.mu.Lock()
	if len(t.controlDrops) > 0 {
		snap.ControlDrops = make(map[string]map[string]uint64, len(t.controlDrops))
		for reason, byControl := range t.controlDrops {
			copied := make(map[string]uint64, len(byControl))
			for control, n := range byControl {
				copied[control] = n
			}
			snap.ControlDrops[reason] = copied
		}
	}
	if len(t.journalDrops) > 0 {
		snap.JournalDrops = make(map[string]uint64, len(t.journalDrops))
		for metric, n := range t.journalDrops {
			snap.JournalDrops[metric] = n
		}
	}
	t.mu.Unlock()
	return snap
}
