// Package server ties the reversible timeline kernel to its websocket feed.
// The hub owns the world, advances it on a fixed tick, fans state out to
// subscribers and stages the controls they send back; everything a subscriber
// sees is a projection of the journal's patches and keyframes.
package server

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/telemetry"
	"ebb-and-flow/server/logging"
	netlog "ebb-and-flow/server/logging/network"
)

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 10 * time.Second
	// heartbeatInterval is the cadence clients are asked to ping at;
	// subscribers silent for disconnectAfter are pruned.
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval

	// subscriberSendQueueSize is the per-subscriber async send buffer. A
	// full queue skips frames for that subscriber instead of stalling the
	// tick; the next keyframe heals the gap.
	subscriberSendQueueSize = 32
)

// HeartbeatInterval is the cadence advertised to clients.
func HeartbeatInterval() time.Duration {
	return heartbeatInterval
}

// subscriberConn is the transport a subscriber writes to. Production wraps a
// websocket connection; tests substitute in-memory fakes.
type subscriberConn interface {
	Write(data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsConn adapts a gorilla websocket connection to subscriberConn.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

// subscriberTelemetry receives send-queue observations from subscribers.
type subscriberTelemetry interface {
	RecordSubscriberQueueDepth(depth int)
	RecordSubscriberQueueDrop(depth int)
}

type outboundFrame struct {
	data     []byte
	deadline time.Time
}

// Subscriber is one connected feed consumer. Frames are queued to a writer
// goroutine so one slow connection cannot stall the broadcast loop.
type Subscriber struct {
	id         string
	remoteAddr string
	conn       subscriberConn
	telemetry  subscriberTelemetry

	send      chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once

	// lastHeartbeat and lastRTT are guarded by the hub mutex.
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

func newSubscriber(conn subscriberConn, telemetry subscriberTelemetry) *Subscriber {
	s := &Subscriber{
		conn:      conn,
		telemetry: telemetry,
		send:      make(chan outboundFrame, subscriberSendQueueSize),
		done:      make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(frame.deadline)
			if err := s.conn.Write(frame.data); err != nil {
				s.Close()
				return
			}
			if s.telemetry != nil {
				s.telemetry.RecordSubscriberQueueDepth(len(s.send))
			}
		}
	}
}

// Enqueue stages a frame for the writer goroutine, reporting false when the
// subscriber is gone or its queue is full.
func (s *Subscriber) Enqueue(data []byte, deadline time.Time) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- outboundFrame{data: data, deadline: deadline}:
		if s.telemetry != nil {
			s.telemetry.RecordSubscriberQueueDepth(len(s.send))
		}
		return true
	default:
		if s.telemetry != nil {
			s.telemetry.RecordSubscriberQueueDrop(len(s.send))
		}
		return false
	}
}

// Closed reports whether the writer has shut down.
func (s *Subscriber) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub owns the world and every subscriber. The world mutex serialises
// simulation access; the queue mutex serialises control staging, so a burst
// of client input never contends with the tick until drain time.
type Hub struct {
	mu          sync.Mutex
	world       *World
	subscribers map[string]*Subscriber
	nextID      atomic.Uint64

	queueMu       sync.Mutex
	controls      *controlQueue
	perSubscriber map[string]int
	dropCounts    map[string]uint64

	tick          atomic.Uint64
	keyframeSeq   atomic.Uint64
	forceKeyframe atomic.Bool

	cfg       Config
	clock     logging.Clock
	publisher logging.Publisher
	metrics   *logging.Metrics
	logger    telemetry.Logger
	counters  *telemetryCounters
}

// NewHub builds a hub and its world. Nil collaborators degrade to no-ops so
// tests can pass only what they observe. When the publisher carries a clock,
// the hub shares it; stub clocks in tests then drive deadlines too.
func NewHub(cfg Config, publisher logging.Publisher, metrics *logging.Metrics, logger telemetry.Logger) *Hub {
	cfg = cfg.Normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = &logging.Metrics{}
	}
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	clock := logging.Clock(logging.SystemClock{})
	if provider, ok := publisher.(interface{ Clock() logging.Clock }); ok {
		if candidate := provider.Clock(); candidate != nil {
			clock = candidate
		}
	}

	counters := newTelemetryCounters()
	return &Hub{
		world:         NewWorld(cfg, publisher, metrics, counters),
		subscribers:   make(map[string]*Subscriber),
		controls:      newControlQueue(cfg.ControlQueueCapacity, metrics),
		perSubscriber: make(map[string]int),
		dropCounts:    make(map[string]uint64),
		cfg:           cfg,
		clock:         clock,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		counters:      counters,
	}
}

// TickRate returns the configured broadcast rate in ticks per second.
func (h *Hub) TickRate() int {
	return h.cfg.TickRate
}

// Now reads the hub clock.
func (h *Hub) Now() time.Time {
	return h.clock.Now()
}

// Subscribe registers a websocket connection and returns the subscriber
// handle plus the hello frame describing the world it joined.
func (h *Hub) Subscribe(conn *websocket.Conn, remoteAddr string) (*Subscriber, feed.HelloMessage) {
	return h.subscribe(wsConn{conn: conn}, remoteAddr)
}

func (h *Hub) subscribe(conn subscriberConn, remoteAddr string) (*Subscriber, feed.HelloMessage) {
	sub := newSubscriber(conn, h.counters)
	sub.id = fmt.Sprintf("watcher-%d", h.nextID.Add(1))
	sub.remoteAddr = remoteAddr
	now := h.clock.Now()

	h.mu.Lock()
	sub.lastHeartbeat = now
	h.subscribers[sub.id] = sub
	h.metrics.TelemetryStore(logging.MetricFeedClients, uint64(len(h.subscribers)))
	status := h.world.Status()
	actors := h.world.SnapshotFrames()
	h.mu.Unlock()

	netlog.SubscriberJoined(context.Background(), h.publisher, int64(status.Step),
		logging.EntityRef{ID: sub.id, Kind: logging.EntityKindSubscriber},
		netlog.SubscriberPayload{RemoteAddr: remoteAddr}, nil)

	hello := feed.HelloMessage{
		Ver:              feed.ProtocolVersion,
		Type:             "hello",
		Subscriber:       sub.id,
		Branch:           status.Branch,
		Step:             status.Step,
		TimeSeconds:      status.TimeSeconds,
		StepsPerSecond:   chrono.StepsPerSecond,
		Actors:           actors,
		KeyframeInterval: h.cfg.KeyframeInterval,
	}
	return sub, hello
}

// Disconnect removes a subscriber and closes its connection. It is
// idempotent; the first caller wins and reports true.
func (h *Hub) Disconnect(id, reason string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		h.metrics.TelemetryStore(logging.MetricFeedClients, uint64(len(h.subscribers)))
	}
	step := int64(h.world.Status().Step)
	h.mu.Unlock()
	if !ok {
		return false
	}
	sub.Close()
	netlog.SubscriberLeft(context.Background(), h.publisher, step,
		logging.EntityRef{ID: id, Kind: logging.EntityKindSubscriber},
		netlog.SubscriberPayload{RemoteAddr: sub.remoteAddr, Reason: reason}, nil)
	return true
}

// EnqueueControl validates and stages a control for the next tick. A false
// return carries the reject reason; per-subscriber limits and ring overflow
// drop rather than block.
func (h *Hub) EnqueueControl(subscriberID string, msg feed.ControlMessage) (bool, string) {
	if reason := validateControl(msg); reason != "" {
		h.recordControlDrop(subscriberID, msg, reason, 0)
		return false, reason
	}

	staged := stagedControl{subscriber: subscriberID, msg: msg, receivedAt: h.clock.Now()}
	reason := ""
	h.queueMu.Lock()
	if limit := h.cfg.ControlsPerSubscriber; limit > 0 && subscriberID != "" {
		if h.perSubscriber[subscriberID] >= limit {
			reason = ControlRejectQueueLimit
		} else {
			h.perSubscriber[subscriberID]++
		}
	}
	if reason == "" && !h.controls.Push(staged) {
		reason = ControlRejectQueueFull
	}
	var dropCount uint64
	if reason != "" {
		h.dropCounts[subscriberID]++
		dropCount = h.dropCounts[subscriberID]
	}
	h.queueMu.Unlock()

	if reason != "" {
		h.recordControlDrop(subscriberID, msg, reason, 0)
		if dropCount&(dropCount-1) == 0 {
			h.logger.Printf("[backpressure] dropping control subscriber=%s type=%s count=%d",
				subscriberID, msg.Type, dropCount)
		}
		return false, reason
	}
	return true, ""
}

func (h *Hub) recordControlDrop(subscriberID string, msg feed.ControlMessage, reason string, step int64) {
	h.counters.RecordControlDrop(reason, string(msg.Type))
	h.metrics.TelemetryAdd(logging.MetricCommandsDropped, 1)
	netlog.ControlRejected(context.Background(), h.publisher, step,
		logging.EntityRef{ID: subscriberID, Kind: logging.EntityKindSubscriber},
		netlog.ControlRejectedPayload{Control: string(msg.Type), Reason: reason}, nil)
}

// drainControls empties the staging ring and resets the per-subscriber
// counts for the next window.
func (h *Hub) drainControls() []stagedControl {
	h.queueMu.Lock()
	staged := h.controls.Drain()
	if len(h.perSubscriber) > 0 {
		h.perSubscriber = make(map[string]int)
	}
	h.queueMu.Unlock()
	return staged
}

// UpdateHeartbeat records a heartbeat and refreshes the RTT estimate. Client
// clocks more than five seconds ahead of the server are ignored rather than
// poisoning the estimate.
func (h *Hub) UpdateHeartbeat(id string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[id]
	if !ok {
		return 0, false
	}
	sub.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			sub.lastRTT = rtt
		}
	}
	return sub.lastRTT, true
}

// Send queues one frame for a single subscriber.
func (h *Hub) Send(sub *Subscriber, data []byte) bool {
	if sub == nil {
		return false
	}
	return sub.Enqueue(data, h.clock.Now().Add(writeWait))
}

// broadcast fans a frame out to every subscriber. Dead writers are
// disconnected; slow ones skip the frame and catch up on the next keyframe.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	subs := make(map[string]*Subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	deadline := h.clock.Now().Add(writeWait)
	for id, sub := range subs {
		if sub.Enqueue(data, deadline) {
			continue
		}
		if sub.Closed() {
			h.Disconnect(id, "write_failed")
		}
	}
}

// ForceKeyframe schedules a keyframe on the next tick regardless of the
// interval.
func (h *Hub) ForceKeyframe() {
	h.forceKeyframe.Store(true)
}

// DiagnosticsSnapshot reports the world and subscriber roster for the
// diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() feed.DiagnosticsStatus {
	h.mu.Lock()
	status := h.world.Status()
	branches := h.world.Branches()
	subs := make([]feed.DiagnosticsSubscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, feed.DiagnosticsSubscriber{
			ID:            id,
			LastHeartbeat: sub.lastHeartbeat.UnixMilli(),
			RTTMillis:     sub.lastRTT.Milliseconds(),
		})
	}
	h.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return feed.DiagnosticsStatus{
		Ver:         feed.ProtocolVersion,
		Branch:      status.Branch,
		Step:        status.Step,
		TimeSeconds: status.TimeSeconds,
		Multiplier:  status.Multiplier,
		Paused:      status.Paused,
		Branches:    branches,
		Subscribers: subs,
	}
}

// TelemetrySnapshot merges the transport counters with the simulation
// metric set and, when the publisher is a router, its traffic totals.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	snap := h.counters.snapshot()
	snap.Counters = h.metrics.Snapshot()
	if provider, ok := h.publisher.(interface{ Stats() logging.RouterStats }); ok {
		stats := provider.Stats()
		if snap.Counters == nil {
			snap.Counters = make(map[string]uint64, 2)
		}
		snap.Counters[logging.MetricLogPublished] = stats.EventsTotal
		snap.Counters[logging.MetricLogDropped] = stats.DroppedTotal
	}
	return snap
}

// HubView is the renderable world copy handed to the local terminal viewer.
type HubView struct {
	Status   WorldStatus
	Actors   []feed.ActorFrame
	Branches []feed.BranchInfo
}

// View copies the current world state under the hub lock.
func (h *Hub) View() HubView {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubView{
		Status:   h.world.Status(),
		Actors:   h.world.SnapshotFrames(),
		Branches: h.world.Branches(),
	}
}

// Shutdown closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[string]*Subscriber)
	h.metrics.TelemetryStore(logging.MetricFeedClients, 0)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
