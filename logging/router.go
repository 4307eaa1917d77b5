package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the time source events are stamped with. The router takes it as a
// dependency so a simulation can stamp events with its own clock in tests.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sink consumes routed events. Write runs on the sink's own goroutine; a
// returned error puts the sink into backoff instead of stopping the router.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink pairs a sink with the configuration name that enabled it.
type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans events out to sinks without ever blocking a publisher. The
// intake ring absorbs bursts; when it is full the event is counted and
// dropped rather than stalling a simulation step.
type Router struct {
	intake chan Event
	lanes  []*sinkLane
	stamp  Clock
	floor  Severity
	base   map[string]any
	alert  *log.Logger

	warnEvery time.Duration
	warnNext  atomic.Int64

	published atomic.Uint64
	dropped   atomic.Uint64

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// RouterStats counts traffic through the router since construction.
type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

// NewRouter builds a running router over the given sinks. A nil clock falls
// back to the wall clock; nil sinks are skipped.
func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	depth := cfg.BufferSize
	if depth <= 0 {
		depth = 512
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = 5 * time.Second
	}

	r := &Router{
		intake:    make(chan Event, depth),
		stamp:     clock,
		floor:     cfg.MinimumSeverity,
		base:      cfg.CloneFields(),
		alert:     log.New(os.Stderr, "[logging] ", log.LstdFlags),
		warnEvery: warnEvery,
		done:      make(chan struct{}),
	}

	laneDepth := min(max(depth, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.lanes = append(r.lanes, newSinkLane(named.Name, named.Sink, laneDepth, r.alert))
	}

	r.wg.Add(1)
	go r.dispatch()
	for _, lane := range r.lanes {
		r.wg.Add(1)
		go func(l *sinkLane) {
			defer r.wg.Done()
			l.run()
		}(lane)
	}
	return r, nil
}

// Publish stages an event for delivery. Events without a type are ignored.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.intake <- event:
	default:
		r.dropped.Add(1)
		r.warnDropped(event)
	}
}

// warnDropped rate-limits the stderr warning so a saturated intake cannot
// flood the fallback logger.
func (r *Router) warnDropped(event Event) {
	now := time.Now().UnixNano()
	next := r.warnNext.Load()
	if next != 0 && now < next {
		return
	}
	if r.warnNext.CompareAndSwap(next, now+r.warnEvery.Nanoseconds()) {
		r.alert.Printf("intake full, dropping event type=%s step=%d", event.Type, event.Step)
	}
}

// dispatch is the single fan-out goroutine: it applies the severity floor,
// the timestamp and the ambient fields, then offers the event to every lane.
func (r *Router) dispatch() {
	defer func() {
		for _, lane := range r.lanes {
			close(lane.backlog)
		}
		r.wg.Done()
	}()
	for {
		select {
		case <-r.done:
			// Flush what reached the intake before Close.
			for {
				select {
				case event := <-r.intake:
					r.route(event)
				default:
					return
				}
			}
		case event := <-r.intake:
			r.route(event)
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.floor {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.stamp.Now()
	}
	if len(r.base) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.base))
		}
		for k, v := range r.base {
			if _, set := event.Extra[k]; !set {
				event.Extra[k] = v
			}
		}
	}
	r.published.Add(1)
	for _, lane := range r.lanes {
		lane.offer(event)
	}
}

// Close stops intake, flushes the rings and closes every sink. A second
// Close only waits on the context.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, lane := range r.lanes {
		if err := lane.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
	}
}

// Clock exposes the clock events are stamped with, so components sharing the
// router can share its notion of time.
func (r *Router) Clock() Clock {
	return r.stamp
}

// sinkLane serialises writes to one sink. A failed write puts the lane into
// exponential backoff while its backlog keeps absorbing events, dropping
// when full.
type sinkLane struct {
	name    string
	sink    Sink
	backlog chan Event
	alert   *log.Logger

	failures int
	retryAt  time.Time
}

func newSinkLane(name string, sink Sink, depth int, alert *log.Logger) *sinkLane {
	if depth <= 0 {
		depth = 32
	}
	return &sinkLane{
		name:    name,
		sink:    sink,
		backlog: make(chan Event, depth),
		alert:   alert,
	}
}

func (l *sinkLane) offer(event Event) {
	select {
	case l.backlog <- cloneForFields(event):
	default:
		l.alert.Printf("sink %s backlog full, dropping event type=%s", l.name, event.Type)
	}
}

func (l *sinkLane) run() {
	for event := range l.backlog {
		if wait := time.Until(l.retryAt); l.failures > 0 && wait > 0 {
			time.Sleep(wait)
		}
		if err := l.sink.Write(event); err != nil {
			l.failures++
			delay := time.Duration(1<<min(l.failures, 5)) * time.Second
			l.retryAt = time.Now().Add(delay)
			l.alert.Printf("sink %s write failed: %v (retry in %s)", l.name, err, delay)
			continue
		}
		l.failures = 0
		l.retryAt = time.Time{}
	}
}
