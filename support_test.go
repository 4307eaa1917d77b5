package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ebb-and-flow/server/logging"
)

// eventRecorder captures published events so tests can assert on them.
type eventRecorder struct {
	mu     sync.Mutex
	events []logging.Event
}

func (r *eventRecorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(want logging.EventType) []logging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logging.Event
	for _, event := range r.events {
		if event.Type == want {
			out = append(out, event)
		}
	}
	return out
}

// stubClock is a manually stepped clock shared with the hub through the
// publisher's Clock method.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// clockedPublisher pairs an event recorder with a stub clock, the same shape
// the logging router presents to the hub.
type clockedPublisher struct {
	*eventRecorder
	clock *stubClock
}

func (p clockedPublisher) Clock() logging.Clock {
	return p.clock
}

// stubConn is an in-memory subscriber transport.
type stubConn struct {
	mu        sync.Mutex
	frames    [][]byte
	deadlines []time.Time
	closed    bool
	failWrite bool
}

func (c *stubConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("write failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *stubConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *stubConn) frame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func (c *stubConn) lastDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deadlines) == 0 {
		return time.Time{}
	}
	return c.deadlines[len(c.deadlines)-1]
}

func (c *stubConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitFor polls until cond holds or a second passes. The writer goroutines
// deliver asynchronously, so assertions on delivered frames go through here.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testConfig is a small deterministic world: two drifters, the sentry and the
// obelisk, with the director off so nothing moves unless a test asks it to.
func testConfig() Config {
	return Config{
		Seed:             "harness",
		ActorCount:       2,
		KeyframeCapacity: 4,
		KeyframeMaxAge:   time.Minute,
	}.Normalized()
}

func newTestHub(t *testing.T, cfg Config) (*Hub, *stubClock, *eventRecorder) {
	t.Helper()
	recorder := &eventRecorder{}
	clock := newStubClock()
	hub := NewHub(cfg, clockedPublisher{eventRecorder: recorder, clock: clock}, &logging.Metrics{}, nil)
	return hub, clock, recorder
}
