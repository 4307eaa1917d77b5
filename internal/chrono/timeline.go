package chrono

import (
	"ebb-and-flow/server/internal/eventline"
	"ebb-and-flow/server/internal/spatial"
)

// Timeline is one recorded history: a step cursor, the objects living on it
// and a global event line. Promotion walks the cursor one step at a time in
// either direction and promotes every object in registration order, which
// keeps replays deterministic regardless of map iteration or caller timing.
type Timeline struct {
	name        string
	currentStep int64
	// fraction carries sub-step time between delta promotions.
	fraction float64

	objects []*Object
	byName  map[string]*Object

	global *eventline.Line[*Timeline]

	// lastPositiveStep is the farthest step reached while running
	// forward; lastNegativeStep the farthest reached during a reversal
	// pass. The present frontier is the one matching the pass direction.
	lastPositiveStep int64
	lastNegativeStep int64
	reversedPass     bool
}

// NewTimeline returns an empty timeline starting at step zero.
func NewTimeline(name string) *Timeline {
	return &Timeline{
		name:   name,
		byName: make(map[string]*Object),
		global: eventline.NewLine[*Timeline](0),
	}
}

// Name returns the timeline's name.
func (t *Timeline) Name() string {
	return t.name
}

// CurrentStep returns the step the timeline last settled on.
func (t *Timeline) CurrentStep() int64 {
	return t.currentStep
}

// CurrentTime returns the settled step as seconds.
func (t *Timeline) CurrentTime() float64 {
	return float64(t.currentStep) * SecondsPerStep
}

// ExactTime returns time including the sub-step fraction carried between
// delta promotions.
func (t *Timeline) ExactTime() float64 {
	return (float64(t.currentStep) + t.fraction) * SecondsPerStep
}

// ReversedPass reports whether the timeline is in a reversal pass: new
// causality currently grows toward lower steps.
func (t *Timeline) ReversedPass() bool {
	return t.reversedPass
}

// IsPresent reports whether the cursor sits on the frontier new causality
// grows from.
func (t *Timeline) IsPresent() bool {
	if t.reversedPass {
		return t.currentStep == t.lastNegativeStep
	}
	return t.currentStep == t.lastPositiveStep
}

// Frontier returns the present frontier step for the current pass direction.
func (t *Timeline) Frontier() int64 {
	if t.reversedPass {
		return t.lastNegativeStep
	}
	return t.lastPositiveStep
}

// AddObject registers a new actor at the current step with its spawn pose.
// Registration order is promotion order. A name already registered is a
// configuration error.
func (t *Timeline) AddObject(name string, pose spatial.Pose, aiControlled bool) (*Object, error) {
	if _, exists := t.byName[name]; exists {
		return nil, ErrDuplicateObject
	}
	o := newObject(name, pose, aiControlled, t.currentStep)
	o.timeline = t
	if t.reversedPass {
		o.clock.SetReferencePoint(t.currentStep, true, 0)
	}
	t.objects = append(t.objects, o)
	t.byName[name] = o
	return o, nil
}

// RemoveObject unregisters an actor and its records.
func (t *Timeline) RemoveObject(name string) error {
	if _, exists := t.byName[name]; !exists {
		return ErrUnknownObject
	}
	delete(t.byName, name)
	for i, o := range t.objects {
		if o.name == name {
			t.objects = append(t.objects[:i], t.objects[i+1:]...)
			break
		}
	}
	return nil
}

// Object looks an actor up by name.
func (t *Timeline) Object(name string) (*Object, bool) {
	o, ok := t.byName[name]
	return o, ok
}

// Objects returns the actors in registration order. The slice is a copy;
// the objects are shared.
func (t *Timeline) Objects() []*Object {
	if len(t.objects) == 0 {
		return nil
	}
	out := make([]*Object, len(t.objects))
	copy(out, t.objects)
	return out
}

// AddCard subscribes an interval card on the timeline's own step axis.
func (t *Timeline) AddCard(card *eventline.Card[*Timeline]) error {
	return t.global.Add(card, t)
}

// GlobalLine exposes the timeline-scoped event line.
func (t *Timeline) GlobalLine() *eventline.Line[*Timeline] {
	return t.global
}

// Promote walks the cursor to the target step, one step at a time, promoting
// every object in registration order and then the global line at each step.
// Targets below zero clamp to zero: nothing is recorded before the origin.
func (t *Timeline) Promote(target int64) {
	if target < 0 {
		target = 0
	}
	for t.currentStep != target {
		next := t.currentStep + 1
		if target < t.currentStep {
			next = t.currentStep - 1
		}
		t.stepTo(next)
	}
}

func (t *Timeline) stepTo(step int64) {
	t.currentStep = step
	for _, o := range t.objects {
		o.Promote(step)
	}
	t.global.Promote(step, t)
	if t.reversedPass {
		if step < t.lastNegativeStep {
			t.lastNegativeStep = step
		}
	} else if step > t.lastPositiveStep {
		t.lastPositiveStep = step
	}
}

// PromoteDelta advances by a signed time delta in seconds, quantized to
// whole steps with the remainder carried to the next call.
func (t *Timeline) PromoteDelta(dt float64) {
	t.fraction += dt * StepsPerSecond
	whole := int64(t.fraction)
	if whole == 0 {
		return
	}
	t.fraction -= float64(whole)
	t.Promote(t.currentStep + whole)
}

// SetReversedPass flips which direction new causality grows in. Every
// object's clock is re-anchored at the current step so broken time stays
// continuous, and the frontier for the entered direction restarts here.
func (t *Timeline) SetReversedPass(reversed bool) {
	if t.reversedPass == reversed {
		return
	}
	t.reversedPass = reversed
	for _, o := range t.objects {
		o.reReference(t.currentStep, reversed)
	}
	if reversed {
		t.lastNegativeStep = t.currentStep
	} else {
		t.lastPositiveStep = t.currentStep
	}
}

// DropToCurrent makes the cursor the new end of history: every object drops
// its future records, the global line drops future cards and both frontiers
// collapse to the current step. Callers editing the past run this at the cut
// point; plain branch copies keep the recorded future instead.
func (t *Timeline) DropToCurrent() {
	for _, o := range t.objects {
		o.DropToCurrent()
	}
	t.global.DropFuture()
	t.lastPositiveStep = t.currentStep
	t.lastNegativeStep = t.currentStep
}

// Copy returns a deep clone under a new name. The clone shares no mutable
// state with the original; promoting one never moves the other.
func (t *Timeline) Copy(name string) *Timeline {
	clone := &Timeline{
		name:             name,
		currentStep:      t.currentStep,
		fraction:         t.fraction,
		byName:           make(map[string]*Object, len(t.objects)),
		global:           t.global.Clone(),
		lastPositiveStep: t.lastPositiveStep,
		lastNegativeStep: t.lastNegativeStep,
		reversedPass:     t.reversedPass,
	}
	clone.objects = make([]*Object, len(t.objects))
	for i, o := range t.objects {
		copied := o.clone(clone)
		clone.objects[i] = copied
		clone.byName[copied.name] = copied
	}
	return clone
}
