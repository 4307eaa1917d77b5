package chrono

import (
	"sort"

	"ebb-and-flow/server/internal/eventline"
	"ebb-and-flow/server/internal/spatial"
)

// Object is one actor recorded on a timeline. The timeline owns it; the
// object keeps a non-owning handle back to the timeline it lives on.
//
// All of an object's state is derived from its records: the local clock maps
// timeline steps to local steps, the animatronic list holds every pose curve
// ever emitted, and the command buffer holds every decision. Promoting to any
// step, in any direction, re-derives the same pose from those records.
type Object struct {
	name     string
	timeline *Timeline

	clock     *LocalClock
	localStep int64
	localPose spatial.Pose

	// animatronics are ordered by start step; the current curve is the
	// last one starting at or before the local step. Curves inserted at
	// an occupied start step go after their peers, so the newest wins.
	animatronics []*Animatronic
	currentAnim  int

	buffer *CommandBuffer
	cards  *eventline.Line[*Object]
}

func newObject(name string, pose spatial.Pose, aiControlled bool, timelineStep int64) *Object {
	o := &Object{
		name:        name,
		clock:       NewLocalClock(timelineStep),
		localPose:   pose,
		currentAnim: 0,
	}
	o.buffer = NewCommandBuffer(o, aiControlled)
	o.cards = eventline.NewLine[*Object](0)
	o.animatronics = []*Animatronic{NewStatic(pose, 0)}
	return o
}

// Name returns the object's registration name.
func (o *Object) Name() string {
	return o.name
}

// Timeline returns the timeline the object is registered on.
func (o *Object) Timeline() *Timeline {
	return o.timeline
}

// LocalPose returns the pose derived at the last promotion.
func (o *Object) LocalPose() spatial.Pose {
	return o.localPose
}

// LocalStep returns the local step derived at the last promotion.
func (o *Object) LocalStep() int64 {
	return o.localStep
}

// LocalSeconds returns unrounded local time in seconds.
func (o *Object) LocalSeconds() float64 {
	return o.clock.LocalSeconds()
}

// BrokenStep returns the broken step the object's clock last settled on.
// Time modifiers are anchored on this axis.
func (o *Object) BrokenStep() int64 {
	return o.clock.Broken()
}

// Multiplier returns the rate local time currently advances at per broken
// step.
func (o *Object) Multiplier() float64 {
	return o.clock.Multiplier()
}

// AIControlled reports whether the object's command buffer keeps recorded
// future commands when new ones arrive.
func (o *Object) AIControlled() bool {
	return o.buffer.ControlledByAI()
}

// Buffer exposes the object's command buffer.
func (o *Object) Buffer() *CommandBuffer {
	return o.buffer
}

// AddModifier bends the object's local time with a freeze or haste modifier.
func (o *Object) AddModifier(m TimeModifier) error {
	err := o.clock.AddModifier(m)
	if err == nil {
		o.localStep = o.clock.LocalStep()
	}
	return err
}

// AddAnimatronic records a pose curve, keeping the list ordered by start
// step with later insertions after earlier ones at the same step.
func (o *Object) AddAnimatronic(a *Animatronic) {
	if a == nil {
		return
	}
	idx := sort.Search(len(o.animatronics), func(i int) bool {
		return o.animatronics[i].Start > a.Start
	})
	o.animatronics = append(o.animatronics, nil)
	copy(o.animatronics[idx+1:], o.animatronics[idx:])
	o.animatronics[idx] = a
}

// Animatronics returns the recorded curves in start order. The slice is a
// copy; the curves are shared.
func (o *Object) Animatronics() []*Animatronic {
	if len(o.animatronics) == 0 {
		return nil
	}
	out := make([]*Animatronic, len(o.animatronics))
	copy(out, o.animatronics)
	return out
}

// SetLocalPose records a static curve holding the given pose from the current
// local step on. The pose is recorded rather than assigned, so rewinding past
// this step still replays the motion that preceded it.
func (o *Object) SetLocalPose(pose spatial.Pose) {
	o.AddAnimatronic(NewStatic(pose, o.localStep))
	o.derivePose()
}

// AddCard subscribes an interval card on the object's local step axis.
func (o *Object) AddCard(card *eventline.Card[*Object]) error {
	return o.cards.Add(card, o)
}

// Cards exposes the object's event line.
func (o *Object) Cards() *eventline.Line[*Object] {
	return o.cards
}

// MoveTo issues a move command toward a target at the given speed, from the
// object's current local step. It reports whether the command was accepted.
func (o *Object) MoveTo(target spatial.Vec3, speed float64) bool {
	return o.IssueCommand(NewMoveCommand(target, speed))
}

// IssueCommand records a command at the current local step through the
// buffer's interruption and branch-drop rules.
func (o *Object) IssueCommand(cmd *Command) bool {
	return o.buffer.AddCommand(cmd, o.localStep)
}

// ImportCommand records a command carrying its own start step, without
// finalizing the current one or dropping recorded futures.
func (o *Object) ImportCommand(cmd *Command) {
	o.buffer.ImportCommand(cmd)
}

// Promote advances the object to a timeline step.
//
// The pose is derived twice: once before commands run, so a command emitted
// this step starts from the pose the object actually shows, and once after,
// so a curve emitted this step takes effect immediately. That is what keeps
// motion continuous across interruptions.
func (o *Object) Promote(timelineStep int64) {
	o.clock.Promote(timelineStep)
	o.localStep = o.clock.LocalStep()
	o.derivePose()
	o.buffer.Promote(o.localStep)
	o.buffer.Execute(o.localStep)
	o.derivePose()
	o.cards.Promote(o.localStep, o)
}

// derivePose selects the current curve for the local step and evaluates it.
// Before the first curve's start the pose clamps to that curve's entry pose.
func (o *Object) derivePose() {
	if len(o.animatronics) == 0 {
		return
	}
	idx := sort.Search(len(o.animatronics), func(i int) bool {
		return o.animatronics[i].Start > o.localStep
	}) - 1
	if idx < 0 {
		o.currentAnim = 0
		first := o.animatronics[0]
		o.localPose = first.Evaluate(first.Start)
		return
	}
	o.currentAnim = idx
	o.localPose = o.animatronics[idx].Evaluate(o.localStep)
}

// ensureIdle synthesizes an idle curve at the local step when the current
// curve has fully played out. The idle is recorded like any other curve, so
// rewinding and replaying reproduces it instead of synthesizing twins.
func (o *Object) ensureIdle(localStep int64) {
	if o.currentAnim < 0 || o.currentAnim >= len(o.animatronics) {
		return
	}
	cur := o.animatronics[o.currentAnim]
	if localStep < cur.Start || !cur.FinishedAt(localStep) {
		return
	}
	o.AddAnimatronic(NewStatic(o.localPose, localStep))
}

// reReference re-anchors the local clock at the given timeline step, keeping
// broken time continuous while flipping its direction.
func (o *Object) reReference(timelineStep int64, reversed bool) {
	o.clock.SetReferencePoint(timelineStep, reversed, o.clock.Broken())
}

// DropToCurrent discards everything recorded after the object's local step:
// future cards, curves starting strictly later, future commands and future
// time modifiers. Curves and modifiers already underway stay, because
// walking backward through them must keep replaying history.
func (o *Object) DropToCurrent() {
	o.cards.DropFuture()
	kept := o.animatronics[:0]
	for _, a := range o.animatronics {
		if a.Start <= o.localStep {
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(o.animatronics); i++ {
		o.animatronics[i] = nil
	}
	o.animatronics = kept
	o.buffer.DropFuture(o.localStep)
	o.clock.DropModifiersAfter(o.clock.Broken())
	o.derivePose()
}

// clone deep-copies the object onto a new timeline. Nothing mutable is
// shared with the original.
func (o *Object) clone(timeline *Timeline) *Object {
	copied := &Object{
		name:        o.name,
		timeline:    timeline,
		clock:       o.clock.Clone(),
		localStep:   o.localStep,
		localPose:   o.localPose,
		currentAnim: o.currentAnim,
		cards:       o.cards.Clone(),
	}
	copied.animatronics = make([]*Animatronic, len(o.animatronics))
	for i, a := range o.animatronics {
		copied.animatronics[i] = a.Clone()
	}
	copied.buffer = o.buffer.Clone(copied)
	return copied
}
