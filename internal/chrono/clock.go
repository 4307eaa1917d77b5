package chrono

import (
	"math"
	"sort"
)

// ModifierKind is the stable discriminant of a time modifier. It doubles as
// the key for anything that needs to identify modifier families, so the
// values never change meaning between releases.
type ModifierKind string

const (
	// ModifierFreeze runs the bearer's local time at a rate of -1: while
	// the world advances, the frozen object retraces its own history.
	ModifierFreeze ModifierKind = "freeze"
	// ModifierHaste runs the bearer's local time faster than the world's,
	// at the modifier's rate.
	ModifierHaste ModifierKind = "haste"
)

// TimeModifier bends an object's local time over a closed range of broken
// steps. While active it contributes (rate-1)·(broken-start) to the local
// offset, so local time flows at the modifier's rate; when it finishes, the
// accumulated contribution is banked so local time stays continuous.
type TimeModifier struct {
	Kind   ModifierKind
	Rate   float64
	Start  int64
	Finish int64
	active bool
}

// NewFreeze builds a freeze modifier over the given broken-step range.
func NewFreeze(start, finish int64) TimeModifier {
	return TimeModifier{Kind: ModifierFreeze, Rate: -1, Start: start, Finish: finish}
}

// NewHaste builds a haste modifier over the given broken-step range. The
// rate must exceed 1; AddModifier rejects anything else.
func NewHaste(start, finish int64, rate float64) TimeModifier {
	return TimeModifier{Kind: ModifierHaste, Rate: rate, Start: start, Finish: finish}
}

// Active reports whether the modifier covers the owning clock's broken step.
func (m TimeModifier) Active() bool {
	return m.active
}

// offsetAt is the modifier's live contribution to the local offset at the
// given broken step.
func (m TimeModifier) offsetAt(broken int64) float64 {
	return (m.Rate - 1) * float64(broken-m.Start)
}

// finishContribution is the offset the modifier leaves behind after its
// range has been traversed completely.
func (m TimeModifier) finishContribution() float64 {
	return (m.Rate - 1) * float64(m.Finish-m.Start)
}

// LocalClock maps timeline steps to an object's broken and local time.
//
// Broken time is the object's causal order: it advances one broken step per
// timeline step, runs backward through timeline steps when the clock is
// reversed, and never jumps across a reference-point change. Local time is
// broken time bent by modifiers; it may jump only by a finished modifier's
// declared contribution.
type LocalClock struct {
	timelineZero int64
	brokenZero   int64
	reversed     bool

	broken            int64
	modifiers         []TimeModifier
	finishedOffset    float64
	nonFinishedOffset float64
}

// NewLocalClock returns a clock anchored so that broken step zero coincides
// with the given timeline step.
func NewLocalClock(timelineStep int64) *LocalClock {
	return &LocalClock{timelineZero: timelineStep}
}

// BrokenAt converts a timeline step to the broken step the clock would settle
// on there. The conversion is pure; it does not move the clock.
func (c *LocalClock) BrokenAt(timelineStep int64) int64 {
	delta := timelineStep - c.timelineZero
	if c.reversed {
		delta = -delta
	}
	return c.brokenZero + delta
}

// TimelineFor converts a broken step back to the timeline step it maps to
// under the current reference point.
func (c *LocalClock) TimelineFor(broken int64) int64 {
	delta := broken - c.brokenZero
	if c.reversed {
		delta = -delta
	}
	return c.timelineZero + delta
}

// Broken returns the broken step the clock last settled on.
func (c *LocalClock) Broken() int64 {
	return c.broken
}

// Reversed reports whether broken time currently runs against timeline time.
func (c *LocalClock) Reversed() bool {
	return c.reversed
}

// LocalStep returns the local step: broken time plus all modifier offsets,
// rounded to the step lattice.
func (c *LocalClock) LocalStep() int64 {
	return int64(math.Round(c.localExact()))
}

// LocalSeconds returns local time in seconds, unrounded.
func (c *LocalClock) LocalSeconds() float64 {
	return c.localExact() * SecondsPerStep
}

func (c *LocalClock) localExact() float64 {
	return float64(c.broken) + c.nonFinishedOffset + c.finishedOffset
}

// Multiplier returns the product of the rates of all active modifiers, the
// rate local time advances at per broken step. It is 1 when no modifier is
// active.
func (c *LocalClock) Multiplier() float64 {
	product := 1.0
	for _, m := range c.modifiers {
		if m.active {
			product *= m.Rate
		}
	}
	return product
}

// Modifiers returns a copy of the modifier list, active flags included.
func (c *LocalClock) Modifiers() []TimeModifier {
	if len(c.modifiers) == 0 {
		return nil
	}
	out := make([]TimeModifier, len(c.modifiers))
	copy(out, c.modifiers)
	return out
}

// AddModifier validates and inserts a modifier, keeping the list ordered by
// start step. A modifier whose range already covers the current broken step
// becomes active immediately.
func (c *LocalClock) AddModifier(m TimeModifier) error {
	if m.Finish < m.Start {
		return ErrModifierRange
	}
	switch m.Kind {
	case ModifierFreeze:
		m.Rate = -1
	case ModifierHaste:
		if m.Rate <= 1 {
			return ErrModifierRate
		}
	}
	m.active = m.Start <= c.broken && c.broken <= m.Finish
	idx := sort.Search(len(c.modifiers), func(i int) bool {
		return c.modifiers[i].Start > m.Start
	})
	c.modifiers = append(c.modifiers, TimeModifier{})
	copy(c.modifiers[idx+1:], c.modifiers[idx:])
	c.modifiers[idx] = m
	c.recomputeNonFinished()
	return nil
}

// Promote walks broken time to the value the given timeline step maps to,
// one broken step at a time so every modifier boundary crossing is observed.
func (c *LocalClock) Promote(timelineStep int64) {
	target := c.BrokenAt(timelineStep)
	for c.broken < target {
		c.stepBroken(c.broken + 1)
	}
	for c.broken > target {
		c.stepBroken(c.broken - 1)
	}
	c.recomputeNonFinished()
}

// stepBroken moves broken time by exactly one step and settles modifier
// activity at the new step. Crossing a finish upward banks the modifier's
// contribution; re-entering it downward reclaims the identical amount, so
// replays restore bit-identical offsets.
func (c *LocalClock) stepBroken(next int64) {
	up := next > c.broken
	for i := range c.modifiers {
		m := &c.modifiers[i]
		if m.active {
			if next < m.Start || next > m.Finish {
				m.active = false
				if up {
					c.finishedOffset += m.finishContribution()
				}
			}
			continue
		}
		if m.Start <= next && next <= m.Finish {
			m.active = true
			if !up {
				c.finishedOffset -= m.finishContribution()
			}
		}
	}
	c.broken = next
}

func (c *LocalClock) recomputeNonFinished() {
	sum := 0.0
	for _, m := range c.modifiers {
		if m.active {
			sum += m.offsetAt(c.broken)
		}
	}
	c.nonFinishedOffset = sum
}

// SetReferencePoint re-anchors the timeline-to-broken mapping: at timeline
// step zero the clock reads brokenAtZero, running reversed or not as given.
// Re-anchoring at the clock's present position keeps broken time continuous;
// the caller owns that alignment.
func (c *LocalClock) SetReferencePoint(zero int64, reversed bool, brokenAtZero int64) {
	c.timelineZero = zero
	c.brokenZero = brokenAtZero
	c.reversed = reversed
}

// DropModifiersAfter removes modifiers that start strictly after the given
// broken step. Part of branch trimming; no offsets change because such
// modifiers cannot have been active or banked.
func (c *LocalClock) DropModifiersAfter(broken int64) {
	kept := c.modifiers[:0]
	for _, m := range c.modifiers {
		if m.Start <= broken {
			kept = append(kept, m)
		}
	}
	c.modifiers = kept
}

// Clone returns a deep copy sharing no state with the original.
func (c *LocalClock) Clone() *LocalClock {
	clone := *c
	if len(c.modifiers) > 0 {
		clone.modifiers = make([]TimeModifier, len(c.modifiers))
		copy(clone.modifiers, c.modifiers)
	}
	return &clone
}
