// Package eventline dispatches interval-scoped callbacks while a step counter
// walks forward or backward through time. Cards declare a closed step range
// and a set of optional hooks; the line guarantees that every range boundary
// crossing fires its enter and leave hooks exactly once, no matter how large
// a jump the caller requests, by promoting one step at a time.
//
// Hooks receive the context value passed to Promote or Add instead of
// capturing it, so a cloned line drives clones of the state it belongs to.
// A hook that closes over mutable state outside its card breaks that
// guarantee.
package eventline

import "errors"

// ErrCardRange reports a card whose finish step precedes its start step.
var ErrCardRange = errors.New("eventline: card finish precedes start")

// Card is an interval subscription on a line. Start and Finish are inclusive;
// a card with Start == Finish is active for exactly one step. All hooks are
// optional and nil hooks are skipped.
type Card[C any] struct {
	// Name identifies the card in logs and tests. It carries no semantics.
	Name string

	// Start and Finish bound the active range in steps, both inclusive.
	Start  int64
	Finish int64

	// OnEnter fires whenever the card becomes active, in either walk
	// direction, before the direction-tagged hook. It also fires when a
	// card is added with the current step already inside its range.
	OnEnter func(ctx C, step int64)
	// OnLeave fires whenever the card becomes inactive, in either walk
	// direction, before the direction-tagged hook.
	OnLeave func(ctx C, step int64)

	// OnForwardEnter fires when the walk steps up onto Start.
	OnForwardEnter func(ctx C, step int64)
	// OnForwardLeave fires when the walk steps up past Finish.
	OnForwardLeave func(ctx C, step int64)
	// OnBackwardEnter fires when the walk steps down onto Finish.
	OnBackwardEnter func(ctx C, step int64)
	// OnBackwardLeave fires when the walk steps down past Start.
	OnBackwardLeave func(ctx C, step int64)

	// OnUpdate fires for every promoted step on which the card is active,
	// after that step's enters and leaves have settled.
	OnUpdate func(ctx C, step int64)

	active bool
}

// Active reports whether the card currently covers the line's step.
func (c *Card[C]) Active() bool {
	if c == nil {
		return false
	}
	return c.active
}

// Line owns a set of cards and the step cursor they react to. The zero value
// is usable and starts at step zero.
type Line[C any] struct {
	cards   []*Card[C]
	current int64
}

// NewLine returns a line whose cursor starts at the given step.
func NewLine[C any](start int64) *Line[C] {
	return &Line[C]{current: start}
}

// Current returns the step the line last settled on.
func (l *Line[C]) Current() int64 {
	return l.current
}

// Len returns the number of cards on the line, active or not.
func (l *Line[C]) Len() int {
	return len(l.cards)
}

// ActiveCount returns how many cards cover the current step.
func (l *Line[C]) ActiveCount() int {
	count := 0
	for _, card := range l.cards {
		if card.active {
			count++
		}
	}
	return count
}

// Add inserts a card. A card whose range already covers the current step
// becomes active immediately and fires its generic OnEnter hook; the
// direction-tagged hooks stay silent because no walk crossed the boundary.
func (l *Line[C]) Add(card *Card[C], ctx C) error {
	if card == nil {
		return nil
	}
	if card.Finish < card.Start {
		return ErrCardRange
	}
	card.active = false
	l.cards = append(l.cards, card)
	if card.Start <= l.current && l.current <= card.Finish {
		card.active = true
		if card.OnEnter != nil {
			card.OnEnter(ctx, l.current)
		}
	}
	return nil
}

// Promote walks the cursor to target one step at a time, firing boundary
// hooks at every crossing and OnUpdate for each active card on each step
// reached. Promoting to the current step is a no-op.
func (l *Line[C]) Promote(target int64, ctx C) {
	for l.current < target {
		l.stepTo(l.current+1, ctx)
	}
	for l.current > target {
		l.stepTo(l.current-1, ctx)
	}
}

// stepTo moves the cursor by exactly one step. Leaves settle before enters so
// a card ending where another begins hands over cleanly.
func (l *Line[C]) stepTo(next int64, ctx C) {
	forward := next > l.current
	for _, card := range l.cards {
		if !card.active {
			continue
		}
		if next < card.Start || next > card.Finish {
			card.active = false
			if card.OnLeave != nil {
				card.OnLeave(ctx, next)
			}
			if forward {
				if card.OnForwardLeave != nil {
					card.OnForwardLeave(ctx, next)
				}
			} else if card.OnBackwardLeave != nil {
				card.OnBackwardLeave(ctx, next)
			}
		}
	}
	for _, card := range l.cards {
		if card.active {
			continue
		}
		if card.Start <= next && next <= card.Finish {
			card.active = true
			if card.OnEnter != nil {
				card.OnEnter(ctx, next)
			}
			if forward {
				if card.OnForwardEnter != nil {
					card.OnForwardEnter(ctx, next)
				}
			} else if card.OnBackwardEnter != nil {
				card.OnBackwardEnter(ctx, next)
			}
		}
	}
	l.current = next
	for _, card := range l.cards {
		if card.active && card.OnUpdate != nil {
			card.OnUpdate(ctx, next)
		}
	}
}

// DropFuture removes every card that starts strictly after the current step.
// Active cards always start at or before the current step, so none are
// removed and no hooks fire.
func (l *Line[C]) DropFuture() {
	kept := l.cards[:0]
	for _, card := range l.cards {
		if card.Start <= l.current {
			kept = append(kept, card)
		}
	}
	for i := len(kept); i < len(l.cards); i++ {
		l.cards[i] = nil
	}
	l.cards = kept
}

// Clone returns a structural copy: fresh card instances carrying the same
// ranges, hooks and active flags, and the same cursor. The clone shares no
// mutable state with the original.
func (l *Line[C]) Clone() *Line[C] {
	clone := &Line[C]{current: l.current}
	if len(l.cards) > 0 {
		clone.cards = make([]*Card[C], len(l.cards))
		for i, card := range l.cards {
			copied := *card
			clone.cards[i] = &copied
		}
	}
	return clone
}
