package journal

import "math"

// One lost actor per ten thousand staged patches is tolerated before the
// policy asks for a keyframe resync.
const lossBudgetPerTenThousand = 1

// reasonLimit caps how many individual losses a signal carries.
const reasonLimit = 8

// ResyncReason names one dropped patch and the actor it was meant for.
type ResyncReason struct {
	Kind    string
	ActorID string
}

// ResyncSignal summarises the loss pattern that exhausted the budget.
type ResyncSignal struct {
	LostActors   uint64
	TotalPatches uint64
	Reasons      []ResyncReason
}

// Policy watches the ratio of lost actors to staged patches. Subscribers
// applying a patch stream that references actors they never saw spawn have
// drifted; once losses exhaust the budget the policy arms a single pending
// hint for the broadcast layer to force a keyframe.
type Policy struct {
	seen    uint64
	lost    uint64
	reasons []ResyncReason
	armed   bool
}

func NewPolicy() *Policy {
	return &Policy{}
}

// NotePatch counts one staged or attempted patch. Counters halve on overflow
// so the ratio survives arbitrarily long runs.
func (p *Policy) NotePatch() {
	if p == nil {
		return
	}
	if p.seen == math.MaxUint64 {
		p.seen >>= 1
		p.lost >>= 1
	}
	p.seen++
}

// NoteLostActor counts one dropped patch and records why, up to the reason
// cap. Exhausting the loss budget arms the pending hint.
func (p *Policy) NoteLostActor(kind, actorID string) {
	if p == nil {
		return
	}
	p.lost++
	if len(p.reasons) < reasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Kind: kind, ActorID: actorID})
	}
	if p.armed {
		return
	}
	if p.lost*10_000 >= max(p.seen, 1)*lossBudgetPerTenThousand {
		p.armed = true
	}
}

// Consume returns the armed hint, if any, and opens a fresh accounting
// window. The returned reasons slice is relinquished, not copied.
func (p *Policy) Consume() (ResyncSignal, bool) {
	if p == nil || !p.armed {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		LostActors:   p.lost,
		TotalPatches: p.seen,
		Reasons:      p.reasons,
	}
	p.armed = false
	p.seen = 0
	p.lost = 0
	p.reasons = nil
	return signal, true
}
