// Package ability gates and applies the actor abilities that bend time or
// issue commands: blink, haste and freeze. Abilities act on objects only
// through their public entry points, so everything an ability does is
// recorded and replays like any other history.
package ability

import (
	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/spatial"
)

// Kind is the stable discriminant of an ability. Cooldown bookkeeping and
// logs identify abilities by kind, never by runtime type.
type Kind string

const (
	KindBlink  Kind = "blink"
	KindHaste  Kind = "haste"
	KindFreeze Kind = "freeze"
)

// Default cooldowns in frontier steps.
const (
	DefaultBlinkCooldown  = 200
	DefaultHasteCooldown  = 600
	DefaultFreezeCooldown = 900
)

// Default windows and rates for the time-bending abilities, in broken steps.
const (
	DefaultHasteDuration  = 300
	DefaultHasteRate      = 2.0
	DefaultFreezeDuration = 150
)

// Definition fixes an ability's gating numbers.
type Definition struct {
	Kind          Kind
	CooldownSteps int64
}

// Defaults returns the stock ability set.
func Defaults() []Definition {
	return []Definition{
		{Kind: KindBlink, CooldownSteps: DefaultBlinkCooldown},
		{Kind: KindHaste, CooldownSteps: DefaultHasteCooldown},
		{Kind: KindFreeze, CooldownSteps: DefaultFreezeCooldown},
	}
}

// Registry tracks per-actor per-kind cooldowns. Cooldowns are measured on
// the present frontier of the timeline, not on any clock that rewinding can
// move: scrubbing into the past and back never refunds a cooldown.
type Registry struct {
	defs     map[Kind]Definition
	lastUsed map[string]map[Kind]int64
}

// NewRegistry builds a registry over the given ability set.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		defs:     make(map[Kind]Definition, len(defs)),
		lastUsed: make(map[string]map[Kind]int64),
	}
	for _, def := range defs {
		r.defs[def.Kind] = def
	}
	return r
}

// Ready reports whether the actor may use the ability at the given frontier
// step, and records the use when it may. Unknown kinds are refused.
func (r *Registry) Ready(actor string, kind Kind, frontierStep int64) bool {
	def, ok := r.defs[kind]
	if !ok {
		return false
	}
	used := r.lastUsed[actor]
	if used == nil {
		used = make(map[Kind]int64)
		r.lastUsed[actor] = used
	}
	if last, ok := used[kind]; ok && def.CooldownSteps > 0 {
		if frontierStep-last < def.CooldownSteps {
			return false
		}
	}
	used[kind] = frontierStep
	return true
}

// Remaining returns how many frontier steps of cooldown are left for the
// actor's ability, zero when it is ready.
func (r *Registry) Remaining(actor string, kind Kind, frontierStep int64) int64 {
	def, ok := r.defs[kind]
	if !ok {
		return 0
	}
	last, ok := r.lastUsed[actor][kind]
	if !ok {
		return 0
	}
	left := def.CooldownSteps - (frontierStep - last)
	if left < 0 {
		return 0
	}
	return left
}

// Forget drops an actor's cooldown records, for despawns.
func (r *Registry) Forget(actor string) {
	delete(r.lastUsed, actor)
}

// Blink teleports its owner a short distance with a visual lapse.
type Blink struct {
	Lapse float64
}

// UseOnEnvironment issues the blink command toward a world position. A
// missing owner or a refused command reports failure.
func (b Blink) UseOnEnvironment(owner *chrono.Object, target spatial.Vec3) bool {
	if owner == nil {
		return false
	}
	return owner.IssueCommand(chrono.NewBlinkCommand(target, b.Lapse))
}

// Haste speeds up the caster's local clock for a window of broken steps.
type Haste struct {
	Rate     float64
	Duration int64
}

// UseOnSelf anchors the haste window at the caster's current broken step.
func (h Haste) UseOnSelf(caster *chrono.Object) bool {
	if caster == nil {
		return false
	}
	start := caster.BrokenStep()
	return caster.AddModifier(chrono.NewHaste(start, start+h.Duration, h.Rate)) == nil
}

// Freeze runs a target's local clock backward for a window of broken steps.
type Freeze struct {
	Duration int64
}

// UseOnTarget anchors the freeze window at the target's current broken step.
func (f Freeze) UseOnTarget(target *chrono.Object) bool {
	if target == nil {
		return false
	}
	start := target.BrokenStep()
	return target.AddModifier(chrono.NewFreeze(start, start+f.Duration)) == nil
}
