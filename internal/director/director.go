// Package director drives AI-flagged actors. It issues ordinary move
// commands through the same buffer entry points players use, so everything
// it does is recorded history: replays never consult the director, and its
// actors' buffers keep their recorded plans when new commands arrive.
package director

import (
	"hash/fnv"
	"math"
	"math/rand"

	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/spatial"
)

const (
	defaultWanderRadius = 12.0
	defaultPatrolSpeed  = chrono.WalkSpeed
	decisionMinSteps    = 150
	decisionMaxSteps    = 400
)

// DeterministicSeed hashes a root seed and a label into an RNG seed, so
// subsystems sharing one configured seed still draw independent streams.
func DeterministicSeed(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// Config tunes the patrol behavior.
type Config struct {
	Seed         string
	WanderRadius float64
	Speed        float64
}

func (c Config) normalized() Config {
	if c.WanderRadius <= 0 {
		c.WanderRadius = defaultWanderRadius
	}
	if c.Speed <= 0 {
		c.Speed = defaultPatrolSpeed
	}
	return c
}

type actorState struct {
	home         spatial.Vec3
	nextDecision int64
}

// Director wanders AI-controlled actors around their spawn points at seeded
// random intervals.
type Director struct {
	cfg    Config
	rng    *rand.Rand
	actors map[string]*actorState
}

// New builds a director with its own deterministic RNG stream.
func New(cfg Config) *Director {
	cfg = cfg.normalized()
	return &Director{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(DeterministicSeed(cfg.Seed, "director"))),
		actors: make(map[string]*actorState),
	}
}

// Decide runs one decision pass over the timeline's AI-controlled actors and
// returns how many commands it issued. Decisions happen only on the present
// frontier: while the timeline replays its past the director stays silent
// and the recorded commands speak instead. Actors are visited in
// registration order, which keeps the RNG stream stable.
func (d *Director) Decide(tl *chrono.Timeline) int {
	if tl == nil || !tl.IsPresent() {
		return 0
	}
	step := tl.CurrentStep()
	issued := 0
	for _, o := range tl.Objects() {
		if !o.AIControlled() {
			continue
		}
		st := d.actors[o.Name()]
		if st == nil {
			st = &actorState{home: o.LocalPose().Linear}
			d.actors[o.Name()] = st
		}
		if step < st.nextDecision {
			continue
		}
		if o.MoveTo(d.wanderTarget(st.home), d.cfg.Speed) {
			issued++
		}
		st.nextDecision = step + d.decisionInterval()
	}
	return issued
}

// Forget drops an actor's patrol state, for despawns.
func (d *Director) Forget(name string) {
	delete(d.actors, name)
}

func (d *Director) wanderTarget(home spatial.Vec3) spatial.Vec3 {
	angle := d.rng.Float64() * 2 * math.Pi
	dist := d.rng.Float64() * d.cfg.WanderRadius
	return spatial.Vec3{
		X: home.X + math.Cos(angle)*dist,
		Y: home.Y,
		Z: home.Z + math.Sin(angle)*dist,
	}
}

func (d *Director) decisionInterval() int64 {
	return decisionMinSteps + d.rng.Int63n(decisionMaxSteps-decisionMinSteps+1)
}
