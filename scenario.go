package server

import (
	"fmt"
	"math"
	"math/rand"

	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/director"
	"ebb-and-flow/server/internal/eventline"
	"ebb-and-flow/server/internal/spatial"
	"ebb-and-flow/server/logging"
)

const rootTimelineName = "prime"

// Scenario layout: drifters spawn on a ring around the origin, the sentry
// walks one lap of a square patrol, and the obelisk marks the center.
const (
	drifterRingRadius = 6.0
	drifterRingJitter = 4.0
	sentryPatrolHalf  = 8.0

	// The epoch card covers steps 3000 to 6000 on the global line. Each
	// crossing of either boundary, in either direction, fires the
	// cards_fired counter once.
	epochCardStart  = 3000
	epochCardFinish = 6000
)

// seedScenario populates a fresh timeline with the stock cast. Everything
// here is recorded history from step zero, so branches and rewinds replay the
// same spawn layout.
func seedScenario(tl *chrono.Timeline, cfg Config, metrics *logging.Metrics) {
	rng := rand.New(rand.NewSource(director.DeterministicSeed(cfg.Seed, "scenario")))

	center := spatial.Vec3{}
	for i := 0; i < cfg.ActorCount; i++ {
		angle := float64(i) / float64(cfg.ActorCount) * 2 * math.Pi
		radius := drifterRingRadius + rng.Float64()*drifterRingJitter
		position := spatial.Vec3{X: math.Cos(angle) * radius, Z: math.Sin(angle) * radius}
		pose := spatial.Pose{
			Linear:   position,
			Rotation: spatial.FacingRotation(center.Sub(position)),
		}
		name := fmt.Sprintf("drifter-%d", i+1)
		if _, err := tl.AddObject(name, pose, true); err != nil {
			continue
		}
	}

	seedSentry(tl)

	obeliskPose := spatial.Pose{Linear: center, Rotation: spatial.IdentityQuat()}
	if _, err := tl.AddObject("obelisk", obeliskPose, false); err != nil {
		return
	}

	seedEpochCard(tl, metrics)
}

// seedSentry places a patrol actor walking one lap of a square. The lap is a
// waypoint chain, so it replays through rewinds without consulting anyone; at
// the final corner the sentry settles into idle.
func seedSentry(tl *chrono.Timeline) {
	corners := []spatial.Vec3{
		{X: sentryPatrolHalf, Z: sentryPatrolHalf},
		{X: -sentryPatrolHalf, Z: sentryPatrolHalf},
		{X: -sentryPatrolHalf, Z: -sentryPatrolHalf},
		{X: sentryPatrolHalf, Z: -sentryPatrolHalf},
		{X: sentryPatrolHalf, Z: sentryPatrolHalf},
	}
	waypoints := make([]chrono.Waypoint, 0, len(corners))
	step := int64(0)
	for i, corner := range corners {
		var facing spatial.Quat
		if i+1 < len(corners) {
			facing = spatial.FacingRotation(corners[i+1].Sub(corner))
		} else {
			facing = spatial.FacingRotation(corner.Sub(corners[i-1]))
		}
		waypoints = append(waypoints, chrono.Waypoint{
			Step: step,
			Pose: spatial.Pose{Linear: corner, Rotation: facing},
		})
		if i+1 < len(corners) {
			legSeconds := corner.DistanceTo(corners[i+1]) / chrono.WalkSpeed
			step += int64(math.Ceil(legSeconds * chrono.StepsPerSecond))
		}
	}

	obj, err := tl.AddObject("sentry", waypoints[0].Pose, false)
	if err != nil {
		return
	}
	chain, err := chrono.NewWaypointChain(waypoints)
	if err != nil {
		return
	}
	obj.AddAnimatronic(chain)
}

// seedEpochCard subscribes a global-line card whose boundary crossings bump
// the cards_fired counter. The hooks touch only the process-wide counter set,
// never branch state, so timeline copies can share them safely.
func seedEpochCard(tl *chrono.Timeline, metrics *logging.Metrics) {
	if metrics == nil {
		return
	}
	card := &eventline.Card[*chrono.Timeline]{
		Name:   "epoch",
		Start:  epochCardStart,
		Finish: epochCardFinish,
		OnEnter: func(*chrono.Timeline, int64) {
			metrics.TelemetryAdd(logging.MetricCardsFired, 1)
		},
		OnLeave: func(*chrono.Timeline, int64) {
			metrics.TelemetryAdd(logging.MetricCardsFired, 1)
		},
	}
	if err := tl.AddCard(card); err != nil {
		return
	}
}
