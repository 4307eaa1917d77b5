package chrono

import (
	"math"
	"sort"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/spatial"
)

// Walking-speed classes move at fixed canonical speeds; the speed argument
// of a move request only selects the class. Requests above the threshold
// run, the rest walk.
const (
	WalkSpeed     = 2.0
	RunSpeed      = 10.0
	gaitThreshold = 3.0
)

// rotationStepsPerTurn is how many steps a full turn takes: actors rotate at
// 360 degrees per second.
const rotationStepsPerTurn = StepsPerSecond

// DefaultBlinkLapse is the visual lapse of a blink in seconds when the
// caller does not pick one.
const DefaultBlinkLapse = 0.1

// Gait selects the locomotion clip family for a moving animatronic.
type Gait string

const (
	GaitWalk Gait = "walk"
	GaitRun  Gait = "run"
)

// GaitForSpeed infers the gait from a requested speed in units per second.
func GaitForSpeed(speed float64) Gait {
	if speed > gaitThreshold {
		return GaitRun
	}
	return GaitWalk
}

// Speed is the canonical travel speed of the gait in units per second.
func (g Gait) Speed() float64 {
	if g == GaitRun {
		return RunSpeed
	}
	return WalkSpeed
}

// AnimatronicKind discriminates the closed set of pose curve variants.
type AnimatronicKind string

const (
	AnimatronicStatic   AnimatronicKind = "static"
	AnimatronicLinear   AnimatronicKind = "linear_move"
	AnimatronicCubic    AnimatronicKind = "cubic_move"
	AnimatronicWaypoint AnimatronicKind = "waypoint"
	AnimatronicMoving   AnimatronicKind = "moving"
	AnimatronicBlink    AnimatronicKind = "blink"
)

// Waypoint is one keyed pose on a waypoint animatronic.
type Waypoint struct {
	Step int64
	Pose spatial.Pose
}

// Animatronic is a pure pose curve over local steps. Evaluate never mutates
// the curve, so instances recorded in the past stay replayable after any
// number of rewinds. Start and Finish are inclusive local steps; evaluation
// outside the range clamps to the endpoints.
type Animatronic struct {
	Kind   AnimatronicKind
	Start  int64
	Finish int64

	From spatial.Pose
	To   spatial.Pose

	// rotateSteps bounds the slerp window for linear and moving curves:
	// rotation completes within it, then holds, while position keeps
	// interpolating over the full span.
	rotateSteps int64

	Waypoints []Waypoint

	Gait Gait
	// Speed is the linear speed of a moving curve in units per second.
	Speed float64

	// InitialAnimationTime offsets clip playback at Start, in seconds.
	InitialAnimationTime float64
}

// NewStatic returns an unbounded curve that holds one pose from the given
// local step on.
func NewStatic(pose spatial.Pose, start int64) *Animatronic {
	return &Animatronic{
		Kind:   AnimatronicStatic,
		Start:  start,
		Finish: math.MaxInt64,
		From:   pose,
		To:     pose,
	}
}

// NewLinearMove returns a curve that translates linearly between two poses
// over [start, finish], turning toward the target orientation inside the
// initial rotation window.
func NewLinearMove(from, to spatial.Pose, start, finish int64) *Animatronic {
	if finish < start {
		finish = start
	}
	return &Animatronic{
		Kind:        AnimatronicLinear,
		Start:       start,
		Finish:      finish,
		From:        from,
		To:          to,
		rotateSteps: rotationWindow(from.Rotation, to.Rotation),
	}
}

// NewCubicMove returns a curve that eases between two poses with a
// smooth-step profile over [start, finish].
func NewCubicMove(from, to spatial.Pose, start, finish int64) *Animatronic {
	if finish < start {
		finish = start
	}
	return &Animatronic{
		Kind:   AnimatronicCubic,
		Start:  start,
		Finish: finish,
		From:   from,
		To:     to,
	}
}

// NewWaypointChain returns a curve interpolating through keyed poses. The
// waypoints are sorted by step; an empty chain is a configuration error.
func NewWaypointChain(waypoints []Waypoint) (*Animatronic, error) {
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	sorted := make([]Waypoint, len(waypoints))
	copy(sorted, waypoints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Step < sorted[j].Step
	})
	return &Animatronic{
		Kind:      AnimatronicWaypoint,
		Start:     sorted[0].Step,
		Finish:    sorted[len(sorted)-1].Step,
		From:      sorted[0].Pose,
		To:        sorted[len(sorted)-1].Pose,
		Waypoints: sorted,
	}, nil
}

// NewMoving returns a locomotion curve from a pose toward a target position
// at the gait's canonical speed. The finish step follows from distance and
// speed; the actor turns to face its direction of travel inside the rotation
// window.
func NewMoving(from spatial.Pose, target spatial.Vec3, start int64, gait Gait) *Animatronic {
	speed := gait.Speed()
	distance := from.Linear.DistanceTo(target)
	steps := int64(math.Ceil(distance / speed * StepsPerSecond))
	to := spatial.Pose{Linear: target, Rotation: from.Rotation}
	if dir := target.Sub(from.Linear); dir.Length() > 1e-9 {
		to.Rotation = spatial.FacingRotation(dir)
	}
	return &Animatronic{
		Kind:        AnimatronicMoving,
		Start:       start,
		Finish:      start + steps,
		From:        from,
		To:          to,
		rotateSteps: rotationWindow(from.Rotation, to.Rotation),
		Gait:        gait,
		Speed:       speed,
	}
}

// NewBlink returns the short teleport curve: the pose slides toward the
// target for the visual lapse, then holds there.
func NewBlink(from spatial.Pose, target spatial.Vec3, start int64, lapse float64) *Animatronic {
	if lapse <= 0 {
		lapse = DefaultBlinkLapse
	}
	steps := int64(math.Ceil(lapse * StepsPerSecond))
	return &Animatronic{
		Kind:   AnimatronicBlink,
		Start:  start,
		Finish: start + steps,
		From:   from,
		To:     spatial.Pose{Linear: target, Rotation: from.Rotation},
	}
}

// rotationWindow is the number of steps the turn between two orientations
// takes at the fixed angular speed.
func rotationWindow(from, to spatial.Quat) int64 {
	angle := from.AngleTo(to)
	return int64(math.Ceil(angle / (2 * math.Pi) * rotationStepsPerTurn))
}

// span returns the curve length in steps, at least 1 for interpolation.
func (a *Animatronic) span() float64 {
	if a.Finish <= a.Start {
		return 1
	}
	return float64(a.Finish - a.Start)
}

// progress clamps step to the curve range and maps it to [0, 1].
func (a *Animatronic) progress(step int64) float64 {
	if step <= a.Start {
		return 0
	}
	if step >= a.Finish {
		return 1
	}
	return float64(step-a.Start) / a.span()
}

// rotationProgress maps step to [0, 1] inside the rotation window.
func (a *Animatronic) rotationProgress(step int64) float64 {
	if a.rotateSteps <= 0 || step >= a.Start+a.rotateSteps {
		return 1
	}
	if step <= a.Start {
		return 0
	}
	return float64(step-a.Start) / float64(a.rotateSteps)
}

// smoothStep is the cubic ease used by editor-authored moves.
func smoothStep(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u/2
}

// Evaluate returns the pose at a local step. It is pure: the same step
// always yields the same pose.
func (a *Animatronic) Evaluate(step int64) spatial.Pose {
	switch a.Kind {
	case AnimatronicStatic:
		return a.From
	case AnimatronicLinear, AnimatronicMoving:
		return spatial.Pose{
			Linear:   spatial.LerpVec3(a.From.Linear, a.To.Linear, a.progress(step)),
			Rotation: spatial.Slerp(a.From.Rotation, a.To.Rotation, a.rotationProgress(step)),
		}
	case AnimatronicCubic:
		return spatial.LerpPose(a.From, a.To, smoothStep(a.progress(step)))
	case AnimatronicWaypoint:
		return a.evaluateWaypoints(step)
	case AnimatronicBlink:
		return spatial.Pose{
			Linear:   spatial.LerpVec3(a.From.Linear, a.To.Linear, a.progress(step)),
			Rotation: a.From.Rotation,
		}
	default:
		return a.From
	}
}

func (a *Animatronic) evaluateWaypoints(step int64) spatial.Pose {
	points := a.Waypoints
	if len(points) == 1 || step <= points[0].Step {
		return points[0].Pose
	}
	last := points[len(points)-1]
	if step >= last.Step {
		return last.Pose
	}
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Step > step
	})
	before, after := points[idx-1], points[idx]
	span := after.Step - before.Step
	if span <= 0 {
		return after.Pose
	}
	t := float64(step-before.Step) / float64(span)
	return spatial.LerpPose(before.Pose, after.Pose, t)
}

// FinishedAt reports whether the curve has run its whole range at the given
// local step.
func (a *Animatronic) FinishedAt(step int64) bool {
	return step >= a.Finish
}

// AnimationType returns the clip family a renderer should play for this
// curve.
func (a *Animatronic) AnimationType() feed.AnimationType {
	switch a.Kind {
	case AnimatronicStatic:
		return feed.AnimationIdle
	case AnimatronicMoving:
		if a.Gait == GaitRun {
			return feed.AnimationRun
		}
		return feed.AnimationWalk
	case AnimatronicBlink:
		return feed.AnimationBlink
	default:
		return feed.AnimationGlide
	}
}

// Loop reports whether the clip repeats while the curve is current.
func (a *Animatronic) Loop() bool {
	return a.Kind == AnimatronicStatic
}

// SpeedBooster scales clip playback. Locomotion clips are authored at the
// gait's canonical speed and play at unit rate; a blink stretched past its
// default lapse slows its clip to keep the slide and the clip in step.
func (a *Animatronic) SpeedBooster() float64 {
	if a.Kind == AnimatronicBlink {
		lapse := float64(a.Finish-a.Start) * SecondsPerStep
		if lapse > 0 {
			return DefaultBlinkLapse / lapse
		}
	}
	return 1
}

// StartSeconds is the curve's start in local seconds.
func (a *Animatronic) StartSeconds() float64 {
	return float64(a.Start) * SecondsPerStep
}

// FinishSeconds is the curve's finish in local seconds. Unbounded curves
// report +Inf.
func (a *Animatronic) FinishSeconds() float64 {
	if a.Finish == math.MaxInt64 {
		return math.Inf(1)
	}
	return float64(a.Finish) * SecondsPerStep
}

// Clone returns a deep copy of the curve.
func (a *Animatronic) Clone() *Animatronic {
	if a == nil {
		return nil
	}
	clone := *a
	if len(a.Waypoints) > 0 {
		clone.Waypoints = make([]Waypoint, len(a.Waypoints))
		copy(clone.Waypoints, a.Waypoints)
	}
	return &clone
}
