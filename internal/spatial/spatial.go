// Package spatial provides the value types the simulation measures the world
// with: three-component vectors, unit quaternions and rigid poses. Everything
// is plain float64 arithmetic with no hidden state, so evaluating the same
// inputs always yields bit-identical outputs regardless of call order.
package spatial

import "math"

// Vec3 is a point or direction in world space. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of v and o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns the component-wise difference of v and o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v with every component multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Length returns the Euclidean magnitude of v.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// DistanceTo returns the Euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Length()
}

// Normalized returns v scaled to unit length. The zero vector is returned
// unchanged rather than producing NaNs.
func (v Vec3) Normalized() Vec3 {
	length := v.Length()
	if length == 0 {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// LerpVec3 linearly interpolates between a and b. t is not clamped; callers
// own their parameter ranges.
func LerpVec3(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Quat is a rotation stored as a unit quaternion.
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuat returns the rotation that leaves vectors unchanged.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// Mul composes two rotations: the result applies r first, then q.
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Dot returns the four-component dot product of q and r.
func (q Quat) Dot(r Quat) float64 {
	return q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
}

// Negated returns the antipodal quaternion, which encodes the same rotation.
func (q Quat) Negated() Quat {
	return Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Normalized returns q scaled to unit length. A degenerate zero quaternion
// normalizes to the identity.
func (q Quat) Normalized() Quat {
	length := math.Sqrt(q.Dot(q))
	if length == 0 {
		return IdentityQuat()
	}
	inv := 1 / length
	return Quat{W: q.W * inv, X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv}
}

// Inverse returns the rotation that undoes q.
func (q Quat) Inverse() Quat {
	normSq := q.Dot(q)
	if normSq == 0 {
		return IdentityQuat()
	}
	inv := 1 / normSq
	return Quat{W: q.W * inv, X: -q.X * inv, Y: -q.Y * inv, Z: -q.Z * inv}
}

// Rotate applies the rotation to a vector.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = q · (0,v) · q*, expanded.
	ix := q.W*v.X + q.Y*v.Z - q.Z*v.Y
	iy := q.W*v.Y + q.Z*v.X - q.X*v.Z
	iz := q.W*v.Z + q.X*v.Y - q.Y*v.X
	iw := -q.X*v.X - q.Y*v.Y - q.Z*v.Z
	return Vec3{
		X: ix*q.W + iw*-q.X + iy*-q.Z - iz*-q.Y,
		Y: iy*q.W + iw*-q.Y + iz*-q.X - ix*-q.Z,
		Z: iz*q.W + iw*-q.Z + ix*-q.Y - iy*-q.X,
	}
}

// AngleTo returns the absolute angle in radians between two rotations,
// in the range [0, π].
func (q Quat) AngleTo(r Quat) float64 {
	dot := math.Abs(q.Dot(r))
	if dot > 1 {
		dot = 1
	}
	return 2 * math.Acos(dot)
}

// AxisAngle builds a rotation of angle radians about the given axis. The axis
// is normalized internally; a zero axis yields the identity.
func AxisAngle(axis Vec3, angle float64) Quat {
	axis = axis.Normalized()
	if axis == (Vec3{}) {
		return IdentityQuat()
	}
	half := angle / 2
	sin := math.Sin(half)
	return Quat{W: math.Cos(half), X: axis.X * sin, Y: axis.Y * sin, Z: axis.Z * sin}
}

// FacingRotation returns the yaw-only rotation that turns the +Z forward axis
// toward dir projected onto the ground plane. Directions with no horizontal
// component yield the identity.
func FacingRotation(dir Vec3) Quat {
	flat := Vec3{X: dir.X, Z: dir.Z}
	if flat.Length() < 1e-9 {
		return IdentityQuat()
	}
	yaw := math.Atan2(flat.X, flat.Z)
	return AxisAngle(Vec3{Y: 1}, yaw)
}

// Slerp spherically interpolates between two rotations, taking the shortest
// arc. Nearly parallel rotations fall back to a normalized linear blend.
func Slerp(a, b Quat, t float64) Quat {
	dot := a.Dot(b)
	if dot < 0 {
		b = b.Negated()
		dot = -dot
	}
	if dot > 0.9995 {
		return Quat{
			W: a.W + (b.W-a.W)*t,
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
		}.Normalized()
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return Quat{
		W: a.W*wa + b.W*wb,
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
	}
}

// Pose is a rigid placement: a position and an orientation.
type Pose struct {
	Linear   Vec3 `json:"linear"`
	Rotation Quat `json:"rotation"`
}

// IdentityPose returns the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: IdentityQuat()}
}

// Compose treats p as a transform and applies it to o, so the result places
// o's frame inside p's. Composition with Inverse round-trips to identity up
// to floating point error.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Linear:   p.Linear.Add(p.Rotation.Rotate(o.Linear)),
		Rotation: p.Rotation.Mul(o.Rotation),
	}
}

// Inverse returns the transform that undoes p.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Inverse()
	return Pose{
		Linear:   inv.Rotate(p.Linear.Scale(-1)),
		Rotation: inv,
	}
}

// LerpPose blends two poses: positions interpolate linearly, orientations
// along the shortest arc.
func LerpPose(a, b Pose, t float64) Pose {
	return Pose{
		Linear:   LerpVec3(a.Linear, b.Linear, t),
		Rotation: Slerp(a.Rotation, b.Rotation, t),
	}
}
