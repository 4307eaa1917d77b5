package spatial

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func requireVec(t *testing.T, got, want Vec3, tol float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Fatalf("expected vector %+v, got %+v", want, got)
	}
}

func TestFacingRotationTurnsForwardAxis(t *testing.T) {
	dir := Vec3{X: 1}
	rot := FacingRotation(dir)
	forward := rot.Rotate(Vec3{Z: 1})
	requireVec(t, forward, dir, 1e-9)
}

func TestFacingRotationIgnoresVerticalComponent(t *testing.T) {
	rot := FacingRotation(Vec3{X: 3, Y: 12, Z: 4})
	forward := rot.Rotate(Vec3{Z: 1})
	requireVec(t, forward, Vec3{X: 0.6, Z: 0.8}, 1e-9)
}

func TestFacingRotationVerticalDirectionIsIdentity(t *testing.T) {
	rot := FacingRotation(Vec3{Y: -2})
	if got := rot.AngleTo(IdentityQuat()); got > epsilon {
		t.Fatalf("expected identity rotation, got angle %v", got)
	}
}

func TestAxisAngleQuarterTurn(t *testing.T) {
	rot := AxisAngle(Vec3{Y: 1}, math.Pi/2)
	requireVec(t, rot.Rotate(Vec3{Z: 1}), Vec3{X: 1}, 1e-9)
	requireVec(t, rot.Rotate(Vec3{X: 1}), Vec3{Z: -1}, 1e-9)
}

func TestSlerpEndpoints(t *testing.T) {
	a := AxisAngle(Vec3{Y: 1}, 0.3)
	b := AxisAngle(Vec3{Y: 1}, 2.1)
	if got := Slerp(a, b, 0).AngleTo(a); got > epsilon {
		t.Fatalf("expected slerp at t=0 to equal start, got angle %v", got)
	}
	if got := Slerp(a, b, 1).AngleTo(b); got > epsilon {
		t.Fatalf("expected slerp at t=1 to equal finish, got angle %v", got)
	}
}

func TestSlerpTakesShortestArc(t *testing.T) {
	a := AxisAngle(Vec3{Y: 1}, 0.2)
	b := AxisAngle(Vec3{Y: 1}, 1.2)
	direct := Slerp(a, b, 0.5)
	flipped := Slerp(a, b.Negated(), 0.5)
	if got := direct.AngleTo(flipped); got > 1e-9 {
		t.Fatalf("expected antipodal operand to reach the same rotation, got angle %v", got)
	}
}

func TestSlerpHalfwayAngle(t *testing.T) {
	a := IdentityQuat()
	b := AxisAngle(Vec3{Y: 1}, 1.0)
	mid := Slerp(a, b, 0.5)
	if got := mid.AngleTo(a); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected halfway rotation of 0.5 rad, got %v", got)
	}
}

func TestPoseComposeInverseRoundTrip(t *testing.T) {
	p := Pose{
		Linear:   Vec3{X: 4, Y: -1, Z: 2.5},
		Rotation: AxisAngle(Vec3{X: 1, Y: 2, Z: -1}, 0.8),
	}
	round := p.Compose(p.Inverse())
	requireVec(t, round.Linear, Vec3{}, 1e-9)
	if got := round.Rotation.AngleTo(IdentityQuat()); got > 1e-9 {
		t.Fatalf("expected identity rotation after round trip, got angle %v", got)
	}
}

func TestNormalizedZeroVectorStaysZero(t *testing.T) {
	if got := (Vec3{}).Normalized(); got != (Vec3{}) {
		t.Fatalf("expected zero vector, got %+v", got)
	}
}

func TestLerpPoseBlendsBothParts(t *testing.T) {
	a := Pose{Rotation: IdentityQuat()}
	b := Pose{Linear: Vec3{X: 10}, Rotation: AxisAngle(Vec3{Y: 1}, 1.0)}
	mid := LerpPose(a, b, 0.5)
	requireVec(t, mid.Linear, Vec3{X: 5}, 1e-9)
	if got := mid.Rotation.AngleTo(IdentityQuat()); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected halfway rotation of 0.5 rad, got %v", got)
	}
}
