package chrono

import (
	"math"
	"testing"

	"ebb-and-flow/server/internal/spatial"
)

func TestMultiplierEasesTowardTarget(t *testing.T) {
	s := NewSphere("root")
	s.SetTargetTimeMultiplier(2)
	s.Update(0.01)
	if got := s.Multiplier(); math.Abs(got-1.06) > 1e-12 {
		t.Fatalf("expected one easing step to 1.06, got %v", got)
	}
	for i := 0; i < 300; i++ {
		s.Update(0.01)
	}
	if got := s.Multiplier(); math.Abs(got-2) > 0.001 {
		t.Fatalf("expected the multiplier settled near 2, got %v", got)
	}
	if got := s.Current().ExactTime(); got < 3.0 {
		t.Fatalf("expected accelerated playback past 3s, got %v", got)
	}
}

func TestPauseDampsTowardScrubTarget(t *testing.T) {
	s := NewSphere("root")
	s.Pause()
	if !s.Paused() {
		t.Fatalf("expected the sphere paused")
	}
	s.SetScrubTarget(1.0)
	for i := 0; i < 400; i++ {
		s.Update(0.016)
	}
	if got := s.Current().ExactTime(); math.Abs(got-1.0) > 0.02 {
		t.Fatalf("expected the cursor damped to 1s, got %v", got)
	}
	if got := s.Multiplier(); math.Abs(got) > 0.001 {
		t.Fatalf("expected the live multiplier decayed to 0, got %v", got)
	}
}

func TestScrubTargetClampsAtOrigin(t *testing.T) {
	s := NewSphere("root")
	s.SetScrubTarget(-3)
	if got := s.ScrubTarget(); got != 0 {
		t.Fatalf("expected scrub target clamped to 0, got %v", got)
	}
}

func TestResumeRestoresRequestedMultiplier(t *testing.T) {
	s := NewSphere("root")
	s.SetTargetTimeMultiplier(2)
	s.Pause()
	if got := s.TargetMultiplier(); got != 2 {
		t.Fatalf("expected the resume target preserved, got %v", got)
	}

	// A rate change while paused takes effect on resume.
	s.SetTargetTimeMultiplier(3)
	s.Resume()
	if s.Paused() {
		t.Fatalf("expected the sphere running")
	}
	if got := s.TargetMultiplier(); got != 3 {
		t.Fatalf("expected target 3 after resume, got %v", got)
	}
}

func TestTimeReverseImmediateFlipsSign(t *testing.T) {
	s := NewSphere("root")
	s.Current().Promote(100)

	s.TimeReverseImmediate()
	if got := s.Multiplier(); got != -1 {
		t.Fatalf("expected multiplier -1 with no easing, got %v", got)
	}
	if got := s.TargetMultiplier(); got != -1 {
		t.Fatalf("expected target -1, got %v", got)
	}
	if !s.Current().ReversedPass() {
		t.Fatalf("expected a reversed pass on the current timeline")
	}

	s.Update(0.05)
	if got := s.Current().CurrentStep(); got != 95 {
		t.Fatalf("expected the cursor at 95 after 0.05s reversed, got %d", got)
	}

	s.TimeReverseImmediate()
	if got := s.Multiplier(); got != 1 {
		t.Fatalf("expected multiplier restored to 1, got %v", got)
	}
	if s.Current().ReversedPass() {
		t.Fatalf("expected the reversed pass ended")
	}
}

func TestCreateBranchKeepsOriginalIntact(t *testing.T) {
	s := NewSphere("root")
	o, err := s.Current().AddObject("probe", poseAt(0, 0, 0), false)
	if err != nil {
		t.Fatalf("add object: %v", err)
	}
	o.MoveTo(spatial.Vec3{X: 10}, 5.0)
	s.Current().Promote(50)

	var switched []string
	s.SetSwitchCallback(func(tl *Timeline) { switched = append(switched, tl.Name()) })

	branch, err := s.CreateBranch("alt")
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if s.Current() != branch {
		t.Fatalf("expected the branch current after creation")
	}
	if _, err := s.CreateBranch("alt"); err != ErrDuplicateTimeline {
		t.Fatalf("expected ErrDuplicateTimeline, got %v", err)
	}

	branch.Promote(101)
	bo, _ := branch.Object("probe")
	requireNear(t, bo.LocalPose().Linear, spatial.Vec3{X: 10}, 1e-9)

	root, ok := s.Timeline("root")
	if !ok || root.CurrentStep() != 50 {
		t.Fatalf("expected the root untouched at step 50")
	}
	requireNear(t, o.LocalPose().Linear, spatial.Vec3{X: 4.9}, 1e-9)

	if err := s.SwitchTimeline("root"); err != nil {
		t.Fatalf("switch timeline: %v", err)
	}
	if s.Current() != root {
		t.Fatalf("expected the root current after switching")
	}
	if err := s.SwitchTimeline("ghost"); err != ErrUnknownTimeline {
		t.Fatalf("expected ErrUnknownTimeline, got %v", err)
	}
	if len(switched) != 2 || switched[0] != "alt" || switched[1] != "root" {
		t.Fatalf("expected switch callbacks for alt then root, got %v", switched)
	}
}

func TestUpdateAllAdvancesDormantTimelines(t *testing.T) {
	s := NewSphere("root")
	s.Current().Promote(10)
	if _, err := s.CreateBranch("work"); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	// Pausing only holds the current timeline; dormant ones keep flowing
	// at wall-clock rate.
	s.Pause()
	for i := 0; i < 200; i++ {
		s.UpdateAll(0.05)
	}
	root, _ := s.Timeline("root")
	if got := root.CurrentStep(); got != 1010 {
		t.Fatalf("expected the dormant root at step 1010, got %d", got)
	}
	if got := s.Current().ExactTime(); math.Abs(got-0.1) > 0.05 {
		t.Fatalf("expected the paused branch held near 0.1s, got %v", got)
	}
}
