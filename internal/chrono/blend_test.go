package chrono

import (
	"math"
	"testing"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/spatial"
)

func requireBlend(t *testing.T, task feed.AnimationTask, kind feed.AnimationType, blend float64) {
	t.Helper()
	if task.Type != kind {
		t.Fatalf("expected %q task, got %q", kind, task.Type)
	}
	if math.Abs(task.Blend-blend) > 1e-9 {
		t.Fatalf("expected %q blend %v, got %v", kind, blend, task.Blend)
	}
}

func TestAnimationsSingleIdleAtRest(t *testing.T) {
	o := newTestObject(t, false)
	tasks := o.Animations()
	if len(tasks) != 1 {
		t.Fatalf("expected a single task at rest, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationIdle, 1)
	if !tasks[0].Loop {
		t.Fatalf("expected the idle clip to loop")
	}
	if tasks[0].SpeedBooster != 1 {
		t.Fatalf("expected booster 1, got %v", tasks[0].SpeedBooster)
	}
}

func TestAnimationsCrossfadeOnInterruption(t *testing.T) {
	tl := NewTimeline("blend")
	o, _ := tl.AddObject("dancer", poseAt(0, 0, 0), false)
	o.MoveTo(spatial.Vec3{X: 10}, 5.0)

	// 90ms into a 500ms window: the run clip holds 18%, idle the rest.
	tl.Promote(10)
	tasks := o.Animations()
	if len(tasks) != 2 {
		t.Fatalf("expected run and idle tasks, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationRun, 0.18)
	requireBlend(t, tasks[1], feed.AnimationIdle, 0.82)

	// Past the window the run clip owns the pose outright.
	tl.Promote(60)
	tasks = o.Animations()
	if len(tasks) != 1 {
		t.Fatalf("expected the established run alone, got %d tasks", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationRun, 1)

	// An interruption fades the new run over the old one.
	o.MoveTo(spatial.Vec3{Z: 10}, 5.0)
	tl.Promote(70)
	tasks = o.Animations()
	if len(tasks) != 2 {
		t.Fatalf("expected two run tasks mid-crossfade, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationRun, 0.18)
	requireBlend(t, tasks[1], feed.AnimationRun, 0.82)
	if tasks[0].Time >= tasks[1].Time {
		t.Fatalf("expected the newest clip first, got times %v then %v", tasks[0].Time, tasks[1].Time)
	}
}

func TestAnimationsCrossfadeIntoSynthesizedIdle(t *testing.T) {
	tl := NewTimeline("blend")
	o, _ := tl.AddObject("walker", poseAt(0, 0, 0), false)
	o.MoveTo(spatial.Vec3{X: 2}, 5.0)

	// The move spans [1,21]; its synthesized idle starts at step 21. At
	// step 31 the idle is 100ms established, and the short run never got
	// fully established before it ended, so the spawn idle still shows
	// through underneath.
	tl.Promote(31)
	tasks := o.Animations()
	if len(tasks) != 3 {
		t.Fatalf("expected idle, run and spawn tasks, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationIdle, 0.2)
	requireBlend(t, tasks[1], feed.AnimationRun, 0.48)
	requireBlend(t, tasks[2], feed.AnimationIdle, 0.32)
}

func TestAnimationsHandOverToIdleWhenCurveEnds(t *testing.T) {
	o := newTestObject(t, false)
	o.AddAnimatronic(NewLinearMove(poseAt(0, 0, 0), poseAt(4, 0, 0), 0, 10))
	o.clock.Promote(30)
	o.localStep = o.clock.LocalStep()
	o.derivePose()

	tasks := o.Animations()
	if len(tasks) != 3 {
		t.Fatalf("expected idle, glide and spawn tasks, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationIdle, 0.4)
	requireBlend(t, tasks[1], feed.AnimationGlide, 0.36)
	requireBlend(t, tasks[2], feed.AnimationIdle, 0.24)
}

func TestAnimationsCapAtThreeTasks(t *testing.T) {
	o := newTestObject(t, false)
	for i := 0; i < 4; i++ {
		start := int64(70 + 10*i)
		from := poseAt(float64(i), 0, 0)
		to := poseAt(float64(i+1), 0, 0)
		o.AddAnimatronic(NewLinearMove(from, to, start, start+50))
	}
	o.clock.Promote(107)
	o.localStep = o.clock.LocalStep()
	o.derivePose()

	tasks := o.Animations()
	if len(tasks) != 3 {
		t.Fatalf("expected the task list capped at 3, got %d", len(tasks))
	}
	if math.Abs(tasks[0].Blend-0.14) > 1e-9 {
		t.Fatalf("expected the newest layer at 0.14, got %v", tasks[0].Blend)
	}
	total := 0.0
	for _, task := range tasks {
		total += task.Blend
	}
	if total > 1+1e-9 {
		t.Fatalf("expected weights at most 1, got %v", total)
	}
}

func TestAnimationsBeforeFirstCurve(t *testing.T) {
	tl := NewTimeline("blend")
	o, _ := tl.AddObject("statue", poseAt(1, 0, 1), false)
	if err := o.AddModifier(NewFreeze(5, 30)); err != nil {
		t.Fatalf("add freeze: %v", err)
	}

	// Frozen local time falls below the spawn record.
	tl.Promote(20)
	if o.LocalStep() >= 0 {
		t.Fatalf("expected negative local step, got %d", o.LocalStep())
	}
	tasks := o.Animations()
	if len(tasks) != 1 {
		t.Fatalf("expected a single full-weight task, got %d", len(tasks))
	}
	requireBlend(t, tasks[0], feed.AnimationIdle, 1)
}
