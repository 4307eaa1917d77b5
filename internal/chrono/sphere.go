package chrono

import "golang.org/x/sync/errgroup"

// Smoothing factors applied once per Update: the live multiplier eases
// toward its target, and while paused the cursor is damped toward the scrub
// target instead of jumping.
const (
	multiplierSmoothing = 0.06
	scrubSmoothing      = 0.04
)

// Sphere owns every timeline of one world and the shared playback controls:
// pause, scrub, the time multiplier and reversal. Exactly one timeline is
// current; branches are full copies that advance independently.
type Sphere struct {
	timelines []*Timeline
	byName    map[string]*Timeline
	current   *Timeline

	multiplier       float64
	targetMultiplier float64
	// resumeTarget keeps the requested multiplier while paused, where the
	// live target is pinned to zero.
	resumeTarget float64
	paused       bool
	scrubTarget  float64

	onSwitch func(*Timeline)
}

// NewSphere returns a sphere with one fresh timeline under the given name,
// running at multiplier 1.
func NewSphere(rootName string) *Sphere {
	root := NewTimeline(rootName)
	return &Sphere{
		timelines:        []*Timeline{root},
		byName:           map[string]*Timeline{rootName: root},
		current:          root,
		multiplier:       1,
		targetMultiplier: 1,
		resumeTarget:     1,
	}
}

// Current returns the current timeline.
func (s *Sphere) Current() *Timeline {
	return s.current
}

// Timeline looks a timeline up by name.
func (s *Sphere) Timeline(name string) (*Timeline, bool) {
	tl, ok := s.byName[name]
	return tl, ok
}

// Timelines returns all timelines in creation order. The slice is a copy;
// the timelines are shared.
func (s *Sphere) Timelines() []*Timeline {
	out := make([]*Timeline, len(s.timelines))
	copy(out, s.timelines)
	return out
}

// SetSwitchCallback registers a callback fired whenever the current timeline
// changes, including on branch creation.
func (s *Sphere) SetSwitchCallback(fn func(*Timeline)) {
	s.onSwitch = fn
}

// Multiplier returns the live time multiplier.
func (s *Sphere) Multiplier() float64 {
	return s.multiplier
}

// TargetMultiplier returns the multiplier the live one is easing toward,
// or the one playback will resume at while paused.
func (s *Sphere) TargetMultiplier() float64 {
	if s.paused {
		return s.resumeTarget
	}
	return s.targetMultiplier
}

// SetTargetTimeMultiplier requests a playback rate. The live multiplier
// eases toward it over the following updates.
func (s *Sphere) SetTargetTimeMultiplier(m float64) {
	if s.paused {
		s.resumeTarget = m
		return
	}
	s.targetMultiplier = m
}

// Paused reports whether playback is paused.
func (s *Sphere) Paused() bool {
	return s.paused
}

// Pause halts playback: the live multiplier eases to zero and the cursor is
// damped toward the scrub target, which starts at the current time.
func (s *Sphere) Pause() {
	if s.paused {
		return
	}
	s.paused = true
	s.resumeTarget = s.targetMultiplier
	s.targetMultiplier = 0
	s.scrubTarget = s.current.ExactTime()
}

// Resume restores the multiplier requested before the pause.
func (s *Sphere) Resume() {
	if !s.paused {
		return
	}
	s.paused = false
	s.targetMultiplier = s.resumeTarget
}

// SetPaused pauses or resumes playback.
func (s *Sphere) SetPaused(paused bool) {
	if paused {
		s.Pause()
	} else {
		s.Resume()
	}
}

// ScrubTarget returns the time the paused cursor is being damped toward.
func (s *Sphere) ScrubTarget() float64 {
	return s.scrubTarget
}

// SetScrubTarget moves the scrub destination, in seconds. Times before the
// origin clamp to zero.
func (s *Sphere) SetScrubTarget(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	s.scrubTarget = seconds
}

// TimeReverseImmediate flips the sign of the live and target multipliers
// with no easing and toggles the current timeline's reversal pass, so new
// causality grows toward lower steps, or back again.
func (s *Sphere) TimeReverseImmediate() {
	s.multiplier = -s.multiplier
	s.targetMultiplier = -s.targetMultiplier
	s.resumeTarget = -s.resumeTarget
	s.current.SetReversedPass(!s.current.ReversedPass())
}

// Update advances the current timeline by one wall-clock delta. While
// running, time moves by dt scaled by the live multiplier; while paused, the
// cursor follows the damped scrub approach plus whatever the decaying live
// multiplier still contributes. Afterwards the live multiplier eases toward
// its target.
func (s *Sphere) Update(dt float64) {
	delta := dt * s.multiplier
	if s.paused {
		delta += (s.scrubTarget - s.current.ExactTime()) * scrubSmoothing
	}
	s.current.PromoteDelta(delta)
	s.multiplier += (s.targetMultiplier - s.multiplier) * multiplierSmoothing
}

// UpdateAll runs Update on the current timeline and advances every dormant
// branch by plain wall-clock time on its own goroutine. Distinct timelines
// share no mutable state, which is what makes the parallel walk sound.
func (s *Sphere) UpdateAll(dt float64) {
	s.Update(dt)
	var group errgroup.Group
	for _, tl := range s.timelines {
		if tl == s.current {
			continue
		}
		dormant := tl
		group.Go(func() error {
			dormant.PromoteDelta(dt)
			return nil
		})
	}
	_ = group.Wait()
}

// CreateBranch copies the current timeline under a new name, registers the
// copy and makes it current. The copy carries the full record, recorded
// future included; the switch callback fires for the new branch.
func (s *Sphere) CreateBranch(name string) (*Timeline, error) {
	if _, exists := s.byName[name]; exists {
		return nil, ErrDuplicateTimeline
	}
	branch := s.current.Copy(name)
	s.timelines = append(s.timelines, branch)
	s.byName[name] = branch
	s.current = branch
	if s.onSwitch != nil {
		s.onSwitch(branch)
	}
	return branch, nil
}

// SwitchTimeline makes a registered timeline current and fires the switch
// callback.
func (s *Sphere) SwitchTimeline(name string) error {
	tl, ok := s.byName[name]
	if !ok {
		return ErrUnknownTimeline
	}
	if tl == s.current {
		return nil
	}
	s.current = tl
	if s.onSwitch != nil {
		s.onSwitch(tl)
	}
	return nil
}
