package chrono

import "ebb-and-flow/server/feed"

// Blending constants: a curve fades in over the blend window; contributions
// below the floor are omitted; at most three tasks describe an actor.
const (
	blendWindowSeconds = 0.5
	minBlendWeight     = 0.01
	maxAnimationTasks  = 3
)

// blendLayer is one clip contribution candidate, newest first.
type blendLayer struct {
	curve        *Animatronic
	startSeconds float64
	idle         bool
}

// Animations projects the object's state into renderer animation tasks.
//
// The newest layer fades in over the blend window and older layers keep what
// it has not claimed yet, so interruptions crossfade instead of popping. A
// finished curve hands over to an idle layer the same way. The result is a
// pure function of local time: scrubbing backward redistributes the same
// weights in reverse.
func (o *Object) Animations() []feed.AnimationTask {
	if len(o.animatronics) == 0 {
		return nil
	}
	local := o.clock.LocalSeconds()
	idx := o.currentAnim
	if idx < 0 || idx >= len(o.animatronics) {
		idx = 0
	}
	cur := o.animatronics[idx]
	if o.localStep < cur.Start {
		return []feed.AnimationTask{{
			Type:         cur.AnimationType(),
			Time:         cur.InitialAnimationTime,
			Blend:        1,
			Loop:         cur.Loop(),
			SpeedBooster: cur.SpeedBooster(),
		}}
	}

	layers := make([]blendLayer, 0, maxAnimationTasks+1)
	if cur.FinishedAt(o.localStep) && !cur.Loop() {
		layers = append(layers, blendLayer{idle: true, startSeconds: cur.FinishSeconds()})
	}
	for i := idx; i >= 0 && len(layers) < maxAnimationTasks+1; i-- {
		layers = append(layers, blendLayer{curve: o.animatronics[i], startSeconds: o.animatronics[i].StartSeconds()})
	}

	tasks := make([]feed.AnimationTask, 0, maxAnimationTasks)
	remaining := 1.0
	for i, layer := range layers {
		if len(tasks) == maxAnimationTasks || remaining < minBlendWeight {
			break
		}
		weight := remaining * establishment(local, layer.startSeconds)
		if i == len(layers)-1 {
			// The deepest layer has nothing underneath to reveal.
			weight = remaining
		}
		if weight < minBlendWeight {
			continue
		}
		remaining -= weight
		task := feed.AnimationTask{
			Time:         local - layer.startSeconds,
			Blend:        weight,
			SpeedBooster: 1,
		}
		if layer.idle {
			task.Type = feed.AnimationIdle
			task.Loop = true
		} else {
			task.Type = layer.curve.AnimationType()
			task.Time += layer.curve.InitialAnimationTime
			task.Loop = layer.curve.Loop()
			task.SpeedBooster = layer.curve.SpeedBooster()
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// establishment is how established a layer that began at start is by now:
// 0 the moment it starts, 1 once the blend window has passed.
func establishment(local, start float64) float64 {
	t := (local - start) / blendWindowSeconds
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t
}
