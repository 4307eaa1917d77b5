// Package chrono is the reversible-time simulation kernel. A Sphere owns
// named Timelines; a Timeline owns Objects and promotes them step by step in
// either direction; each Object carries its own LocalClock, animatronic pose
// curves and command buffer so that walking time backward replays history
// exactly and walking forward again reproduces it bit for bit.
package chrono

import "time"

// StepsPerSecond is the fixed promotion frequency shared by every timeline.
// Recorded branches are replayed against this constant, so it is not
// configurable at runtime.
const StepsPerSecond = 100

// SecondsPerStep is the duration of one step in seconds.
const SecondsPerStep = 1.0 / float64(StepsPerSecond)

// StepDuration is the duration of one step as a time.Duration.
const StepDuration = time.Second / StepsPerSecond
