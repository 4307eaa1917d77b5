package chrono

import (
	"math"

	"ebb-and-flow/server/internal/spatial"
)

// CommandKind is the stable discriminant of an actor command. Values are
// wire- and key-stable: cooldown bookkeeping and logs identify commands by
// kind, never by runtime type.
type CommandKind string

const (
	CommandMove  CommandKind = "move"
	CommandBlink CommandKind = "blink"
)

// UnfinishedStep marks a command whose finish step is not known yet.
const UnfinishedStep = int64(math.MaxInt64)

// MoveParams steers a move command. The command records the walking-speed
// class, not the requested speed: motion always runs at the class speed.
type MoveParams struct {
	Target spatial.Vec3
	Gait   Gait
}

// BlinkParams steers a blink command.
type BlinkParams struct {
	Target spatial.Vec3
	Lapse  float64
}

// Command is one recorded actor decision on the local step axis. A command
// emits animatronics the first time the buffer reaches it and afterwards
// only reports progress, so replays reuse the recorded curves instead of
// emitting duplicates.
type Command struct {
	Kind CommandKind

	// StartStep is the local step the command was issued at. FinishStep
	// stays UnfinishedStep until the command completes or is stopped.
	StartStep  int64
	FinishStep int64

	// CanBeInterrupted permits a later command to finalize this one early.
	CanBeInterrupted bool

	Move  *MoveParams
	Blink *BlinkParams

	executed bool
}

// NewMoveCommand builds a move toward a world position, inferring the
// walking-speed class from the requested speed.
func NewMoveCommand(target spatial.Vec3, speed float64) *Command {
	return &Command{
		Kind:             CommandMove,
		FinishStep:       UnfinishedStep,
		CanBeInterrupted: true,
		Move:             &MoveParams{Target: target, Gait: GaitForSpeed(speed)},
	}
}

// NewBlinkCommand builds a short-range teleport with the given visual lapse.
func NewBlinkCommand(target spatial.Vec3, lapse float64) *Command {
	return &Command{
		Kind:             CommandBlink,
		FinishStep:       UnfinishedStep,
		CanBeInterrupted: true,
		Blink:            &BlinkParams{Target: target, Lapse: lapse},
	}
}

// Executed reports whether the command has emitted its artifacts.
func (c *Command) Executed() bool {
	return c.executed
}

// doneAt reports whether the command has nothing left to do at a local step.
func (c *Command) doneAt(step int64) bool {
	return c.FinishStep != UnfinishedStep && step >= c.FinishStep
}

// executeFirstTime emits the command's animatronics onto the owner and
// reports whether the command already finished. It runs once per command
// lifetime; replays go through execute.
func (c *Command) executeFirstTime(owner *Object, step int64) bool {
	c.executed = true
	switch c.Kind {
	case CommandMove:
		curve := NewMoving(owner.LocalPose(), c.Move.Target, step, c.Move.Gait)
		owner.AddAnimatronic(curve)
		c.FinishStep = curve.Finish
	case CommandBlink:
		curve := NewBlink(owner.LocalPose(), c.Blink.Target, step, c.Blink.Lapse)
		owner.AddAnimatronic(curve)
		c.FinishStep = curve.Finish
	default:
		c.FinishStep = step
	}
	return c.doneAt(step)
}

// execute reports progress on a command whose artifacts already exist.
func (c *Command) execute(owner *Object, step int64) bool {
	return c.doneAt(step)
}

// stop finalizes the command early at the given step. The emitted curves
// stay recorded; a successor curve starting at the same step supersedes them
// in pose selection.
func (c *Command) stop(owner *Object, step int64) {
	if c.FinishStep == UnfinishedStep || step < c.FinishStep {
		c.FinishStep = step
	}
}

// cancel releases a command that was dropped before its start step. Nothing
// was emitted yet, so there is no state to unwind.
func (c *Command) cancel(owner *Object) {
}

// Clone returns a deep copy of the command and its parameters.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Move != nil {
		move := *c.Move
		clone.Move = &move
	}
	if c.Blink != nil {
		blink := *c.Blink
		clone.Blink = &blink
	}
	return &clone
}
