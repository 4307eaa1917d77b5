package chrono

import (
	"math"
	"sort"
)

// CommandBuffer holds an object's commands ordered by start step and decides
// which one is current as local time moves in either direction. The current
// command is always the one with the greatest start step at or before the
// local step; walking backward therefore re-activates earlier commands
// without any bookkeeping beyond the order itself.
type CommandBuffer struct {
	owner    *Object
	commands []*Command

	currentIndex int
	// markedFinishedStep is the last local step a current command was
	// finalized early at. A stopped command reports done from that step
	// on, which is what keeps finalization single-shot.
	markedFinishedStep int64

	// controlledByAI buffers never drop recorded future commands when a
	// new one arrives; a director replays and extends its actors' plans
	// instead of branching them.
	controlledByAI bool
}

// NewCommandBuffer returns an empty buffer bound to its owning object.
func NewCommandBuffer(owner *Object, controlledByAI bool) *CommandBuffer {
	return &CommandBuffer{
		owner:              owner,
		currentIndex:       -1,
		markedFinishedStep: int64(math.MinInt64),
		controlledByAI:     controlledByAI,
	}
}

// ControlledByAI reports whether the buffer keeps future commands on add.
func (b *CommandBuffer) ControlledByAI() bool {
	return b.controlledByAI
}

// Len returns the number of recorded commands.
func (b *CommandBuffer) Len() int {
	return len(b.commands)
}

// Commands returns the recorded commands in start order. The slice is a
// copy; the commands are shared.
func (b *CommandBuffer) Commands() []*Command {
	if len(b.commands) == 0 {
		return nil
	}
	out := make([]*Command, len(b.commands))
	copy(out, b.commands)
	return out
}

// Current returns the command covering the last promoted local step, or nil.
func (b *CommandBuffer) Current() *Command {
	if b.currentIndex < 0 || b.currentIndex >= len(b.commands) {
		return nil
	}
	return b.commands[b.currentIndex]
}

// Promote recomputes the current command for a local step.
func (b *CommandBuffer) Promote(localStep int64) {
	b.currentIndex = b.indexFor(localStep)
}

// indexFor returns the index of the last command starting at or before the
// given local step, or -1.
func (b *CommandBuffer) indexFor(localStep int64) int {
	return sort.Search(len(b.commands), func(i int) bool {
		return b.commands[i].StartStep > localStep
	}) - 1
}

// Execute runs the current command for this local step: artifacts are
// emitted on first contact, progress is reported on every later one. When
// no command has work left and the owner's pose curve has played out, an
// idle curve is synthesized so the owner always evaluates to a pose.
func (b *CommandBuffer) Execute(localStep int64) {
	cmd := b.Current()
	if cmd != nil && !cmd.doneAt(localStep) {
		if cmd.executed {
			cmd.execute(b.owner, localStep)
		} else {
			cmd.executeFirstTime(b.owner, localStep)
		}
		return
	}
	b.owner.ensureIdle(localStep)
}

// AddCommand records a command issued at the given local step. The current
// command, if unfinished, is finalized through its stop handler; recorded
// commands starting strictly later are dropped through their cancel
// handlers unless the buffer is AI-controlled. The command is refused when
// the current one forbids interruption and still has work left.
func (b *CommandBuffer) AddCommand(cmd *Command, localStep int64) bool {
	if cmd == nil {
		return false
	}
	if cur := b.Current(); cur != nil && !cur.doneAt(localStep) {
		if !cur.CanBeInterrupted {
			return false
		}
		cur.stop(b.owner, localStep)
		b.markedFinishedStep = localStep
	}
	if !b.controlledByAI {
		b.dropAfter(localStep, true)
	}
	cmd.StartStep = localStep
	b.insert(cmd)
	b.Promote(localStep)
	return true
}

// ImportCommand inserts a command carrying its own start step without
// finalizing or dropping anything. Branch reconstruction and directors use
// it to lay down plans that coexist with recorded ones.
func (b *CommandBuffer) ImportCommand(cmd *Command) {
	if cmd == nil {
		return
	}
	b.insert(cmd)
	b.Promote(b.owner.LocalStep())
}

// insert places cmd by start step, after any command sharing it, so the
// newest issue at a step wins current selection.
func (b *CommandBuffer) insert(cmd *Command) {
	idx := sort.Search(len(b.commands), func(i int) bool {
		return b.commands[i].StartStep > cmd.StartStep
	})
	b.commands = append(b.commands, nil)
	copy(b.commands[idx+1:], b.commands[idx:])
	b.commands[idx] = cmd
}

// DropFuture removes commands starting strictly after the local step. It is
// a structural branch operation: no cancel handlers run.
func (b *CommandBuffer) DropFuture(localStep int64) {
	b.dropAfter(localStep, false)
	b.Promote(localStep)
}

func (b *CommandBuffer) dropAfter(localStep int64, runCancel bool) {
	kept := b.commands[:0]
	for _, cmd := range b.commands {
		if cmd.StartStep <= localStep {
			kept = append(kept, cmd)
			continue
		}
		if runCancel {
			cmd.cancel(b.owner)
		}
	}
	for i := len(kept); i < len(b.commands); i++ {
		b.commands[i] = nil
	}
	b.commands = kept
}

// Clone returns a deep copy bound to a new owner.
func (b *CommandBuffer) Clone(owner *Object) *CommandBuffer {
	clone := &CommandBuffer{
		owner:              owner,
		currentIndex:       b.currentIndex,
		markedFinishedStep: b.markedFinishedStep,
		controlledByAI:     b.controlledByAI,
	}
	if len(b.commands) > 0 {
		clone.commands = make([]*Command, len(b.commands))
		for i, cmd := range b.commands {
			clone.commands[i] = cmd.Clone()
		}
	}
	return clone
}
