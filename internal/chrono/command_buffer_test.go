package chrono

import (
	"testing"

	"ebb-and-flow/server/internal/spatial"
)

func newTestObject(t *testing.T, aiControlled bool) *Object {
	t.Helper()
	tl := NewTimeline("test")
	o, err := tl.AddObject("subject", poseAt(0, 0, 0), aiControlled)
	if err != nil {
		t.Fatalf("add object: %v", err)
	}
	return o
}

func importedMove(b *CommandBuffer, startStep int64) *Command {
	cmd := NewMoveCommand(spatial.Vec3{X: 1}, 1.0)
	cmd.StartStep = startStep
	b.ImportCommand(cmd)
	return cmd
}

func TestAddCommandDropsRecordedFuture(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()
	past := importedMove(b, 10)
	future := importedMove(b, 50)
	if b.Len() != 2 {
		t.Fatalf("expected 2 imported commands, got %d", b.Len())
	}

	issued := NewMoveCommand(spatial.Vec3{Z: 4}, 2.0)
	if !b.AddCommand(issued, 20) {
		t.Fatalf("expected command to be accepted")
	}
	cmds := b.Commands()
	if len(cmds) != 2 {
		t.Fatalf("expected the future command dropped, got %d commands", len(cmds))
	}
	if cmds[0] != past || cmds[1] != issued {
		t.Fatalf("expected [past, issued], got %+v", cmds)
	}
	if issued.StartStep != 20 {
		t.Fatalf("expected issue to stamp start step 20, got %d", issued.StartStep)
	}
	for _, cmd := range cmds {
		if cmd == future {
			t.Fatalf("expected the start-50 command to be gone")
		}
	}
}

func TestAIBufferKeepsRecordedFuture(t *testing.T) {
	o := newTestObject(t, true)
	b := o.Buffer()
	importedMove(b, 10)
	future := importedMove(b, 50)

	if !b.AddCommand(NewMoveCommand(spatial.Vec3{Z: 4}, 2.0), 20) {
		t.Fatalf("expected command to be accepted")
	}
	cmds := b.Commands()
	if len(cmds) != 3 {
		t.Fatalf("expected the planned future kept, got %d commands", len(cmds))
	}
	if cmds[2] != future {
		t.Fatalf("expected the start-50 command to survive, got %+v", cmds[2])
	}
}

func TestAddCommandStopsUnfinishedCurrent(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()

	first := NewMoveCommand(spatial.Vec3{X: 10}, 5.0)
	if !b.AddCommand(first, 0) {
		t.Fatalf("expected first command accepted")
	}
	if b.Current() != first {
		t.Fatalf("expected first command current")
	}
	if first.FinishStep != UnfinishedStep {
		t.Fatalf("expected first command unfinished, got finish %d", first.FinishStep)
	}

	second := NewMoveCommand(spatial.Vec3{Z: 10}, 5.0)
	if !b.AddCommand(second, 30) {
		t.Fatalf("expected second command accepted")
	}
	if first.FinishStep != 30 {
		t.Fatalf("expected interruption to finalize the first command at 30, got %d", first.FinishStep)
	}
	if b.Current() != second {
		t.Fatalf("expected second command current")
	}
}

func TestUninterruptibleCommandRefusesSuccessors(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()

	locked := NewMoveCommand(spatial.Vec3{X: 10}, 5.0)
	locked.CanBeInterrupted = false
	if !b.AddCommand(locked, 0) {
		t.Fatalf("expected first command accepted")
	}

	if b.AddCommand(NewMoveCommand(spatial.Vec3{Z: 1}, 1.0), 5) {
		t.Fatalf("expected refusal while the locked command is unfinished")
	}
	if b.Len() != 1 {
		t.Fatalf("expected refused command not recorded, got %d", b.Len())
	}

	// Once the locked command has finished it no longer blocks anything.
	locked.FinishStep = 3
	if !b.AddCommand(NewMoveCommand(spatial.Vec3{Z: 1}, 1.0), 5) {
		t.Fatalf("expected acceptance after the locked command finished")
	}
}

func TestLatestIssueAtSameStepWins(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()

	first := NewMoveCommand(spatial.Vec3{X: 1}, 1.0)
	second := NewMoveCommand(spatial.Vec3{Z: 1}, 1.0)
	b.AddCommand(first, 10)
	b.AddCommand(second, 10)

	if first.FinishStep != 10 {
		t.Fatalf("expected the first issue finalized at its own step, got %d", first.FinishStep)
	}
	if b.Current() != second {
		t.Fatalf("expected the newest issue at step 10 to be current")
	}
}

func TestCurrentFollowsLocalStepBothWays(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()
	early := importedMove(b, 10)
	late := importedMove(b, 30)

	b.Promote(35)
	if b.Current() != late {
		t.Fatalf("expected the start-30 command current at 35")
	}
	b.Promote(20)
	if b.Current() != early {
		t.Fatalf("expected the start-10 command current at 20")
	}
	b.Promote(5)
	if b.Current() != nil {
		t.Fatalf("expected no current command before the first start")
	}
}

func TestDropFutureIsStructural(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()
	importedMove(b, 10)
	importedMove(b, 40)
	importedMove(b, 80)

	b.DropFuture(40)
	if b.Len() != 2 {
		t.Fatalf("expected commands up to step 40 kept, got %d", b.Len())
	}
	cmds := b.Commands()
	if cmds[len(cmds)-1].StartStep != 40 {
		t.Fatalf("expected the start-40 command kept, got start %d", cmds[len(cmds)-1].StartStep)
	}
}

func TestCloneSharesNothingMutable(t *testing.T) {
	o := newTestObject(t, false)
	b := o.Buffer()
	b.AddCommand(NewMoveCommand(spatial.Vec3{X: 10}, 5.0), 0)

	twin := newTestObject(t, false)
	clone := b.Clone(twin)
	if clone.Len() != 1 {
		t.Fatalf("expected cloned command, got %d", clone.Len())
	}
	if clone.Commands()[0] == b.Commands()[0] {
		t.Fatalf("expected commands deep-copied, got shared pointer")
	}

	clone.AddCommand(NewMoveCommand(spatial.Vec3{Z: 1}, 1.0), 20)
	if b.Len() != 1 {
		t.Fatalf("expected the original untouched, got %d commands", b.Len())
	}
}
