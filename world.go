package server

import (
	"context"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/ability"
	"ebb-and-flow/server/internal/chrono"
	"ebb-and-flow/server/internal/director"
	"ebb-and-flow/server/internal/journal"
	"ebb-and-flow/server/internal/spatial"
	"ebb-and-flow/server/logging"
	simlog "ebb-and-flow/server/logging/simulation"
	"ebb-and-flow/server/logging/timelinelog"
)

// WorldStatus is the playback state of the current branch at one moment.
type WorldStatus struct {
	Branch      string
	Step        feed.Step
	TimeSeconds float64
	Multiplier  float64
	Paused      bool
	Reversed    bool
}

// WorldReport summarises one Advance call for the broadcast layer.
type WorldReport struct {
	Steps          int64
	CommandsIssued int
	BranchSwitched bool
	Resync         bool
}

// actorMirror remembers what was last published for one actor, so Advance can
// stage patches only for what actually changed.
type actorMirror struct {
	pose  spatial.Pose
	tasks []feed.AnimationTask
}

// World owns the authoritative simulation state: the sphere of timelines, the
// ability cooldowns, the wander director and the patch journal. It is not
// safe for concurrent use; the hub serialises access behind its mutex.
type World struct {
	sphere    *chrono.Sphere
	abilities *ability.Registry
	director  *director.Director
	journal   journal.Journal
	mirror    map[string]*actorMirror

	cfg       Config
	publisher logging.Publisher
	metrics   *logging.Metrics

	prevBranch string
	switched   bool
	lastStep   int64
}

// NewWorld seeds the scenario onto a fresh sphere and mirrors the spawned
// actors into the journal, so the first broadcast already carries them.
func NewWorld(cfg Config, publisher logging.Publisher, metrics *logging.Metrics, journalTelemetry journal.Telemetry) *World {
	cfg = cfg.Normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	publisher = logging.WithFields(publisher, map[string]any{"seed": cfg.Seed})
	if metrics == nil {
		metrics = &logging.Metrics{}
	}

	w := &World{
		sphere:    chrono.NewSphere(rootTimelineName),
		abilities: ability.NewRegistry(ability.Defaults()...),
		mirror:    make(map[string]*actorMirror),
		cfg:       cfg,
		publisher: publisher,
		metrics:   metrics,
	}
	w.journal = journal.New(cfg.KeyframeCapacity, cfg.KeyframeMaxAge)
	if journalTelemetry != nil {
		w.journal.AttachTelemetry(journalTelemetry)
	}
	if cfg.Director {
		w.director = director.New(director.Config{Seed: cfg.Seed})
	}
	w.prevBranch = rootTimelineName
	w.sphere.SetSwitchCallback(func(tl *chrono.Timeline) {
		from := w.prevBranch
		w.prevBranch = tl.Name()
		w.lastStep = tl.CurrentStep()
		w.switched = true
		timelinelog.TimelineSwitched(context.Background(), w.publisher, tl.CurrentStep(),
			timelinelog.TimelineSwitchedPayload{From: from, To: tl.Name()}, nil)
	})
	seedScenario(w.sphere.Current(), cfg, metrics)
	w.lastStep = w.sphere.Current().CurrentStep()
	w.syncMirror()
	return w
}

// Advance moves the current branch by one scaled wall-clock delta, runs the
// director on the new present and stages patches for everything that changed.
func (w *World) Advance(dt float64) WorldReport {
	if w.cfg.AdvanceDormant {
		w.sphere.UpdateAll(dt)
	} else {
		w.sphere.Update(dt)
	}

	report := WorldReport{}
	current := w.sphere.Current()
	step := current.CurrentStep()
	if delta := step - w.lastStep; delta != 0 {
		if delta < 0 {
			delta = -delta
		}
		w.metrics.TelemetryAdd(logging.MetricStepsAdvanced, uint64(delta))
		report.Steps = delta
	}
	w.lastStep = step

	if w.director != nil {
		if issued := w.director.Decide(current); issued > 0 {
			w.metrics.TelemetryAdd(logging.MetricCommandsIssued, uint64(issued))
			report.CommandsIssued = issued
		}
	}

	w.syncMirror()

	if w.switched {
		w.switched = false
		report.BranchSwitched = true
	}
	if signal, ok := w.journal.ConsumeResyncHint(); ok {
		report.Resync = true
		reasons := make([]string, 0, len(signal.Reasons))
		for _, reason := range signal.Reasons {
			reasons = append(reasons, reason.Kind+":"+reason.ActorID)
		}
		simlog.JournalResync(context.Background(), w.publisher, step, simlog.JournalResyncPayload{
			LostActors:   signal.LostActors,
			TotalPatches: signal.TotalPatches,
			Reasons:      reasons,
		}, nil)
	}
	return report
}

// syncMirror diffs the current branch against the last published view. New
// actors spawn, vanished ones despawn and shed their cooldown and director
// state, and pose or task changes stage replacement patches.
func (w *World) syncMirror() {
	current := w.sphere.Current()
	step := feed.Step(current.CurrentStep())
	seen := make(map[string]struct{}, len(w.mirror))
	for _, obj := range current.Objects() {
		name := obj.Name()
		seen[name] = struct{}{}
		pose := obj.LocalPose()
		tasks := obj.Animations()
		entry, ok := w.mirror[name]
		if !ok {
			if w.journal.RecordSpawn(feed.ActorFrame{ID: name, Pose: pose, Tasks: tasks}) {
				w.mirror[name] = &actorMirror{pose: pose, tasks: journal.CloneTasks(tasks)}
			}
			continue
		}
		if entry.pose != pose {
			if w.journal.RecordPose(name, step, pose) {
				entry.pose = pose
			}
		}
		if !tasksEqual(entry.tasks, tasks) {
			if w.journal.RecordTasks(name, step, tasks) {
				entry.tasks = journal.CloneTasks(tasks)
			}
		}
	}
	for name := range w.mirror {
		if _, ok := seen[name]; ok {
			continue
		}
		w.journal.RecordDespawn(name, step)
		delete(w.mirror, name)
		w.abilities.Forget(name)
		if w.director != nil {
			w.director.Forget(name)
		}
	}
}

func tasksEqual(a, b []feed.AnimationTask) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Status reports the current branch's playback state.
func (w *World) Status() WorldStatus {
	current := w.sphere.Current()
	return WorldStatus{
		Branch:      current.Name(),
		Step:        feed.Step(current.CurrentStep()),
		TimeSeconds: current.CurrentTime(),
		Multiplier:  w.sphere.Multiplier(),
		Paused:      w.sphere.Paused(),
		Reversed:    current.ReversedPass(),
	}
}

// SnapshotFrames captures the full renderable state of the current branch in
// registration order.
func (w *World) SnapshotFrames() []feed.ActorFrame {
	objects := w.sphere.Current().Objects()
	frames := make([]feed.ActorFrame, 0, len(objects))
	for _, obj := range objects {
		frames = append(frames, feed.ActorFrame{
			ID:    obj.Name(),
			Pose:  obj.LocalPose(),
			Tasks: obj.Animations(),
		})
	}
	return frames
}

// Branches lists every timeline in creation order, flagging the current one.
func (w *World) Branches() []feed.BranchInfo {
	current := w.sphere.Current()
	timelines := w.sphere.Timelines()
	infos := make([]feed.BranchInfo, 0, len(timelines))
	for _, tl := range timelines {
		infos = append(infos, feed.BranchInfo{
			Name:        tl.Name(),
			Step:        feed.Step(tl.CurrentStep()),
			TimeSeconds: tl.CurrentTime(),
			Reversed:    tl.ReversedPass(),
			Current:     tl == current,
		})
	}
	return infos
}

// DrainPatches hands the staged patches to the broadcast layer.
func (w *World) DrainPatches() []feed.Patch {
	return w.journal.DrainPatches()
}

// RestorePatches puts drained patches back after a failed broadcast encode.
func (w *World) RestorePatches(patches []feed.Patch) {
	w.journal.RestorePatches(patches)
}

// RecordKeyframe stores a keyframe in the journal's retention window.
func (w *World) RecordKeyframe(frame journal.Keyframe) journal.KeyframeRecordResult {
	return w.journal.RecordKeyframe(frame)
}

// KeyframeWindow reports the journal's current retention window.
func (w *World) KeyframeWindow() (int, feed.Seq, feed.Seq) {
	return w.journal.KeyframeWindow()
}
