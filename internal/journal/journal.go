// Package journal stages the feed patches produced while steps are promoted
// and keeps a rolling buffer of keyframes so subscribers can resynchronise
// after joining late, falling behind or switching branches.
package journal

import (
	"sync"
	"time"

	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/spatial"
)

// Telemetry captures the metrics adapter used by the journal to report drops.
type Telemetry interface {
	RecordJournalDrop(metric string)
}

// Journal accumulates patches generated during a broadcast window and keeps a
// rolling buffer of recent keyframes so diff recovery can rehydrate state.
type Journal struct {
	mu             sync.RWMutex
	patches        []feed.Patch
	keyframes      []Keyframe
	maxFrames      int
	maxAge         time.Duration
	known          map[string]struct{}
	recentDespawns map[string]feed.Step
	telemetry      Telemetry
	resync         *Policy
}

// New constructs a journal with storage for the configured number of
// keyframes and retention window.
func New(keyframeCapacity int, maxAge time.Duration) Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return Journal{
		patches:        make([]feed.Patch, 0),
		keyframes:      make([]Keyframe, 0, keyframeCapacity),
		maxFrames:      keyframeCapacity,
		maxAge:         maxAge,
		known:          make(map[string]struct{}),
		recentDespawns: make(map[string]feed.Step),
		resync:         NewPolicy(),
	}
}

// Patches for an actor are refused for this many steps after its despawn so a
// slow producer cannot resurrect a removed actor mid-stream.
const recentDespawnWindow feed.Step = 4

// RecordSpawn announces an actor and stages its full frame. Announcing a
// live actor again refreshes the stream; a despawn staged earlier in the same
// window stays in place so subscribers replay the removal before the spawn.
func (j *Journal) RecordSpawn(frame feed.ActorFrame) bool {
	if frame.ID == "" {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resync.NotePatch()
	delete(j.recentDespawns, frame.ID)
	j.known[frame.ID] = struct{}{}
	j.patches = append(j.patches, feed.Patch{
		Kind:    feed.PatchActorSpawned,
		ActorID: frame.ID,
		Payload: feed.ActorSpawnPayload{Frame: CloneActorFrame(frame)},
	})
	return true
}

// RecordPose stages a pose patch for an announced actor. Patches addressing
// actors the journal has never seen spawn are dropped and counted toward a
// resynchronisation hint.
func (j *Journal) RecordPose(actorID string, step feed.Step, pose spatial.Pose) bool {
	if actorID == "" {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resync.NotePatch()
	if !j.admitActorLocked(actorID, step) {
		return false
	}
	j.patches = append(j.patches, feed.Patch{
		Kind:    feed.PatchActorPose,
		ActorID: actorID,
		Payload: feed.ActorPosePayload{Pose: pose},
	})
	return true
}

// RecordTasks stages an animation task patch for an announced actor. The
// task slice is cloned so the caller may keep mutating its copy.
func (j *Journal) RecordTasks(actorID string, step feed.Step, tasks []feed.AnimationTask) bool {
	if actorID == "" {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resync.NotePatch()
	if !j.admitActorLocked(actorID, step) {
		return false
	}
	j.patches = append(j.patches, feed.Patch{
		Kind:    feed.PatchActorTasks,
		ActorID: actorID,
		Payload: feed.ActorTasksPayload{Tasks: CloneTasks(tasks)},
	})
	return true
}

// RecordDespawn stages a removal patch and closes the actor's patch stream.
func (j *Journal) RecordDespawn(actorID string, step feed.Step) bool {
	if actorID == "" {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resync.NotePatch()
	if _, ok := j.known[actorID]; !ok {
		j.recordDropLocked(metricJournalUnknownActor)
		j.resync.NoteLostActor(metricJournalUnknownActor, actorID)
		return false
	}
	delete(j.known, actorID)
	j.recentDespawns[actorID] = step
	j.patches = append(j.patches, feed.Patch{
		Kind:    feed.PatchActorDespawned,
		ActorID: actorID,
	})
	return true
}

func (j *Journal) admitActorLocked(id string, step feed.Step) bool {
	j.pruneRecentDespawnsLocked(step)
	if _, recently := j.recentDespawns[id]; recently {
		j.recordDropLocked(metricJournalPatchAfterDespawn)
		j.resync.NoteLostActor(metricJournalPatchAfterDespawn, id)
		return false
	}
	if _, ok := j.known[id]; !ok {
		j.recordDropLocked(metricJournalUnknownActor)
		j.resync.NoteLostActor(metricJournalUnknownActor, id)
		return false
	}
	return true
}

func (j *Journal) pruneRecentDespawnsLocked(current feed.Step) {
	if len(j.recentDespawns) == 0 || current <= 0 {
		return
	}
	cutoff := current - recentDespawnWindow
	for id, step := range j.recentDespawns {
		if step <= 0 {
			continue
		}
		if step <= cutoff {
			delete(j.recentDespawns, id)
		}
	}
}

// PurgeActor drops all staged patches that reference the provided actor. It
// keeps the journal internally consistent when an actor is removed before the
// next broadcast.
func (j *Journal) PurgeActor(actorID string) {
	if actorID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return
	}
	filtered := j.patches[:0]
	for _, patch := range j.patches {
		if patch.ActorID == actorID {
			continue
		}
		filtered = append(filtered, patch)
	}
	if len(filtered) == len(j.patches) {
		return
	}
	j.patches = filtered
}

// DrainPatches returns all staged patches and clears the in-memory slice.
// Ownership of the returned slice transfers to the caller.
func (j *Journal) DrainPatches() []feed.Patch {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return nil
	}
	drained := make([]feed.Patch, len(j.patches))
	copy(drained, j.patches)
	j.patches = j.patches[:0]
	return drained
}

// SnapshotPatches returns a deep copy of the staged patches without clearing
// the journal.
func (j *Journal) SnapshotPatches() []feed.Patch {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.patches) == 0 {
		return nil
	}
	return ClonePatches(j.patches)
}

// RestorePatches prepends the provided patches back into the journal. It is
// used when a caller drains the journal but later needs to roll the operation
// back (for example, if encoding fails and the state message cannot be sent).
// The input is cloned so later caller mutations do not leak in.
func (j *Journal) RestorePatches(p []feed.Patch) {
	if len(p) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]feed.Patch, 0, len(p)+len(j.patches))
	restored = append(restored, ClonePatches(p)...)
	restored = append(restored, j.patches...)
	j.patches = restored
}

// ConsumeResyncHint reports whether the journal observed enough dropped
// patches that subscribers should receive a fresh keyframe. Counters reset
// after each consumption so the caller can re-evaluate on subsequent steps.
func (j *Journal) ConsumeResyncHint() (ResyncSignal, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resync == nil {
		return ResyncSignal{}, false
	}
	return j.resync.Consume()
}

// RecordKeyframe stores a keyframe in the buffer enforcing retention limits
// by count and age.
func (j *Journal) RecordKeyframe(frame Keyframe) KeyframeRecordResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return KeyframeRecordResult{}
	}

	frame.RecordedAt = time.Now()
	frame.Actors = CloneActorFrames(frame.Actors)
	j.keyframes = append(j.keyframes, frame)

	cutoff := time.Time{}
	if j.maxAge > 0 {
		cutoff = frame.RecordedAt.Add(-j.maxAge)
	}

	evicted := make([]KeyframeEviction, 0)
	if !cutoff.IsZero() {
		idx := 0
		for idx < len(j.keyframes) {
			if !j.keyframes[idx].RecordedAt.Before(cutoff) {
				break
			}
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[idx].Sequence,
				Step:     j.keyframes[idx].Step,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			copy(j.keyframes, j.keyframes[idx:])
			j.keyframes = j.keyframes[:len(j.keyframes)-idx]
		}
	}

	if j.maxFrames > 0 && len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		for i := 0; i < overflow; i++ {
			frame := j.keyframes[i]
			evicted = append(evicted, KeyframeEviction{
				Sequence: frame.Sequence,
				Step:     frame.Step,
				Reason:   "count",
			})
		}
		copy(j.keyframes, j.keyframes[overflow:])
		j.keyframes = j.keyframes[:len(j.keyframes)-overflow]
	}

	size := len(j.keyframes)
	result := KeyframeRecordResult{Size: size}
	if size > 0 {
		result.OldestSequence = j.keyframes[0].Sequence
		result.NewestSequence = j.keyframes[size-1].Sequence
	}
	result.Evicted = evicted
	return result
}

// Keyframes exposes the current keyframe buffer contents in chronological
// order. Callers receive deep copies to avoid holding references into the
// buffer.
func (j *Journal) Keyframes() []Keyframe {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	for i, frame := range j.keyframes {
		frames[i] = CloneKeyframe(frame)
	}
	return frames
}

// KeyframeBySequence returns the keyframe matching the provided sequence.
func (j *Journal) KeyframeBySequence(sequence feed.Seq) (Keyframe, bool) {
	if sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Sequence == sequence {
			return CloneKeyframe(frame), true
		}
	}
	return Keyframe{}, false
}

// KeyframeWindow reports the current retention window.
func (j *Journal) KeyframeWindow() (size int, oldest, newest feed.Seq) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.keyframes)
	if size == 0 {
		return size, 0, 0
	}
	oldest = j.keyframes[0].Sequence
	newest = j.keyframes[size-1].Sequence
	return size, oldest, newest
}

const (
	metricJournalUnknownActor      = "journal_unknown_actor"
	metricJournalPatchAfterDespawn = "journal_patch_after_despawn"
)

func (j *Journal) recordDropLocked(metric string) {
	if j.telemetry == nil || metric == "" {
		return
	}
	j.telemetry.RecordJournalDrop(metric)
}

func (j *Journal) AttachTelemetry(t Telemetry) {
	j.mu.Lock()
	j.telemetry = t
	j.mu.Unlock()
}

// ClonePatches deep-copies a patch slice including kind-specific payloads.
func ClonePatches(patches []feed.Patch) []feed.Patch {
	if len(patches) == 0 {
		return nil
	}
	clones := make([]feed.Patch, len(patches))
	for i, patch := range patches {
		clones[i] = ClonePatch(patch)
	}
	return clones
}

// ClonePatch deep-copies a single patch. Payloads that carry slices are
// copied so the clone shares no mutable state with the original.
func ClonePatch(p feed.Patch) feed.Patch {
	clone := p
	switch payload := p.Payload.(type) {
	case feed.ActorTasksPayload:
		clone.Payload = feed.ActorTasksPayload{Tasks: CloneTasks(payload.Tasks)}
	case feed.ActorSpawnPayload:
		clone.Payload = feed.ActorSpawnPayload{Frame: CloneActorFrame(payload.Frame)}
	}
	return clone
}

// CloneActorFrames deep-copies a frame slice.
func CloneActorFrames(frames []feed.ActorFrame) []feed.ActorFrame {
	if len(frames) == 0 {
		return nil
	}
	clones := make([]feed.ActorFrame, len(frames))
	for i, frame := range frames {
		clones[i] = CloneActorFrame(frame)
	}
	return clones
}

// CloneActorFrame deep-copies one actor frame.
func CloneActorFrame(frame feed.ActorFrame) feed.ActorFrame {
	clone := frame
	clone.Tasks = CloneTasks(frame.Tasks)
	return clone
}

// CloneTasks copies an animation task slice.
func CloneTasks(tasks []feed.AnimationTask) []feed.AnimationTask {
	if len(tasks) == 0 {
		return nil
	}
	clones := make([]feed.AnimationTask, len(tasks))
	copy(clones, tasks)
	return clones
}

// CloneKeyframe deep-copies a keyframe including its actor frames.
func CloneKeyframe(frame Keyframe) Keyframe {
	clone := frame
	clone.Actors = CloneActorFrames(frame.Actors)
	return clone
}

// Keyframe captures the full renderable state of one branch at one step. The
// struct is intentionally minimal so future diffs can expand it without
// touching the broadcast layer again.
type Keyframe struct {
	Step       feed.Step
	Sequence   feed.Seq
	Branch     string
	Actors     []feed.ActorFrame
	RecordedAt time.Time
}

type KeyframeEviction struct {
	Sequence feed.Seq
	Step     feed.Step
	Reason   string
}

type KeyframeRecordResult struct {
	Size           int
	OldestSequence feed.Seq
	NewestSequence feed.Seq
	Evicted        []KeyframeEviction
}
