// Package feed defines the renderer-facing protocol: the animation tasks,
// actor frames, patches and websocket messages a viewer consumes to draw the
// world. The simulation owns the authoritative state; everything here is a
// projection of it, and the schema tool under feed/cmd/schema publishes the
// JSON shape for client developers.
package feed

import "ebb-and-flow/server/internal/spatial"

// ProtocolVersion is bumped whenever a message shape changes incompatibly.
const ProtocolVersion = 1

// Step is an authoritative timeline step number.
// Seq is a monotonic broadcast sequence id used to order deliveries.
type Step int64
type Seq uint64

// AnimationType names a clip family the renderer owns.
type AnimationType string

const (
	// AnimationIdle is the resting loop an actor falls back to.
	AnimationIdle AnimationType = "idle"
	// AnimationWalk is locomotion at walking gait.
	AnimationWalk AnimationType = "walk"
	// AnimationRun is locomotion at running gait.
	AnimationRun AnimationType = "run"
	// AnimationGlide is authored translation with no gait, such as
	// scripted or waypoint movement.
	AnimationGlide AnimationType = "glide"
	// AnimationBlink is the short-range teleport flourish.
	AnimationBlink AnimationType = "blink"
)

// AnimationTask tells the renderer to sample one clip at one moment with one
// weight. An actor's visible pose is the weighted mix of its tasks.
type AnimationTask struct {
	Type AnimationType `json:"type" jsonschema:"description=Clip family to sample"`
	// Time is the clip-local playback position in seconds.
	Time float64 `json:"time" jsonschema:"description=Clip-local playback position in seconds"`
	// Blend is the mix weight in (0, 1]. Weights of concurrent tasks sum
	// to at most 1; contributions below one percent are omitted.
	Blend float64 `json:"blend" jsonschema:"description=Mix weight in (0 1]"`
	Loop  bool    `json:"loop,omitempty" jsonschema:"description=Whether the clip repeats"`
	// SpeedBooster scales clip playback speed, 1 when absent.
	SpeedBooster float64 `json:"speedBooster,omitempty" jsonschema:"description=Playback speed scale"`
}

// ActorFrame is the complete renderable state of one actor at one step.
type ActorFrame struct {
	ID    string          `json:"id"`
	Pose  spatial.Pose    `json:"pose"`
	Tasks []AnimationTask `json:"tasks,omitempty"`
}

// PatchKind enumerates incremental state changes carried by state messages.
type PatchKind string

const (
	// PatchActorPose replaces an actor's pose.
	PatchActorPose PatchKind = "actor_pose"
	// PatchActorTasks replaces an actor's animation task set.
	PatchActorTasks PatchKind = "actor_tasks"
	// PatchActorSpawned announces a new actor with its full frame.
	PatchActorSpawned PatchKind = "actor_spawned"
	// PatchActorDespawned removes an actor.
	PatchActorDespawned PatchKind = "actor_despawned"
)

// Patch is one incremental change. Payload holds the kind-specific body.
type Patch struct {
	Kind    PatchKind `json:"kind"`
	ActorID string    `json:"actorId,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// ActorPosePayload carries the new pose for PatchActorPose.
type ActorPosePayload struct {
	Pose spatial.Pose `json:"pose"`
}

// ActorTasksPayload carries the new task set for PatchActorTasks.
type ActorTasksPayload struct {
	Tasks []AnimationTask `json:"tasks"`
}

// ActorSpawnPayload carries the full frame for PatchActorSpawned.
type ActorSpawnPayload struct {
	Frame ActorFrame `json:"frame"`
}

// BranchInfo summarizes one timeline for diagnostics and branch listings.
type BranchInfo struct {
	Name        string  `json:"name"`
	Step        Step    `json:"step"`
	TimeSeconds float64 `json:"timeSeconds"`
	Reversed    bool    `json:"reversed,omitempty"`
	Current     bool    `json:"current,omitempty"`
}

// HelloMessage is the first frame a subscriber receives: the full world on
// the current branch plus the constants it needs to interpret later frames.
type HelloMessage struct {
	Ver              int          `json:"ver"`
	Type             string       `json:"type"`
	Subscriber       string       `json:"subscriber"`
	Branch           string       `json:"branch"`
	Step             Step         `json:"t"`
	TimeSeconds      float64      `json:"timeSeconds"`
	StepsPerSecond   int          `json:"stepsPerSecond"`
	Actors           []ActorFrame `json:"actors"`
	KeyframeInterval int          `json:"keyframeInterval,omitempty"`
}

// StateMessage is the per-broadcast delta frame.
type StateMessage struct {
	Ver         int     `json:"ver"`
	Type        string  `json:"type"`
	Branch      string  `json:"branch"`
	Step        Step    `json:"t"`
	TimeSeconds float64 `json:"timeSeconds"`
	Multiplier  float64 `json:"multiplier"`
	Paused      bool    `json:"paused,omitempty"`
	Reversed    bool    `json:"reversed,omitempty"`
	Patches     []Patch `json:"patches"`
	Sequence    Seq     `json:"sequence"`
	KeyframeSeq Seq     `json:"keyframeSeq"`
	ServerTime  int64   `json:"serverTime"`
}

// KeyframeMessage is a full resync frame, sent on join, on branch switches
// and at the keyframe interval.
type KeyframeMessage struct {
	Ver      int          `json:"ver"`
	Type     string       `json:"type"`
	Sequence Seq          `json:"sequence"`
	Branch   string       `json:"branch"`
	Step     Step         `json:"t"`
	Actors   []ActorFrame `json:"actors"`
}

// ServerMessage is the union of frames the hub pushes to subscribers.
type ServerMessage interface {
	isServerMessage()
}

func (HelloMessage) isServerMessage()    {}
func (StateMessage) isServerMessage()    {}
func (KeyframeMessage) isServerMessage() {}

// ControlType enumerates the commands a subscriber may send back.
type ControlType string

const (
	ControlHeartbeat  ControlType = "heartbeat"
	ControlPause      ControlType = "pause"
	ControlResume     ControlType = "resume"
	ControlMultiplier ControlType = "multiplier"
	ControlScrub      ControlType = "scrub"
	ControlReverse    ControlType = "reverse"
	ControlBranch     ControlType = "branch"
	ControlSwitch     ControlType = "switch"
	ControlMove       ControlType = "move"
	ControlBlink      ControlType = "blink"
	ControlFreeze     ControlType = "freeze"
	ControlHaste      ControlType = "haste"
)

// ControlMessage is the single client-to-server frame. Only the fields the
// Type calls for are read; the rest stay at their zero values.
type ControlMessage struct {
	Type ControlType `json:"type"`
	// Actor addresses the acting object for move, blink, freeze and haste.
	Actor string `json:"actor,omitempty"`
	// Target is a world position for move and blink, or the victim's name
	// for freeze when TargetActor is set instead.
	Target      *spatial.Vec3 `json:"target,omitempty"`
	TargetActor string        `json:"targetActor,omitempty"`
	Speed       float64       `json:"speed,omitempty"`
	Multiplier  float64       `json:"multiplier,omitempty"`
	TimeSeconds float64       `json:"timeSeconds,omitempty"`
	// Name names the branch for branch and switch.
	Name string `json:"name,omitempty"`
	// Lapse is the blink visual lapse in seconds.
	Lapse float64 `json:"lapse,omitempty"`
	// DurationSeconds bounds freeze and haste modifiers.
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	// Rate is the haste multiplier, greater than 1.
	Rate float64 `json:"rate,omitempty"`
	// SentAt echoes back in heartbeat acks for RTT measurement.
	SentAt int64 `json:"sentAt,omitempty"`
}

// HeartbeatAckMessage answers a heartbeat with the server clock.
type HeartbeatAckMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	SentAt     int64  `json:"sentAt"`
	ServerTime int64  `json:"serverTime"`
}

func (HeartbeatAckMessage) isServerMessage() {}

// DiagnosticsSubscriber reports one subscriber's liveness for diagnostics.
type DiagnosticsSubscriber struct {
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}

// DiagnosticsStatus is the payload of the /diagnostics endpoint.
type DiagnosticsStatus struct {
	Ver         int                     `json:"ver"`
	Branch      string                  `json:"branch"`
	Step        Step                    `json:"t"`
	TimeSeconds float64                 `json:"timeSeconds"`
	Multiplier  float64                 `json:"multiplier"`
	Paused      bool                    `json:"paused"`
	Branches    []BranchInfo            `json:"branches"`
	Subscribers []DiagnosticsSubscriber `json:"subscribers"`
}
