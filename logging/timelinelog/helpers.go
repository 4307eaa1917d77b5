// Package timelinelog publishes the structured events the simulation emits
// as timelines advance, branch and bend.
package timelinelog

import (
	"context"

	"ebb-and-flow/server/internal/spatial"
	"ebb-and-flow/server/logging"
)

const (
	// EventCommandIssued is emitted when a command enters an actor's buffer.
	EventCommandIssued logging.EventType = "timeline.command_issued"
	// EventCommandCancelled is emitted when a recorded command is refused or
	// dropped before it ever executed.
	EventCommandCancelled logging.EventType = "timeline.command_cancelled"
	// EventBranchCreated is emitted when a timeline is copied into a branch.
	EventBranchCreated logging.EventType = "timeline.branch_created"
	// EventTimelineSwitched is emitted when the sphere changes the current
	// timeline.
	EventTimelineSwitched logging.EventType = "timeline.switched"
	// EventTimeReversed is emitted when the flow of time flips sign.
	EventTimeReversed logging.EventType = "timeline.time_reversed"
	// EventModifierApplied is emitted when a freeze or haste lands on an
	// object's clock.
	EventModifierApplied logging.EventType = "timeline.modifier_applied"
	// EventActorBlinked is emitted when a blink relocates an actor.
	EventActorBlinked logging.EventType = "timeline.actor_blinked"
)

// CommandIssuedPayload captures a command accepted into an actor's buffer.
type CommandIssuedPayload struct {
	Kind   string       `json:"kind"`
	Target spatial.Vec3 `json:"target"`
	Gait   string       `json:"gait,omitempty"`
	Start  int64        `json:"start"`
}

// CommandCancelledPayload captures a recorded command dropped before running.
type CommandCancelledPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// BranchCreatedPayload names the source timeline and the step the copy froze.
type BranchCreatedPayload struct {
	Source string `json:"source"`
	Branch string `json:"branch"`
	Step   int64  `json:"step"`
}

// TimelineSwitchedPayload names both sides of a switch.
type TimelineSwitchedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TimeReversedPayload captures the multiplier at the moment of the flip.
type TimeReversedPayload struct {
	Multiplier float64 `json:"multiplier"`
	Reversed   bool    `json:"reversed"`
}

// ModifierAppliedPayload captures a clock modifier's window and rate on the
// broken-time axis.
type ModifierAppliedPayload struct {
	Kind  string  `json:"kind"`
	Start int64   `json:"start"`
	End   int64   `json:"end"`
	Rate  float64 `json:"rate,omitempty"`
}

// ActorBlinkedPayload captures a blink's destination and visual lapse.
type ActorBlinkedPayload struct {
	Target spatial.Vec3 `json:"target"`
	Lapse  float64      `json:"lapse,omitempty"`
}

// CommandIssued publishes a command acceptance at debug severity; buffers
// accept commands every few steps while the director is running.
func CommandIssued(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload CommandIssuedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCommandIssued,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCommand,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// CommandCancelled publishes a refused or dropped command.
func CommandCancelled(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload CommandCancelledPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCommandCancelled,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCommand,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// BranchCreated publishes a branch copy event.
func BranchCreated(ctx context.Context, pub logging.Publisher, step int64, payload BranchCreatedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventBranchCreated,
		Step:     step,
		Actor:    logging.EntityRef{ID: payload.Branch, Kind: logging.EntityKindTimeline},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTimeline,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// TimelineSwitched publishes a current-timeline change.
func TimelineSwitched(ctx context.Context, pub logging.Publisher, step int64, payload TimelineSwitchedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTimelineSwitched,
		Step:     step,
		Actor:    logging.EntityRef{ID: payload.To, Kind: logging.EntityKindTimeline},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTimeline,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// TimeReversed publishes a direction flip on the current timeline.
func TimeReversed(ctx context.Context, pub logging.Publisher, step int64, payload TimeReversedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTimeReversed,
		Step:     step,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTimeline,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ModifierApplied publishes a freeze or haste landing on a target's clock.
func ModifierApplied(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, target logging.EntityRef, payload ModifierAppliedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventModifierApplied,
		Step:     step,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTimeline,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ActorBlinked publishes a completed blink request.
func ActorBlinked(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload ActorBlinkedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventActorBlinked,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTimeline,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
