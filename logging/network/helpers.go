package network

import (
	"context"

	"ebb-and-flow/server/logging"
)

const (
	// EventSubscriberJoined is emitted when a websocket subscriber completes
	// its handshake.
	EventSubscriberJoined logging.EventType = "network.subscriber_joined"
	// EventSubscriberLeft is emitted when a subscriber disconnects or is
	// pruned for staleness.
	EventSubscriberLeft logging.EventType = "network.subscriber_left"
	// EventControlRejected is emitted when a control message fails
	// validation or throttling.
	EventControlRejected logging.EventType = "network.control_rejected"
	// EventHeartbeatTimeout is emitted when a subscriber misses the
	// heartbeat deadline.
	EventHeartbeatTimeout logging.EventType = "network.heartbeat_timeout"
)

// SubscriberPayload captures connection metadata for join and leave events.
type SubscriberPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ControlRejectedPayload captures the refused control and why.
type ControlRejectedPayload struct {
	Control string `json:"control"`
	Reason  string `json:"reason"`
}

// HeartbeatTimeoutPayload captures how stale the subscriber had become.
type HeartbeatTimeoutPayload struct {
	SilentMillis int64 `json:"silentMillis"`
}

// SubscriberJoined publishes a subscriber handshake completion.
func SubscriberJoined(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload SubscriberPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSubscriberJoined,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SubscriberLeft publishes a subscriber departure.
func SubscriberLeft(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload SubscriberPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSubscriberLeft,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ControlRejected publishes a refused control message.
func ControlRejected(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload ControlRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventControlRejected,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// HeartbeatTimeout publishes a stale-subscriber prune.
func HeartbeatTimeout(ctx context.Context, pub logging.Publisher, step int64, actor logging.EntityRef, payload HeartbeatTimeoutPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventHeartbeatTimeout,
		Step:     step,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
