package simulation

import (
	"context"

	"ebb-and-flow/server/logging"
)

const (
	// EventStepBudgetOverrun is emitted when one update of the loop exceeds
	// its fixed-timestep budget.
	EventStepBudgetOverrun logging.EventType = "simulation.step_budget_overrun"
	// EventStepBudgetAlarm is emitted when sustained overruns force a
	// keyframe resynchronisation.
	EventStepBudgetAlarm logging.EventType = "simulation.step_budget_alarm"
	// EventJournalResync is emitted when the journal lost enough patches to
	// schedule a keyframe resynchronisation.
	EventJournalResync logging.EventType = "simulation.journal_resync"
)

// StepBudgetOverrunPayload captures timing details for a budget breach.
type StepBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// StepBudgetOverrun publishes a warning when an update exceeds the budget.
func StepBudgetOverrun(ctx context.Context, pub logging.Publisher, step int64, payload StepBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStepBudgetOverrun,
		Step:     step,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// StepBudgetAlarmPayload captures details when overruns escalate into a
// forced keyframe resynchronisation.
type StepBudgetAlarmPayload struct {
	DurationMillis  int64   `json:"durationMillis"`
	BudgetMillis    int64   `json:"budgetMillis"`
	Ratio           float64 `json:"ratio"`
	Streak          uint64  `json:"streak"`
	ResyncScheduled bool    `json:"resyncScheduled"`
	ThresholdRatio  float64 `json:"thresholdRatio"`
	ThresholdStreak uint64  `json:"thresholdStreak"`
}

// StepBudgetAlarm publishes an error event when sustained overruns schedule
// a keyframe resynchronisation.
func StepBudgetAlarm(ctx context.Context, pub logging.Publisher, step int64, payload StepBudgetAlarmPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStepBudgetAlarm,
		Step:     step,
		Severity: logging.SeverityError,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// JournalResyncPayload captures the loss pattern that scheduled a keyframe.
type JournalResyncPayload struct {
	LostActors   uint64   `json:"lostActors"`
	TotalPatches uint64   `json:"totalPatches"`
	Reasons      []string `json:"reasons,omitempty"`
}

// JournalResync publishes a warning when dropped patches force a keyframe.
func JournalResync(ctx context.Context, pub logging.Publisher, step int64, payload JournalResyncPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventJournalResync,
		Step:     step,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
