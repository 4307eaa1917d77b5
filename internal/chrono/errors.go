package chrono

import "errors"

// Configuration errors are returned at construction and registration time.
// Runtime anomalies during promotion never surface as errors; they resolve to
// boolean results so a promote can always run to completion.
var (
	// ErrDuplicateObject reports a second object registered under a name a
	// timeline already holds.
	ErrDuplicateObject = errors.New("chrono: duplicate object name")
	// ErrUnknownObject reports a lookup for an object the timeline does
	// not hold.
	ErrUnknownObject = errors.New("chrono: unknown object")
	// ErrDuplicateTimeline reports a second timeline registered under a
	// name the sphere already holds.
	ErrDuplicateTimeline = errors.New("chrono: duplicate timeline name")
	// ErrUnknownTimeline reports a switch to a timeline the sphere does
	// not hold.
	ErrUnknownTimeline = errors.New("chrono: unknown timeline")
	// ErrNoWaypoints reports a waypoint animatronic built from an empty
	// waypoint list.
	ErrNoWaypoints = errors.New("chrono: waypoint animatronic needs at least one waypoint")
	// ErrModifierRange reports a time modifier whose finish precedes its
	// start.
	ErrModifierRange = errors.New("chrono: modifier finish precedes start")
	// ErrModifierRate reports a haste modifier with a rate at or below 1.
	ErrModifierRate = errors.New("chrono: haste rate must exceed 1")
)
