// Package zone — state.go
//
// Hysteretic operational state machine for a single zone.
//
// State transition graph:
//
//	NORMAL ──(avg5m ≥ 0.75 held 60 s)──→ STRESSED ──(avg1m ≥ 0.90 held 20 s)──→ CRITICAL
//	   ↑                                     │  ↑                                    │
//	   └──────(avg5m ≤ 0.65)─────────────────┘  └────────(avg5m ≤ 0.80)─────────────┘
//
// Direct NORMAL → CRITICAL is impossible.
//
// Hysteresis: the down-thresholds (0.80, 0.65) sit below the up-thresholds
// (0.90, 0.75), so an average oscillating between a pair never flaps the
// state. Up-transitions are additionally guarded by confirmation timers:
// the condition must hold continuously for the confirmation duration in
// event time before the transition fires.
//
// All arithmetic uses the incoming event's own timestamp. Given an
// identical ordered event sequence the machine produces an identical
// transition sequence — replays are deterministic.
//
// Concurrency: a ZoneState is owned by exactly one dispatcher worker and
// is never shared, so there is no lock here. The dispatcher guarantees
// serial per-zone processing.

package zone

import "fmt"

// State is the operational state of a zone.
type State uint8

const (
	StateNormal   State = 0
	StateStressed State = 1
	StateCritical State = 2
)

// String returns the wire-format state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateStressed:
		return "STRESSED"
	case StateCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Threshold and confirmation constants. These are fixed by contract with
// the downstream alert consumers; they are deliberately not configurable.
const (
	// ThresholdStressedUp: avg5m at or above this arms the NORMAL→STRESSED timer.
	ThresholdStressedUp = 0.75

	// ThresholdCriticalUp: avg1m at or above this arms the STRESSED→CRITICAL timer.
	ThresholdCriticalUp = 0.90

	// ThresholdCriticalDown: avg5m at or below this drops CRITICAL→STRESSED.
	ThresholdCriticalDown = 0.80

	// ThresholdStressedDown: avg5m at or below this drops STRESSED→NORMAL.
	ThresholdStressedDown = 0.65

	// ConfirmStressedMS is the event-time duration avg5m must hold at or
	// above ThresholdStressedUp before NORMAL→STRESSED fires.
	ConfirmStressedMS = 60_000

	// ConfirmCriticalMS is the event-time duration avg1m must hold at or
	// above ThresholdCriticalUp before STRESSED→CRITICAL fires.
	ConfirmCriticalMS = 20_000

	// AlertDedupMS suppresses a second alert within this much event time of
	// the previous one. It exists to dedupe repeated transitions produced
	// by the same or adjacent timestamps under replay; it is not a rate
	// limit, and it never suppresses the state change itself.
	AlertDedupMS = 1_000
)

// tsUnset marks an unarmed confirmation timer / never-alerted zone.
const tsUnset = int64(-1)

// Transition describes one fired state change.
type Transition struct {
	From State
	To   State

	// Timestamp is the eventTimestamp of the triggering event.
	Timestamp int64

	// Avg1m and Avg5m are the window averages at the moment of firing.
	Avg1m float64
	Avg5m float64

	// Suppressed is true when the alert-dedup guard swallowed the alert.
	// The state change itself still happened.
	Suppressed bool
}

// legalTransitions is the closed set of (from, to) pairs the machine can
// produce. An evaluation arriving anywhere else is a programming error.
var legalTransitions = map[[2]State]bool{
	{StateNormal, StateStressed}:   true,
	{StateStressed, StateCritical}: true,
	{StateCritical, StateStressed}: true,
	{StateStressed, StateNormal}:   true,
}

// advance runs one evaluation step of the pure transition rules against
// the current state and the two averages at event time t. It mutates only
// the state field and the confirmation timers, and reports whether a
// transition fired. The alert-dedup guard is applied by the caller.
func (z *ZoneState) advance(t int64, a1, a5 float64) (from State, fired bool) {
	from = z.state

	switch z.state {
	case StateNormal:
		if a5 >= ThresholdStressedUp {
			if z.stressedSince == tsUnset {
				z.stressedSince = t
			}
			if t-z.stressedSince >= ConfirmStressedMS {
				z.state = StateStressed
				z.stressedSince = tsUnset
				// Arm the critical timer on the same event: if avg1m is
				// already past its threshold, confirmation starts now, not
				// at the next arrival.
				if a1 >= ThresholdCriticalUp {
					z.criticalSince = t
				}
				fired = true
			}
		} else {
			z.stressedSince = tsUnset
		}

	case StateStressed:
		if a1 >= ThresholdCriticalUp {
			if z.criticalSince == tsUnset {
				z.criticalSince = t
			}
			if t-z.criticalSince >= ConfirmCriticalMS {
				z.state = StateCritical
				z.criticalSince = tsUnset
				fired = true
			}
		} else if a5 <= ThresholdStressedDown {
			z.stressedSince = tsUnset
			z.criticalSince = tsUnset
			z.state = StateNormal
			fired = true
		} else {
			z.criticalSince = tsUnset
		}

	case StateCritical:
		if a5 <= ThresholdCriticalDown {
			z.criticalSince = tsUnset
			// Set the stressed timer to t. No transition fires from this
			// on the same event; STRESSED does not read the timer, and
			// STRESSED→NORMAL clears it.
			z.stressedSince = t
			z.state = StateStressed
			fired = true
		}
	}

	if fired && !legalTransitions[[2]State{from, z.state}] {
		panic(fmt.Sprintf("zone: illegal transition %s→%s at t=%d", from, z.state, t))
	}
	return from, fired
}
