// Package zone — zone.go
//
// Per-zone processing state: the two sliding windows, the state machine
// fields, and the alert emission guard.
//
// Lifecycle: a ZoneState is created lazily by the owning worker on the
// first event for its zone, starts in NORMAL with both timers unarmed, and
// lives until process exit. It is mutated exclusively by that worker.

package zone

import (
	"github.com/geopulse/geopulse/internal/event"
	"github.com/geopulse/geopulse/internal/window"
)

// Window sizes in seconds for the two per-zone aggregations.
const (
	Window1mSeconds = 60
	Window5mSeconds = 300
)

// Coord is the last observed (latitude, longitude) for a zone.
type Coord struct {
	Latitude  float64
	Longitude float64
}

// ZoneState holds everything the processor tracks for one zone.
type ZoneState struct {
	zoneID string
	state  State

	w1m *window.Window
	w5m *window.Window

	// Confirmation timers, eventTimestamp ms; tsUnset when unarmed.
	stressedSince int64
	criticalSince int64

	// lastAlertTs is the eventTimestamp of the last emitted alert;
	// tsUnset before the first one.
	lastAlertTs int64

	// lastCoord tracks the most recent coordinates; valid once hasCoord.
	lastCoord Coord
	hasCoord  bool
}

// NewZoneState creates the state for a zone in NORMAL with empty windows.
func NewZoneState(zoneID string) *ZoneState {
	return &ZoneState{
		zoneID:        zoneID,
		state:         StateNormal,
		w1m:           window.New(Window1mSeconds),
		w5m:           window.New(Window5mSeconds),
		stressedSince: tsUnset,
		criticalSince: tsUnset,
		lastAlertTs:   tsUnset,
	}
}

// ZoneID returns the zone this state belongs to.
func (z *ZoneState) ZoneID() string { return z.zoneID }

// Current returns the current operational state.
func (z *ZoneState) Current() State { return z.state }

// Averages returns the current 1-minute and 5-minute load averages.
func (z *ZoneState) Averages() (avg1m, avg5m float64) {
	return z.w1m.Average(), z.w5m.Average()
}

// LastCoord returns the most recently observed coordinates and whether any
// event has been seen yet.
func (z *ZoneState) LastCoord() (Coord, bool) { return z.lastCoord, z.hasCoord }

// Observe feeds one sample through the windows and the state machine.
// Returns the fired transition, if any. A non-nil transition with
// Suppressed=true changed the state but must not produce an alert.
func (z *ZoneState) Observe(ev *event.SampleEvent) (*Transition, bool) {
	z.w1m.Add(ev.EventTimestamp, ev.Load)
	z.w5m.Add(ev.EventTimestamp, ev.Load)
	z.lastCoord = Coord{Latitude: ev.Latitude, Longitude: ev.Longitude}
	z.hasCoord = true

	return z.Advance(ev.EventTimestamp, z.w1m.Average(), z.w5m.Average())
}

// Advance runs one state-machine step at event time t with externally
// supplied averages, applying the alert-dedup guard. Observe is the normal
// entry point; Advance exists so exact averages can be driven directly.
func (z *ZoneState) Advance(t int64, a1, a5 float64) (*Transition, bool) {
	from, fired := z.advance(t, a1, a5)
	if !fired {
		return nil, false
	}

	tr := &Transition{
		From:      from,
		To:        z.state,
		Timestamp: t,
		Avg1m:     a1,
		Avg5m:     a5,
	}
	if z.lastAlertTs != tsUnset && t-z.lastAlertTs <= AlertDedupMS {
		tr.Suppressed = true
		return tr, true
	}
	z.lastAlertTs = t
	return tr, true
}

// Alert materialises the egress payload for a fired transition.
func (z *ZoneState) Alert(tr *Transition) *event.Alert {
	return &event.Alert{
		ZoneID:        z.zoneID,
		PreviousState: tr.From.String(),
		CurrentState:  tr.To.String(),
		Avg1m:         tr.Avg1m,
		Avg5m:         tr.Avg5m,
		Timestamp:     tr.Timestamp,
	}
}
