// Package zone — scenarios_test.go
//
// End-to-end scenarios driven through Observe with real window feeding.
//
// Test coverage:
//   - clean ramp to CRITICAL with exact alert timestamps
//   - recovery down to NORMAL on the inclusive down-thresholds
//   - thrashing suppression (oscillating load, zero alerts)
//   - confirmation reset by a load dip, with the fire time pushed out
//   - out-of-order insertion without a spurious transition
//   - alert chain invariants: states differ, pairs legal, chain links,
//     timestamps non-decreasing
//   - replay determinism: identical input → identical alert sequence

package zone_test

import (
	"testing"

	"github.com/geopulse/geopulse/internal/event"
	"github.com/geopulse/geopulse/internal/zone"
)

// sample builds one well-formed event for the given zone.
func sample(zoneID string, ts int64, load float64) *event.SampleEvent {
	return &event.SampleEvent{
		EventID:        "e",
		ZoneID:         zoneID,
		Latitude:       40.7,
		Longitude:      -74.0,
		Load:           load,
		EventTimestamp: ts,
		ProducedAt:     ts,
	}
}

// feed observes every event and collects the emitted (unsuppressed)
// alerts.
func feed(z *zone.ZoneState, evs []*event.SampleEvent) []*event.Alert {
	var alerts []*event.Alert
	for _, ev := range evs {
		if tr, ok := z.Observe(ev); ok && !tr.Suppressed {
			alerts = append(alerts, z.Alert(tr))
		}
	}
	return alerts
}

// rampEvents returns count events at 1 Hz starting at startTS.
func rampEvents(zoneID string, startTS int64, count int, load float64) []*event.SampleEvent {
	evs := make([]*event.SampleEvent, 0, count)
	for i := 0; i < count; i++ {
		evs = append(evs, sample(zoneID, startTS+int64(i)*1000, load))
	}
	return evs
}

// checkAlertChain enforces the universal alert invariants over one zone's
// alert sequence.
func checkAlertChain(t *testing.T, alerts []*event.Alert) {
	t.Helper()
	legal := map[[2]string]bool{
		{"NORMAL", "STRESSED"}:   true,
		{"STRESSED", "CRITICAL"}: true,
		{"CRITICAL", "STRESSED"}: true,
		{"STRESSED", "NORMAL"}:   true,
	}
	for i, a := range alerts {
		if a.PreviousState == a.CurrentState {
			t.Errorf("alert %d: previous == current (%s)", i, a.CurrentState)
		}
		if !legal[[2]string{a.PreviousState, a.CurrentState}] {
			t.Errorf("alert %d: illegal pair %s→%s", i, a.PreviousState, a.CurrentState)
		}
		if i > 0 {
			if a.PreviousState != alerts[i-1].CurrentState {
				t.Errorf("alert %d: chain break %s after %s",
					i, a.PreviousState, alerts[i-1].CurrentState)
			}
			if a.Timestamp < alerts[i-1].Timestamp {
				t.Errorf("alert %d: timestamp %d before %d",
					i, a.Timestamp, alerts[i-1].Timestamp)
			}
		}
	}
}

func TestScenario_CleanRampToCritical(t *testing.T) {
	z := zone.NewZoneState("Z-1")
	alerts := feed(z, rampEvents("Z-1", 1_000_000, 400, 0.95))

	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2: %+v", len(alerts), alerts)
	}
	checkAlertChain(t, alerts)

	if alerts[0].PreviousState != "NORMAL" || alerts[0].CurrentState != "STRESSED" {
		t.Errorf("alert 0 = %s→%s, want NORMAL→STRESSED",
			alerts[0].PreviousState, alerts[0].CurrentState)
	}
	if alerts[0].Timestamp != 1_060_000 {
		t.Errorf("alert 0 timestamp = %d, want 1060000", alerts[0].Timestamp)
	}
	if alerts[0].Avg5m < 0.94 {
		t.Errorf("alert 0 avg5m = %f, want ≈0.95", alerts[0].Avg5m)
	}

	if alerts[1].PreviousState != "STRESSED" || alerts[1].CurrentState != "CRITICAL" {
		t.Errorf("alert 1 = %s→%s, want STRESSED→CRITICAL",
			alerts[1].PreviousState, alerts[1].CurrentState)
	}
	if alerts[1].Timestamp != 1_080_000 {
		t.Errorf("alert 1 timestamp = %d, want 1080000", alerts[1].Timestamp)
	}
	if alerts[1].Avg1m < 0.94 {
		t.Errorf("alert 1 avg1m = %f, want 0.95", alerts[1].Avg1m)
	}

	if z.Current() != zone.StateCritical {
		t.Errorf("final state = %s, want CRITICAL", z.Current())
	}
}

func TestScenario_Recovery(t *testing.T) {
	z := zone.NewZoneState("Z-1")
	evs := rampEvents("Z-1", 1_000_000, 400, 0.95)
	evs = append(evs, rampEvents("Z-1", 1_400_000, 300, 0.10)...)
	alerts := feed(z, evs)

	if len(alerts) != 4 {
		t.Fatalf("alerts = %d, want 4: %+v", len(alerts), alerts)
	}
	checkAlertChain(t, alerts)

	// First low event where avg5m ≤ 0.80: 53 low samples have displaced
	// 53 of the 300 high samples → (247·0.95 + 53·0.10)/300 = 0.799833.
	down := alerts[2]
	if down.PreviousState != "CRITICAL" || down.CurrentState != "STRESSED" {
		t.Errorf("alert 2 = %s→%s, want CRITICAL→STRESSED",
			down.PreviousState, down.CurrentState)
	}
	if down.Timestamp != 1_452_000 {
		t.Errorf("alert 2 timestamp = %d, want 1452000", down.Timestamp)
	}
	if down.Avg5m > 0.80 {
		t.Errorf("alert 2 avg5m = %f, must be ≤ 0.80", down.Avg5m)
	}

	// First subsequent event where avg5m ≤ 0.65:
	// (194·0.95 + 106·0.10)/300 = 0.649667.
	normal := alerts[3]
	if normal.PreviousState != "STRESSED" || normal.CurrentState != "NORMAL" {
		t.Errorf("alert 3 = %s→%s, want STRESSED→NORMAL",
			normal.PreviousState, normal.CurrentState)
	}
	if normal.Timestamp != 1_505_000 {
		t.Errorf("alert 3 timestamp = %d, want 1505000", normal.Timestamp)
	}
	if normal.Avg5m > 0.65 {
		t.Errorf("alert 3 avg5m = %f, must be ≤ 0.65", normal.Avg5m)
	}

	if z.Current() != zone.StateNormal {
		t.Errorf("final state = %s, want NORMAL", z.Current())
	}
}

func TestScenario_ThrashingSuppression(t *testing.T) {
	z := zone.NewZoneState("Z-1")
	evs := make([]*event.SampleEvent, 0, 120)
	for i := 0; i < 120; i++ {
		load := 0.80
		if i%2 == 1 {
			load = 0.00
		}
		evs = append(evs, sample("Z-1", 1_000_000+int64(i)*1000, load))
	}
	alerts := feed(z, evs)

	if len(alerts) != 0 {
		t.Fatalf("alerts = %d, want 0: %+v", len(alerts), alerts)
	}
	if z.Current() != zone.StateNormal {
		t.Errorf("final state = %s, want NORMAL", z.Current())
	}
}

func TestScenario_ConfirmationReset(t *testing.T) {
	z := zone.NewZoneState("Z-1")

	// 30 s of 0.80 arms the stressed timer at 1 000 000. Three zero-load
	// events then pull avg5m under 0.75 (24/33 ≈ 0.727), resetting it.
	evs := rampEvents("Z-1", 1_000_000, 30, 0.80)
	evs = append(evs, rampEvents("Z-1", 1_030_000, 3, 0.00)...)
	// High load resumes; avg5m re-crosses 0.75 at the event where
	// 0.8(i−2)/(i+1) ≥ 0.75, i.e. second 47 → re-armed at 1 047 000.
	evs = append(evs, rampEvents("Z-1", 1_033_000, 120, 0.80)...)

	alerts := feed(z, evs)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1: %+v", len(alerts), alerts)
	}
	if got := alerts[0].Timestamp; got != 1_107_000 {
		t.Errorf("NORMAL→STRESSED at %d, want 1107000 (60 s after the reset re-arm)", got)
	}
	// In particular it must NOT fire 60 s after the original arming.
	if alerts[0].Timestamp <= 1_060_000 {
		t.Error("transition fired off the pre-reset timer")
	}
}

func TestScenario_OutOfOrderInsertion(t *testing.T) {
	z := zone.NewZoneState("Z-1")
	evs := rampEvents("Z-1", 1_000_000, 60, 0.95)
	// One event 30 s older than the newest, zero load.
	evs = append(evs, sample("Z-1", 1_029_000, 0.00))

	alerts := feed(z, evs)
	if len(alerts) != 0 {
		t.Fatalf("alerts = %d, want 0: %+v", len(alerts), alerts)
	}

	// The old event landed in its own second's bucket: both windows now
	// average 57/61 ≈ 0.934 — dropped slightly, still above the
	// up-threshold.
	a1, a5 := z.Averages()
	want := 57.0 / 61.0
	if diff := a1 - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg1m = %f, want %f", a1, want)
	}
	if diff := a5 - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg5m = %f, want %f", a5, want)
	}

	// The stream resumes and the confirmation completes on schedule.
	tr, ok := z.Observe(sample("Z-1", 1_060_000, 0.95))
	if !ok || tr.To != zone.StateStressed {
		t.Fatalf("expected NORMAL→STRESSED at 1060000, got ok=%v tr=%+v", ok, tr)
	}
}

func TestScenario_ReplayDeterminism(t *testing.T) {
	evs := rampEvents("Z-1", 1_000_000, 400, 0.95)
	evs = append(evs, rampEvents("Z-1", 1_400_000, 300, 0.10)...)
	evs = append(evs, rampEvents("Z-1", 1_700_000, 100, 0.80)...)

	run := func() []*event.Alert {
		return feed(zone.NewZoneState("Z-1"), evs)
	}
	first := run()
	second := run()

	if len(first) != len(second) {
		t.Fatalf("replay produced %d alerts, first run %d", len(second), len(first))
	}
	for i := range first {
		if *first[i] != *second[i] {
			t.Errorf("alert %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
	checkAlertChain(t, first)
}
