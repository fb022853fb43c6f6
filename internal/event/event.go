// Package event — event.go
//
// Wire types for the GeoPulse stream processor.
//
// Two payloads cross the process boundary:
//
//	SampleEvent — consumed from the ingress topic (raw.zone.events).
//	              JSON, keyed by zone_id on the Kafka side.
//	Alert       — produced to the egress topic (zone.alerts).
//	              JSON, keyed by zone_id so per-zone order survives.
//
// Decoding policy:
//   - A payload that fails to unmarshal, or that unmarshals but violates a
//     field invariant (load out of [0,1], missing ids, non-positive event
//     timestamp, event timestamp ahead of produced_at beyond the skew
//     allowance), is rejected with an error.
//   - The caller drops rejected events, counts them, and keeps the offset
//     moving. A malformed payload never blocks the partition.

package event

import (
	"encoding/json"
	"fmt"
)

// MaxClockSkewMS is the tolerated amount by which an event's own timestamp
// may lead its produced_at stamp. Sensors with mildly skewed clocks pass;
// events "from the future" beyond this are rejected.
const MaxClockSkewMS = 5_000

// SampleEvent is one per-zone load observation from the ingress topic.
type SampleEvent struct {
	// EventID is an opaque unique id assigned by the producer.
	EventID string `json:"eventId"`

	// ZoneID identifies the logical sensor location.
	ZoneID string `json:"zoneId"`

	// Latitude and Longitude are the zone's coordinates as carried on
	// every event. The most recent pair is mirrored into the geo index.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Load is the observed utilisation in [0.0, 1.0].
	Load float64 `json:"load"`

	// EventTimestamp is the sensor observation time, ms since epoch.
	// All window and state-machine arithmetic uses this, never wall time.
	EventTimestamp int64 `json:"eventTimestamp"`

	// ProducedAt is when the producer handed the event to the transport,
	// ms since epoch.
	ProducedAt int64 `json:"producedAt"`
}

// DecodeSample unmarshals and validates a raw ingress payload.
func DecodeSample(b []byte) (*SampleEvent, error) {
	var ev SampleEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("event.DecodeSample: unmarshal: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("event.DecodeSample: %w", err)
	}
	return &ev, nil
}

// Validate checks the field invariants of a decoded sample.
func (ev *SampleEvent) Validate() error {
	switch {
	case ev.EventID == "":
		return fmt.Errorf("missing eventId")
	case ev.ZoneID == "":
		return fmt.Errorf("missing zoneId")
	case ev.Load < 0.0 || ev.Load > 1.0:
		return fmt.Errorf("load %f outside [0.0, 1.0]", ev.Load)
	case ev.EventTimestamp <= 0:
		return fmt.Errorf("non-positive eventTimestamp %d", ev.EventTimestamp)
	case ev.ProducedAt > 0 && ev.EventTimestamp > ev.ProducedAt+MaxClockSkewMS:
		return fmt.Errorf("eventTimestamp %d ahead of producedAt %d beyond %dms skew",
			ev.EventTimestamp, ev.ProducedAt, int64(MaxClockSkewMS))
	}
	return nil
}

// Encode serialises the event for the wire. Used by the sim producer.
func (ev *SampleEvent) Encode() ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event.Encode sample: %w", err)
	}
	return b, nil
}

// Alert is one state-transition notification on the egress topic.
// PreviousState and CurrentState always differ, and the pair is one of the
// four legal transitions of the zone state machine.
type Alert struct {
	ZoneID        string  `json:"zoneId"`
	PreviousState string  `json:"previousState"`
	CurrentState  string  `json:"currentState"`
	Avg1m         float64 `json:"avg1m"`
	Avg5m         float64 `json:"avg5m"`

	// Timestamp is the eventTimestamp of the triggering event, ms since
	// epoch. Downstream consumers deduplicate on
	// (zoneId, timestamp, currentState).
	Timestamp int64 `json:"timestamp"`
}

// Encode serialises the alert for the egress topic.
func (a *Alert) Encode() ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("event.Encode alert: %w", err)
	}
	return b, nil
}

// DecodeAlert unmarshals an egress payload. Used by tests and tooling that
// read the alert topic back.
func DecodeAlert(b []byte) (*Alert, error) {
	var a Alert
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("event.DecodeAlert: unmarshal: %w", err)
	}
	return &a, nil
}
