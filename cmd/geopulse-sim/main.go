// Package main — cmd/geopulse-sim/main.go
//
// GeoPulse synthetic sample producer.
//
// Purpose: drive a local processor against a real broker without sensor
// hardware. Produces keyed JSON SampleEvents onto the ingress topic for a
// configurable set of zones, at a configurable rate, with one of three
// load profiles:
//
//	steady    — every event carries -load.
//	ramp      — -load for -ramp-seconds of event time, then -load-low.
//	oscillate — load alternates between -load and -load-low per event.
//
// Event time is synthetic and self-paced: the first event carries
// -start-ts and each subsequent event per zone advances by the emission
// period, so the processor's event-time windows behave identically
// whether the producer runs in real time or flat out with -fast.
//
// Usage:
//   geopulse-sim -zones 4 -rate 1 -load 0.95 -duration 400s
//   geopulse-sim -profile ramp -ramp-seconds 400 -duration 700s -load 0.95 -load-low 0.10

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/geopulse/geopulse/internal/event"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	broker := flag.String("broker", "localhost:9092", "Kafka bootstrap broker")
	topic := flag.String("topic", "raw.zone.events", "Ingress topic")
	zones := flag.Int("zones", 4, "Number of zones to simulate")
	rate := flag.Float64("rate", 1.0, "Events per second per zone")
	duration := flag.Duration("duration", 400*time.Second, "Simulated event-time span")
	profile := flag.String("profile", "steady", "Load profile: steady, ramp, oscillate")
	load := flag.Float64("load", 0.95, "Primary load value in [0,1]")
	loadLow := flag.Float64("load-low", 0.10, "Secondary load value in [0,1]")
	rampSeconds := flag.Int("ramp-seconds", 400, "Seconds of primary load before switching (ramp profile)")
	startTS := flag.Int64("start-ts", 1_000_000, "First eventTimestamp, ms since epoch")
	fast := flag.Bool("fast", false, "Produce flat out instead of pacing to -rate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for coordinates")
	flag.Parse()

	if *load < 0 || *load > 1 || *loadLow < 0 || *loadLow > 1 {
		fmt.Fprintln(os.Stderr, "ERROR: load values must be in [0, 1]")
		os.Exit(1)
	}
	if *rate <= 0 {
		fmt.Fprintln(os.Stderr, "ERROR: rate must be > 0")
		os.Exit(1)
	}
	switch *profile {
	case "steady", "ramp", "oscillate":
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown profile %q\n", *profile)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(*broker),
		Topic:        *topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	defer writer.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Fixed per-zone coordinates for the whole run.
	type zoneMeta struct {
		id       string
		lat, lon float64
	}
	metas := make([]zoneMeta, *zones)
	for i := range metas {
		metas[i] = zoneMeta{
			id:  fmt.Sprintf("Z-%d", i+1),
			lat: 40.0 + rng.Float64(),
			lon: -74.0 + rng.Float64(),
		}
	}

	periodMS := int64(1000.0 / *rate)
	steps := int(duration.Milliseconds() / periodMS)
	var produced int

	fmt.Fprintf(os.Stderr, "producing %d events x %d zones to %s (%s profile)\n",
		steps, *zones, *topic, *profile)

	for i := 0; i < steps; i++ {
		if ctx.Err() != nil {
			break
		}
		ts := *startTS + int64(i)*periodMS

		var l float64
		switch *profile {
		case "steady":
			l = *load
		case "ramp":
			if int64(i)*periodMS < int64(*rampSeconds)*1000 {
				l = *load
			} else {
				l = *loadLow
			}
		case "oscillate":
			if i%2 == 0 {
				l = *load
			} else {
				l = *loadLow
			}
		}

		msgs := make([]kafka.Message, 0, len(metas))
		for _, zm := range metas {
			ev := event.SampleEvent{
				EventID:        fmt.Sprintf("%s-%d", zm.id, i),
				ZoneID:         zm.id,
				Latitude:       zm.lat,
				Longitude:      zm.lon,
				Load:           l,
				EventTimestamp: ts,
				ProducedAt:     time.Now().UnixMilli(),
			}
			payload, err := ev.Encode()
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: encode: %v\n", err)
				os.Exit(1)
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(zm.id),
				Value: payload,
			})
		}

		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "ERROR: write: %v\n", err)
			os.Exit(1)
		}
		produced += len(msgs)

		if !*fast {
			select {
			case <-time.After(time.Duration(periodMS) * time.Millisecond):
			case <-ctx.Done():
			}
		}
	}

	fmt.Fprintf(os.Stderr, "done: %d events produced\n", produced)
}
