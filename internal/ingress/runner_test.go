// Package ingress — runner_test.go
//
// Tests for the fetch → decode → dispatch → commit loop against an
// in-memory Source.
//
// Test coverage:
//   - valid events flow through to the dispatcher and their offsets
//     commit after the drain
//   - malformed payloads are dropped without damming the watermark
//   - the final commit covers the whole stream (at-least-once, no gaps)

package ingress_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geopulse/geopulse/internal/dispatch"
	"github.com/geopulse/geopulse/internal/event"
	"github.com/geopulse/geopulse/internal/ingress"
	"github.com/geopulse/geopulse/internal/observability"
	"github.com/geopulse/geopulse/internal/store"
)

// fakeSource serves a fixed message slice, then blocks until cancelled.
type fakeSource struct {
	mu        sync.Mutex
	msgs      []ingress.Message
	next      int
	committed map[int]int64
}

func newFakeSource(msgs []ingress.Message) *fakeSource {
	return &fakeSource{msgs: msgs, committed: make(map[int]int64)}
}

func (s *fakeSource) Fetch(ctx context.Context) (ingress.Message, error) {
	s.mu.Lock()
	if s.next < len(s.msgs) {
		m := s.msgs[s.next]
		s.next++
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return ingress.Message{}, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, targets ...ingress.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		if t.Offset > s.committed[t.Partition] {
			s.committed[t.Partition] = t.Offset
		}
	}
	return nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) committedOffset(partition int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed[partition]
}

// nullSink drops alerts.
type nullSink struct{}

func (nullSink) Publish(context.Context, *event.Alert) error { return nil }

// nullStore drops upserts.
type nullStore struct{}

func (nullStore) Upsert(context.Context, *store.ZoneRecord) error { return nil }

func encoded(t *testing.T, zoneID string, ts int64, load float64) []byte {
	t.Helper()
	ev := event.SampleEvent{
		EventID:        "e",
		ZoneID:         zoneID,
		Latitude:       1,
		Longitude:      2,
		Load:           load,
		EventTimestamp: ts,
		ProducedAt:     ts,
	}
	b, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestRunner_CommitsWatermarkAfterDrain(t *testing.T) {
	var msgs []ingress.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, ingress.Message{
			Topic:     "raw.zone.events",
			Partition: 0,
			Offset:    int64(i),
			Value:     encoded(t, "Z-1", 1_000_000+int64(i)*1000, 0.5),
		})
	}
	// A malformed payload mid-stream must not dam the watermark.
	msgs[7].Value = []byte(`{"zoneId": 12}`)

	src := newFakeSource(msgs)
	tracker := dispatch.NewOffsetTracker("raw.zone.events")
	metrics := observability.NewMetrics()
	d := dispatch.New(dispatch.Config{Workers: 2, QueueSize: 16}, tracker, dispatch.Deps{
		Alerts:  nullSink{},
		Store:   nullStore{},
		Metrics: metrics,
		Log:     zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	runner := ingress.NewRunner(src, d, metrics, zap.NewNop(), 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()

	// Give the loop time to pull everything through, then shut down the
	// way main does: stop fetching, drain, final commit.
	deadline := time.Now().Add(5 * time.Second)
	for src.committedOffset(0) < 19 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	d.Stop()
	runner.Drain(time.Second)

	if got := src.committedOffset(0); got != 19 {
		t.Fatalf("committed offset = %d, want 19", got)
	}
}
