// Package dispatch — dispatcher.go
//
// Hash-sharded per-zone event processing.
//
// Architecture:
//
//	[Ingress loop]
//	      ↓  Dispatch() — FNV-1a(zoneId) mod N
//	[Worker goroutines (N), one bounded queue each]
//	      ↓  serial per worker, therefore serial per zone
//	[Windows → State machine → Emitter side effects]
//	      ↓
//	[OffsetTracker.Done → commit watermark]
//
// Ordering: a zone always hashes to the same worker and a worker drains
// its queue serially, so per-zone processing order equals per-partition
// arrival order. Two events of one zone are never in flight concurrently.
//
// Backpressure: a full worker queue blocks Dispatch() (and with it the
// ingress fetch loop). Events are never dropped or reordered here —
// dropping is the ingress decode layer's business, and only for malformed
// payloads.
//
// Emitter side effects run inside the worker, in order: alert publish,
// journal append, materialized-state upsert. The in-memory state is
// already updated when they run, so concurrent readers of zone state see
// the new value first. All three are non-blocking for offset progress:
// failures are logged and counted, never retried here.

package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geopulse/geopulse/internal/egress"
	"github.com/geopulse/geopulse/internal/event"
	"github.com/geopulse/geopulse/internal/observability"
	"github.com/geopulse/geopulse/internal/store"
	"github.com/geopulse/geopulse/internal/zone"
)

// StateWriter is the materialized-store capability the workers need.
type StateWriter interface {
	Upsert(ctx context.Context, rec *store.ZoneRecord) error
}

// AlertJournal is the local journal capability. May be nil (disabled).
type AlertJournal interface {
	Append(a *event.Alert) error
}

// Envelope carries one decoded event with its ingress position.
type Envelope struct {
	Event     *event.SampleEvent
	Partition int
	Offset    int64
}

// Config sizes the dispatcher.
type Config struct {
	// Workers is the number of worker goroutines (static zone shards).
	Workers int

	// QueueSize is the per-worker queue capacity.
	QueueSize int
}

// Deps are the emitter collaborators injected into the workers.
type Deps struct {
	Alerts  egress.Sink
	Store   StateWriter
	Journal AlertJournal
	Metrics *observability.Metrics
	Log     *zap.Logger
}

// Dispatcher routes events to per-zone workers and tracks completion.
type Dispatcher struct {
	workers []*worker
	tracker *OffsetTracker
	deps    Deps
	wg      sync.WaitGroup
}

// New creates a Dispatcher with cfg.Workers workers. Start must be called
// before Dispatch.
func New(cfg Config, tracker *OffsetTracker, deps Deps) *Dispatcher {
	d := &Dispatcher{
		tracker: tracker,
		deps:    deps,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workers = append(d.workers, &worker{
			id:     i,
			queue:  make(chan Envelope, cfg.QueueSize),
			states: make(map[string]*zone.ZoneState),
			disp:   d,
		})
	}
	return d
}

// Start launches the worker goroutines. ctx bounds the side-effect calls,
// not the queue drain: workers run until Stop closes their queues, so an
// in-flight event always reaches a quiescent point.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w *worker) {
			defer d.wg.Done()
			w.run(ctx)
		}(w)
	}
}

// Dispatch routes one envelope to its zone's worker, blocking while the
// worker's queue is full. Returns ctx.Err() if cancelled while blocked.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	w := d.workers[shard(env.Event.ZoneID, len(d.workers))]
	select {
	case w.queue <- env:
		d.updateQueueDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes all worker queues and waits for the in-flight drain.
func (d *Dispatcher) Stop() {
	for _, w := range d.workers {
		close(w.queue)
	}
	d.wg.Wait()
}

// Tracker exposes the offset tracker shared with the ingress loop.
func (d *Dispatcher) Tracker() *OffsetTracker {
	return d.tracker
}

// updateQueueDepth refreshes the summed queue-depth gauge.
func (d *Dispatcher) updateQueueDepth() {
	var depth int
	for _, w := range d.workers {
		depth += len(w.queue)
	}
	d.deps.Metrics.WorkerQueueDepth.Set(float64(depth))
}

// shard maps a zoneId to a worker index via FNV-1a.
func shard(zoneID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(zoneID))
	return int(h.Sum32() % uint32(n))
}

// worker owns a disjoint subset of zones and processes them serially.
type worker struct {
	id     int
	queue  chan Envelope
	states map[string]*zone.ZoneState
	disp   *Dispatcher
}

// run drains the queue until it is closed. Cancellation of ctx does not
// abandon the current event; it only shortens its side-effect calls.
func (w *worker) run(ctx context.Context) {
	for env := range w.queue {
		w.process(ctx, env)
		w.disp.tracker.Done(env.Partition, env.Offset)
		w.disp.updateQueueDepth()
	}
}

// process feeds one event through the zone state and, on a fired
// transition, runs the emitter sequence.
func (w *worker) process(ctx context.Context, env Envelope) {
	deps := w.disp.deps
	ev := env.Event

	zs, ok := w.states[ev.ZoneID]
	if !ok {
		zs = zone.NewZoneState(ev.ZoneID)
		w.states[ev.ZoneID] = zs
		deps.Metrics.TrackedZones.Inc()
	}

	tr, fired := zs.Observe(ev)
	deps.Metrics.EventsProcessedTotal.Inc()
	if !fired {
		return
	}

	deps.Metrics.StateTransitionsTotal.WithLabelValues(
		tr.From.String(), tr.To.String()).Inc()
	deps.Log.Info("zone state changed",
		zap.String("zone_id", ev.ZoneID),
		zap.String("from", tr.From.String()),
		zap.String("to", tr.To.String()),
		zap.Int64("event_ts", tr.Timestamp),
		zap.Float64("avg_1m", tr.Avg1m),
		zap.Float64("avg_5m", tr.Avg5m),
	)

	if tr.Suppressed {
		// The state changed but the alert is deduped; the materialized
		// record below still reflects the new state.
		deps.Metrics.AlertsSuppressedTotal.Inc()
		deps.Log.Debug("alert suppressed by dedup guard",
			zap.String("zone_id", ev.ZoneID),
			zap.Int64("event_ts", tr.Timestamp))
	} else {
		alert := zs.Alert(tr)

		// 1. Publish to the egress topic. No retry here; the transport
		// owns delivery.
		start := time.Now()
		if err := deps.Alerts.Publish(ctx, alert); err != nil {
			deps.Metrics.AlertPublishFailuresTotal.Inc()
			deps.Log.Error("alert publish failed",
				zap.String("zone_id", ev.ZoneID), zap.Error(err))
		} else {
			deps.Metrics.AlertsPublishedTotal.Inc()
			deps.Metrics.AlertPublishLatency.Observe(time.Since(start).Seconds())
		}

		// 2. Local journal, best-effort.
		if deps.Journal != nil {
			if err := deps.Journal.Append(alert); err != nil {
				deps.Metrics.JournalWritesTotal.WithLabelValues("error").Inc()
				deps.Log.Error("journal append failed",
					zap.String("zone_id", ev.ZoneID), zap.Error(err))
			} else {
				deps.Metrics.JournalWritesTotal.WithLabelValues("ok").Inc()
			}
		}
	}

	// 3. Materialized state + geo index, best-effort; the next transition
	// rewrites the record.
	coord, _ := zs.LastCoord()
	rec := &store.ZoneRecord{
		ZoneID:      ev.ZoneID,
		State:       tr.To.String(),
		Avg1m:       tr.Avg1m,
		Avg5m:       tr.Avg5m,
		Latitude:    coord.Latitude,
		Longitude:   coord.Longitude,
		LastUpdated: tr.Timestamp,
	}
	switch err := deps.Store.Upsert(ctx, rec); {
	case err == nil:
		deps.Metrics.StoreWritesTotal.WithLabelValues("ok").Inc()
	case store.IsOpenCircuit(err):
		deps.Metrics.StoreWritesTotal.WithLabelValues("open_circuit").Inc()
		deps.Log.Warn("materialized store circuit open",
			zap.String("zone_id", ev.ZoneID))
	default:
		deps.Metrics.StoreWritesTotal.WithLabelValues("error").Inc()
		deps.Log.Error("materialized store write failed",
			zap.String("zone_id", ev.ZoneID), zap.Error(err))
	}
}
