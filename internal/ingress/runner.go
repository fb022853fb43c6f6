// Package ingress — runner.go
//
// The fetch → decode → dispatch → commit loop.
//
// At-least-once contract:
//   - A fetched offset is registered with the offset tracker before
//     dispatch.
//   - Workers mark offsets done after their side effects finish; the
//     tracker's contiguous watermark is the only thing ever committed.
//   - Malformed payloads are dropped, counted, and marked done directly
//     so they never dam the watermark.
//   - Commits happen on a timer and once more after the drain on
//     shutdown. A crash between processing and commit re-delivers; the
//     downstream consumers deduplicate on (zoneId, timestamp, state).
//
// Fetch errors back off exponentially between backoffMin and backoffMax;
// a successful fetch resets the delay.

package ingress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/geopulse/geopulse/internal/dispatch"
	"github.com/geopulse/geopulse/internal/event"
	"github.com/geopulse/geopulse/internal/observability"
)

const (
	backoffMin = 250 * time.Millisecond
	backoffMax = 8 * time.Second
)

// Runner drives the ingress loop.
type Runner struct {
	src            Source
	disp           *dispatch.Dispatcher
	metrics        *observability.Metrics
	log            *zap.Logger
	commitInterval time.Duration
}

// NewRunner wires the loop. The dispatcher must already be started.
func NewRunner(
	src Source,
	disp *dispatch.Dispatcher,
	metrics *observability.Metrics,
	log *zap.Logger,
	commitInterval time.Duration,
) *Runner {
	return &Runner{
		src:            src,
		disp:           disp,
		metrics:        metrics,
		log:            log,
		commitInterval: commitInterval,
	}
}

// Run blocks fetching and dispatching until ctx is cancelled, then stops
// fetching and returns. Draining the workers and the final commit belong
// to the caller's shutdown sequence (Drain).
func (r *Runner) Run(ctx context.Context) {
	// Committer runs beside the fetch loop so a quiet topic still gets
	// its watermarks pushed.
	go func() {
		ticker := time.NewTicker(r.commitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.commit(ctx)
			}
		}
	}()

	delay := backoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := r.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.metrics.IngressFetchErrorsTotal.Inc()
			r.log.Warn("ingress fetch failed — backing off",
				zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
			continue
		}
		delay = backoffMin

		tracker := r.disp.Tracker()
		tracker.Observe(msg.Partition, msg.Offset)

		ev, err := event.DecodeSample(msg.Value)
		if err != nil {
			// Malformed payloads never block the partition.
			r.metrics.EventsMalformedTotal.Inc()
			r.log.Warn("dropping malformed sample",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			tracker.Done(msg.Partition, msg.Offset)
			continue
		}

		if err := r.disp.Dispatch(ctx, dispatch.Envelope{
			Event:     ev,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}); err != nil {
			// Cancelled while blocked on a full queue; the event was not
			// enqueued and its offset stays uncommitted for redelivery.
			return
		}
	}
}

// Drain finishes the shutdown: the caller has already cancelled Run's
// context and stopped the dispatcher (draining in-flight events), so all
// that remains is the final watermark commit. Uses its own context since
// the run context is gone.
func (r *Runner) Drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	r.commit(ctx)
}

// commit pushes any advanced watermarks to the broker.
func (r *Runner) commit(ctx context.Context) {
	tracker := r.disp.Tracker()
	targets := tracker.CommitTargets()
	if len(targets) > 0 {
		msgs := make([]Message, 0, len(targets))
		for _, t := range targets {
			msgs = append(msgs, Message{
				Topic:     t.Topic,
				Partition: t.Partition,
				Offset:    t.Offset,
			})
		}
		if err := r.src.Commit(ctx, msgs...); err != nil {
			// Commit failure re-delivers; processing is idempotent
			// downstream, so log and move on.
			r.log.Warn("offset commit failed", zap.Error(err))
		}
	}
	r.metrics.CommitLag.Set(float64(tracker.Lag()))
}
