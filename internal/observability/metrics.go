// Package observability — metrics.go
//
// Prometheus metrics for the GeoPulse processor.
//
// Endpoint: GET /metrics on :9090 (configurable). A /healthz endpoint on
// the same listener answers liveness probes.
//
// Metric naming convention: geopulse_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - State labels use the three state names.
//   - zoneId is NOT a label (unbounded cardinality); per-zone detail lives
//     in the materialized store, not in metrics.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for GeoPulse.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ingress ─────────────────────────────────────────────────────────────

	// EventsProcessedTotal counts samples fully processed (windows fed,
	// state machine evaluated, side effects attempted).
	EventsProcessedTotal prometheus.Counter

	// EventsMalformedTotal counts ingress payloads dropped at decode or
	// validation. Their offsets still advance.
	EventsMalformedTotal prometheus.Counter

	// IngressFetchErrorsTotal counts fetch failures before back-off.
	IngressFetchErrorsTotal prometheus.Counter

	// CommitLag is the number of processed-but-uncommitted offsets summed
	// over all partitions.
	CommitLag prometheus.Gauge

	// ─── Processing ──────────────────────────────────────────────────────────

	// StateTransitionsTotal counts fired transitions. Labels: from, to.
	StateTransitionsTotal *prometheus.CounterVec

	// AlertsSuppressedTotal counts transitions whose alert was swallowed
	// by the event-time dedup guard.
	AlertsSuppressedTotal prometheus.Counter

	// TrackedZones is the number of zones with live in-memory state.
	TrackedZones prometheus.Gauge

	// WorkerQueueDepth is the summed depth of all worker queues.
	WorkerQueueDepth prometheus.Gauge

	// ─── Egress ──────────────────────────────────────────────────────────────

	// AlertsPublishedTotal counts alerts successfully handed to the egress
	// transport.
	AlertsPublishedTotal prometheus.Counter

	// AlertPublishFailuresTotal counts egress publish errors. These are
	// logged and skipped; the transport layer owns retries.
	AlertPublishFailuresTotal prometheus.Counter

	// AlertPublishLatency records egress publish latency.
	AlertPublishLatency prometheus.Histogram

	// ─── Stores ──────────────────────────────────────────────────────────────

	// StoreWritesTotal counts materialized-state upserts. Labels: outcome
	// (ok, error, open_circuit).
	StoreWritesTotal *prometheus.CounterVec

	// JournalWritesTotal counts local journal appends. Labels: outcome.
	JournalWritesTotal *prometheus.CounterVec

	// ─── Process ─────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since process start.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all GeoPulse Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total sample events fully processed.",
		}),

		EventsMalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "events",
			Name:      "malformed_total",
			Help:      "Total ingress payloads dropped at decode or validation.",
		}),

		IngressFetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "ingress",
			Name:      "fetch_errors_total",
			Help:      "Total ingress fetch failures (each triggers back-off).",
		}),

		CommitLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geopulse",
			Subsystem: "ingress",
			Name:      "commit_lag",
			Help:      "Processed-but-uncommitted offsets summed over partitions.",
		}),

		StateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "state",
			Name:      "transitions_total",
			Help:      "Total fired state transitions, by from and to state.",
		}, []string{"from", "to"}),

		AlertsSuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "state",
			Name:      "alerts_suppressed_total",
			Help:      "Transitions whose alert the event-time dedup guard swallowed.",
		}),

		TrackedZones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geopulse",
			Subsystem: "state",
			Name:      "tracked_zones",
			Help:      "Zones with live in-memory state.",
		}),

		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geopulse",
			Subsystem: "dispatch",
			Name:      "worker_queue_depth",
			Help:      "Summed depth of all worker queues.",
		}),

		AlertsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "egress",
			Name:      "alerts_published_total",
			Help:      "Alerts successfully handed to the egress transport.",
		}),

		AlertPublishFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "egress",
			Name:      "alert_publish_failures_total",
			Help:      "Egress publish errors (logged and skipped).",
		}),

		AlertPublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geopulse",
			Subsystem: "egress",
			Name:      "alert_publish_latency_seconds",
			Help:      "Egress publish latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		StoreWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Materialized-state upserts, by outcome.",
		}, []string{"outcome"}),

		JournalWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geopulse",
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Local alert journal appends, by outcome.",
		}, []string{"outcome"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geopulse",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since process start.",
		}),
	}

	reg.MustRegister(
		m.EventsProcessedTotal,
		m.EventsMalformedTotal,
		m.IngressFetchErrorsTotal,
		m.CommitLag,
		m.StateTransitionsTotal,
		m.AlertsSuppressedTotal,
		m.TrackedZones,
		m.WorkerQueueDepth,
		m.AlertsPublishedTotal,
		m.AlertPublishFailuresTotal,
		m.AlertPublishLatency,
		m.StoreWritesTotal,
		m.JournalWritesTotal,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP server on the given address.
// Blocks until ctx is cancelled or the server fails. Serves GET /metrics
// and GET /healthz.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically refreshes the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
