// Package main — cmd/geopulse/main.go
//
// GeoPulse zone stream processor entrypoint.
//
// Startup sequence:
//  1. Load and validate config (file + GEOPULSE_* environment).
//  2. Initialise structured logger (zap; JSON by default, or console).
//  3. Open the local alert journal and prune stale entries (if enabled).
//  4. Start Prometheus metrics server (:9090).
//  5. Connect the materialized-state store client.
//  6. Create the egress alert producer.
//  7. Start the dispatcher workers.
//  8. Subscribe the ingress consumer group and start the fetch loop.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context — the ingress loop stops fetching.
//  2. Stop the dispatcher: queues close, workers drain in-flight events
//     to a quiescent point, bounded by the shutdown grace deadline.
//  3. Commit the final offset watermarks.
//  4. Close transports and the journal; flush the logger.
//
// Un-acked events at the deadline are re-delivered on the next start; the
// processor re-derives its volatile per-zone state by replay.
//
// On config validation failure: exit 1 immediately.
// A panic in a worker is deliberately not recovered — a corrupted zone
// slot must take the process down for the supervisor to restart.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geopulse/geopulse/internal/config"
	"github.com/geopulse/geopulse/internal/dispatch"
	"github.com/geopulse/geopulse/internal/egress"
	"github.com/geopulse/geopulse/internal/ingress"
	"github.com/geopulse/geopulse/internal/journal"
	"github.com/geopulse/geopulse/internal/observability"
	"github.com/geopulse/geopulse/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("geopulse %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("geopulse starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("ingress_topic", cfg.Kafka.IngressTopic),
		zap.String("egress_topic", cfg.Kafka.EgressTopic),
		zap.String("consumer_group", cfg.Kafka.ConsumerGroup),
		zap.Int("workers", cfg.Processor.WorkerCount),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Alert journal ─────────────────────────────────────────────────
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.DBPath, cfg.Journal.RetentionDays)
		if err != nil {
			log.Fatal("journal open failed", zap.Error(err),
				zap.String("path", cfg.Journal.DBPath))
		}
		defer jnl.Close() //nolint:errcheck

		pruned, err := jnl.PruneOld()
		if err != nil {
			log.Warn("journal pruning failed", zap.Error(err))
		} else {
			log.Info("journal pruned", zap.Int("deleted", pruned))
		}
		go jnl.RunRetention(ctx.Done(), 6*time.Hour, func(deleted int, err error) {
			if err != nil {
				log.Warn("journal retention pass failed", zap.Error(err))
			} else if deleted > 0 {
				log.Info("journal retention pass", zap.Int("deleted", deleted))
			}
		})
	} else {
		log.Info("journal disabled")
	}

	// ── Step 4: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 5: Materialized-state store ─────────────────────────────────────
	st := store.New(store.Options{
		Addr:     cfg.Store.Addr,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	defer st.Close() //nolint:errcheck
	log.Info("materialized store client ready", zap.String("addr", cfg.Store.Addr))

	// ── Step 6: Egress producer ──────────────────────────────────────────────
	producer := egress.New(cfg.Kafka.BrokerAddr, cfg.Kafka.EgressTopic)
	defer producer.Close() //nolint:errcheck

	// ── Step 7: Dispatcher workers ───────────────────────────────────────────
	tracker := dispatch.NewOffsetTracker(cfg.Kafka.IngressTopic)
	var jnlDep dispatch.AlertJournal
	if jnl != nil {
		jnlDep = jnl
	}
	disp := dispatch.New(dispatch.Config{
		Workers:   cfg.Processor.WorkerCount,
		QueueSize: cfg.Processor.QueueSize,
	}, tracker, dispatch.Deps{
		Alerts:  producer,
		Store:   st,
		Journal: jnlDep,
		Metrics: metrics,
		Log:     log,
	})
	disp.Start(ctx)
	log.Info("dispatcher workers started", zap.Int("count", cfg.Processor.WorkerCount))

	// ── Step 8: Ingress loop ─────────────────────────────────────────────────
	src := ingress.NewKafkaSource(ingress.Options{
		BrokerAddr: cfg.Kafka.BrokerAddr,
		Topic:      cfg.Kafka.IngressTopic,
		GroupID:    cfg.Kafka.ConsumerGroup,
	})
	runner := ingress.NewRunner(src, disp, metrics, log, cfg.Processor.CommitInterval)

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Run(ctx)
	}()
	log.Info("ingress loop started", zap.String("broker", cfg.Kafka.BrokerAddr))

	// ── Step 9: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Stop fetching, then drain workers under the grace deadline.
	cancel()
	<-runnerDone

	drained := make(chan struct{})
	go func() {
		disp.Stop()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info("workers drained")
	case <-time.After(cfg.Processor.ShutdownGrace):
		log.Warn("drain deadline exceeded — un-acked events will re-deliver")
	}

	// Final watermark commit, then release the transport.
	runner.Drain(5 * time.Second)
	if err := src.Close(); err != nil {
		log.Warn("ingress close failed", zap.Error(err))
	}

	log.Info("geopulse shutdown complete")
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
