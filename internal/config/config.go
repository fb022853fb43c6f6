// Package config provides configuration loading and validation for the
// GeoPulse processor.
//
// Precedence (lowest to highest):
//  1. Defaults() — every field has a working local-dev default.
//  2. YAML file (optional; -config flag, no file is not an error).
//  3. GEOPULSE_* environment variables.
//
// Validation:
//   - All violations are collected and reported together.
//   - Invalid config on startup: the processor refuses to start.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for GeoPulse.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// Kafka configures the ingress and egress transports.
	Kafka KafkaConfig `yaml:"kafka"`

	// Processor configures the dispatcher and per-zone workers.
	Processor ProcessorConfig `yaml:"processor"`

	// Store configures the Redis materialized-state store.
	Store StoreConfig `yaml:"store"`

	// Journal configures the local BoltDB alert journal.
	Journal JournalConfig `yaml:"journal"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// KafkaConfig holds transport endpoints and topic names.
type KafkaConfig struct {
	// BrokerAddr is the bootstrap broker address. Default: localhost:9092.
	BrokerAddr string `yaml:"broker_addr"`

	// IngressTopic is the subscribed sample topic. Default: raw.zone.events.
	IngressTopic string `yaml:"ingress_topic"`

	// EgressTopic is the produced alert topic. Default: zone.alerts.
	EgressTopic string `yaml:"egress_topic"`

	// ConsumerGroup is the offset namespace. New groups read from the
	// earliest offset. Default: zone-stream-processor.
	ConsumerGroup string `yaml:"consumer_group"`
}

// ProcessorConfig holds dispatcher parameters.
type ProcessorConfig struct {
	// WorkerCount is the number of worker goroutines. Each owns a static
	// hash shard of the zone-id space. Default: 8.
	WorkerCount int `yaml:"worker_count"`

	// QueueSize is the per-worker queue depth. A full queue applies
	// backpressure to the ingress loop. Default: 1024.
	QueueSize int `yaml:"queue_size"`

	// CommitInterval is how often processed offsets are committed.
	// Offsets are also committed on shutdown. Default: 1s.
	CommitInterval time.Duration `yaml:"commit_interval"`

	// ShutdownGrace is the hard deadline for draining in-flight events on
	// shutdown. Un-acked events re-deliver on the next start. Default: 10s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// StoreConfig holds Redis parameters for the materialized-state store.
type StoreConfig struct {
	// Addr is the Redis endpoint. Default: localhost:6380.
	Addr string `yaml:"addr"`

	// Password is the Redis AUTH password. Default: empty (no auth).
	Password string `yaml:"password"`

	// DB is the Redis logical database. Default: 0.
	DB int `yaml:"db"`
}

// JournalConfig holds the local BoltDB alert journal parameters.
type JournalConfig struct {
	// Enabled controls whether emitted alerts are journalled locally.
	// Default: true.
	Enabled bool `yaml:"enabled"`

	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/geopulse/journal.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the journal retention period. Default: 7.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: :9090.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		Kafka: KafkaConfig{
			BrokerAddr:    "localhost:9092",
			IngressTopic:  "raw.zone.events",
			EgressTopic:   "zone.alerts",
			ConsumerGroup: "zone-stream-processor",
		},
		Processor: ProcessorConfig{
			WorkerCount:    8,
			QueueSize:      1024,
			CommitInterval: time.Second,
			ShutdownGrace:  10 * time.Second,
		},
		Store: StoreConfig{
			Addr: "localhost:6380",
			DB:   0,
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        "/var/lib/geopulse/journal.db",
			RetentionDays: 7,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load builds the effective config: defaults, overlaid by the YAML file at
// path (if path is non-empty and the file exists), overlaid by GEOPULSE_*
// environment variables, then validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; env and defaults carry the day.
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: environment: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnv overlays GEOPULSE_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setDur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	setBool := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	setStr("GEOPULSE_BROKER_ADDR", &cfg.Kafka.BrokerAddr)
	setStr("GEOPULSE_INGRESS_TOPIC", &cfg.Kafka.IngressTopic)
	setStr("GEOPULSE_EGRESS_TOPIC", &cfg.Kafka.EgressTopic)
	setStr("GEOPULSE_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)
	setStr("GEOPULSE_STORE_ADDR", &cfg.Store.Addr)
	setStr("GEOPULSE_STORE_PASSWORD", &cfg.Store.Password)
	setStr("GEOPULSE_JOURNAL_PATH", &cfg.Journal.DBPath)
	setStr("GEOPULSE_METRICS_ADDR", &cfg.Observability.MetricsAddr)
	setStr("GEOPULSE_LOG_LEVEL", &cfg.Observability.LogLevel)
	setStr("GEOPULSE_LOG_FORMAT", &cfg.Observability.LogFormat)

	if err := setInt("GEOPULSE_STORE_DB", &cfg.Store.DB); err != nil {
		return err
	}
	if err := setInt("GEOPULSE_WORKER_COUNT", &cfg.Processor.WorkerCount); err != nil {
		return err
	}
	if err := setInt("GEOPULSE_QUEUE_SIZE", &cfg.Processor.QueueSize); err != nil {
		return err
	}
	if err := setInt("GEOPULSE_JOURNAL_RETENTION_DAYS", &cfg.Journal.RetentionDays); err != nil {
		return err
	}
	if err := setDur("GEOPULSE_COMMIT_INTERVAL", &cfg.Processor.CommitInterval); err != nil {
		return err
	}
	if err := setDur("GEOPULSE_SHUTDOWN_GRACE", &cfg.Processor.ShutdownGrace); err != nil {
		return err
	}
	if err := setBool("GEOPULSE_JOURNAL_ENABLED", &cfg.Journal.Enabled); err != nil {
		return err
	}
	return nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Kafka.BrokerAddr == "" {
		errs = append(errs, "kafka.broker_addr must not be empty")
	}
	if cfg.Kafka.IngressTopic == "" {
		errs = append(errs, "kafka.ingress_topic must not be empty")
	}
	if cfg.Kafka.EgressTopic == "" {
		errs = append(errs, "kafka.egress_topic must not be empty")
	}
	if cfg.Kafka.IngressTopic != "" && cfg.Kafka.IngressTopic == cfg.Kafka.EgressTopic {
		errs = append(errs, "kafka.ingress_topic and kafka.egress_topic must differ")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		errs = append(errs, "kafka.consumer_group must not be empty")
	}
	if cfg.Processor.WorkerCount < 1 || cfg.Processor.WorkerCount > 64 {
		errs = append(errs, fmt.Sprintf("processor.worker_count must be in [1, 64], got %d", cfg.Processor.WorkerCount))
	}
	if cfg.Processor.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("processor.queue_size must be >= 1, got %d", cfg.Processor.QueueSize))
	}
	if cfg.Processor.CommitInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Sprintf("processor.commit_interval must be >= 10ms, got %s", cfg.Processor.CommitInterval))
	}
	if cfg.Processor.ShutdownGrace < time.Second {
		errs = append(errs, fmt.Sprintf("processor.shutdown_grace must be >= 1s, got %s", cfg.Processor.ShutdownGrace))
	}
	if cfg.Store.Addr == "" {
		errs = append(errs, "store.addr must not be empty")
	}
	if cfg.Store.DB < 0 {
		errs = append(errs, fmt.Sprintf("store.db must be >= 0, got %d", cfg.Store.DB))
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.DBPath == "" {
			errs = append(errs, "journal.db_path must not be empty when the journal is enabled")
		}
		if cfg.Journal.RetentionDays < 1 {
			errs = append(errs, fmt.Sprintf("journal.retention_days must be >= 1, got %d", cfg.Journal.RetentionDays))
		}
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be json or console, got %q", cfg.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
