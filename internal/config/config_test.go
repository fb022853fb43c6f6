// Package config — config_test.go
//
// Tests for config loading, the environment overlay, and validation.
//
// Test coverage:
//   - Defaults() validates cleanly
//   - YAML file values override defaults
//   - environment variables override file values
//   - malformed environment values are load errors
//   - validation rejects out-of-range and contradictory settings, all at
//     once

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geopulse/geopulse/internal/config"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Kafka.IngressTopic != "raw.zone.events" {
		t.Errorf("default ingress topic = %q", cfg.Kafka.IngressTopic)
	}
	if cfg.Kafka.ConsumerGroup != "zone-stream-processor" {
		t.Errorf("default consumer group = %q", cfg.Kafka.ConsumerGroup)
	}
	if cfg.Store.Addr != "localhost:6380" {
		t.Errorf("default store addr = %q", cfg.Store.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
kafka:
  broker_addr: kafka-1:9092
processor:
  worker_count: 16
  commit_interval: 250ms
journal:
  enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Kafka.BrokerAddr != "kafka-1:9092" {
		t.Errorf("broker = %q", cfg.Kafka.BrokerAddr)
	}
	if cfg.Processor.WorkerCount != 16 {
		t.Errorf("workers = %d", cfg.Processor.WorkerCount)
	}
	if cfg.Processor.CommitInterval != 250*time.Millisecond {
		t.Errorf("commit interval = %s", cfg.Processor.CommitInterval)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled by the file")
	}
	// Untouched fields keep their defaults.
	if cfg.Kafka.EgressTopic != "zone.alerts" {
		t.Errorf("egress topic = %q", cfg.Kafka.EgressTopic)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  addr: file:6380\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("GEOPULSE_STORE_ADDR", "env:6380")
	t.Setenv("GEOPULSE_WORKER_COUNT", "4")
	t.Setenv("GEOPULSE_SHUTDOWN_GRACE", "30s")
	t.Setenv("GEOPULSE_JOURNAL_ENABLED", "false")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Addr != "env:6380" {
		t.Errorf("store addr = %q, want env:6380", cfg.Store.Addr)
	}
	if cfg.Processor.WorkerCount != 4 {
		t.Errorf("workers = %d, want 4", cfg.Processor.WorkerCount)
	}
	if cfg.Processor.ShutdownGrace != 30*time.Second {
		t.Errorf("grace = %s, want 30s", cfg.Processor.ShutdownGrace)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled by env")
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Kafka.BrokerAddr != "localhost:9092" {
		t.Errorf("broker = %q, want default", cfg.Kafka.BrokerAddr)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("GEOPULSE_WORKER_COUNT", "many")
	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error for non-numeric worker count")
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := config.Defaults()
	cfg.Kafka.ConsumerGroup = ""
	cfg.Processor.WorkerCount = 0
	cfg.Kafka.EgressTopic = cfg.Kafka.IngressTopic
	cfg.Observability.LogFormat = "xml"

	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"consumer_group", "worker_count", "must differ", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}
