// Package journal — journal.go
//
// BoltDB-backed local journal of emitted alerts.
//
// The durable record of truth for alerts lives downstream of the egress
// topic; this journal is a best-effort local copy so an operator can
// inspect a node's recent transition history without the alert store.
//
// Schema (BoltDB bucket layout):
//
//	/alerts
//	    key:   <timestampMS, zero-padded to 20 digits> + "_" + zoneId
//	    value: JSON-encoded event.Alert
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Keys sort lexicographically = chronologically, so range reads and
// retention pruning are cursor scans.
//
// Consistency model:
//   - Single-process, single-writer file (bbolt does not support
//     concurrent writers); all appends go through the worker emit path.
//   - Writes use ACID transactions; reads use read-only transactions.
//
// Failure modes:
//   - Disk full / IO error on append: the caller logs and continues.
//     Journal loss never blocks offset progress.
//   - File corruption: bbolt detects it on Open and the processor refuses
//     to start with journalling enabled.

package journal

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/geopulse/geopulse/internal/event"
)

const (
	// SchemaVersion is the current journal schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default alert retention period.
	DefaultRetentionDays = 7

	bucketAlerts = "alerts"
	bucketMeta   = "meta"
)

// Journal wraps a BoltDB file with typed accessors for alert records.
type Journal struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the journal at the given path.
// Initialises buckets and verifies the schema version.
func Open(path string, retentionDays int) (*Journal, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	j := &Journal{db: bdb, retentionDays: retentionDays}

	if err := j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketAlerts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("journal initialisation failed: %w", err)
	}

	if err := j.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return j, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (j *Journal) checkSchemaVersion() error {
	return j.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("journal schema version mismatch: file has %q, processor requires %q",
				string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (j *Journal) Close() error {
	return j.db.Close()
}

// alertKey constructs a sortable key for an alert.
// Format: timestampMS zero-padded to 20 digits + "_" + zoneId.
func alertKey(timestampMS int64, zoneID string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestampMS, zoneID))
}

// Append writes one emitted alert. Uses a single ACID write transaction.
func (j *Journal) Append(a *event.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("journal.Append marshal: %w", err)
	}

	key := alertKey(a.Timestamp, a.ZoneID)

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlerts))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("journal.Append bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadRange returns all alerts with fromMS <= timestamp < toMS in
// chronological order. Operator tooling; not on the hot path.
func (j *Journal) ReadRange(fromMS, toMS int64) ([]event.Alert, error) {
	var alerts []event.Alert
	min := alertKey(fromMS, "")
	max := alertKey(toMS, "")

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketAlerts)).Cursor()
		for k, v := c.Seek(min); k != nil && string(k) < string(max); k, v = c.Next() {
			var a event.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("journal.ReadRange unmarshal at %q: %w", string(k), err)
			}
			alerts = append(alerts, a)
		}
		return nil
	})
	return alerts, err
}

// PruneOld deletes alerts older than the retention period, measured
// against wall time (alert timestamps are event time, which tracks wall
// time closely enough for retention). Called on startup and periodically.
// Returns the number of entries deleted.
func (j *Journal) PruneOld() (int, error) {
	cutoffMS := time.Now().UTC().AddDate(0, 0, -j.retentionDays).UnixMilli()
	cutoffKey := alertKey(cutoffMS, "")

	var deleted int
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlerts))
		c := b.Cursor()

		// Collect keys first; bbolt cursors do not support delete-during-scan.
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("journal.PruneOld delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// RunRetention prunes on the given interval until done is closed. The caller
// runs this in its own goroutine.
func (j *Journal) RunRetention(done <-chan struct{}, interval time.Duration, onPrune func(deleted int, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deleted, err := j.PruneOld()
			if onPrune != nil {
				onPrune(deleted, err)
			}
		}
	}
}
