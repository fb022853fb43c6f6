// Package store — redis.go
//
// Redis-backed materialized zone state.
//
// Schema:
//
//	geopulse:zone:<zoneId>   HASH
//	    zone_id, state, avg_1m, avg_5m, latitude, longitude, last_updated
//	geopulse:zones:geo       GEO set, member = zoneId at (longitude, latitude)
//
// Both keys are written in one pipeline per upsert so a zone's hash and its
// geo entry move together.
//
// Write policy:
//   - Upserts are best-effort. Failures are logged by the caller and never
//     block offset progress; the next state change rewrites the record.
//   - A circuit breaker wraps the writes so a down Redis costs an in-memory
//     short-circuit instead of a timeout per event. The breaker adds no
//     retries and no buffering — the self-healing contract is unchanged.
//
// Reads (Get, Near) serve operator tooling and are not on the hot path.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const (
	// zoneKeyPrefix + zoneId addresses a zone's state hash.
	zoneKeyPrefix = "geopulse:zone:"

	// geoKey is the geo set holding every zone's coordinates.
	geoKey = "geopulse:zones:geo"
)

// ErrOpenCircuit reports an upsert short-circuited by the breaker.
var ErrOpenCircuit = errors.New("store: circuit open")

// IsOpenCircuit reports whether err is a breaker short-circuit.
func IsOpenCircuit(err error) bool {
	return errors.Is(err, ErrOpenCircuit)
}

// ZoneRecord is the materialized snapshot of one zone.
type ZoneRecord struct {
	ZoneID    string
	State     string
	Avg1m     float64
	Avg5m     float64
	Latitude  float64
	Longitude float64

	// LastUpdated is the eventTimestamp of the triggering event, ms.
	LastUpdated int64
}

// Store writes and reads materialized zone state in Redis.
type Store struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Store for the given Redis endpoint.
func New(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return NewWithClient(rdb)
}

// NewWithClient wraps an existing client. Tests hand in a miniredis-backed
// client here.
func NewWithClient(rdb *redis.Client) *Store {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "materialized-store",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 10 * time.Second,
	})
	return &Store{rdb: rdb, breaker: breaker}
}

// Upsert writes the zone hash and refreshes its geo-index entry.
// Returns ErrOpenCircuit while the breaker is open.
func (s *Store) Upsert(ctx context.Context, rec *ZoneRecord) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		pipe := s.rdb.Pipeline()
		pipe.HSet(ctx, zoneKeyPrefix+rec.ZoneID, map[string]interface{}{
			"zone_id":      rec.ZoneID,
			"state":        rec.State,
			"avg_1m":       rec.Avg1m,
			"avg_5m":       rec.Avg5m,
			"latitude":     rec.Latitude,
			"longitude":    rec.Longitude,
			"last_updated": rec.LastUpdated,
		})
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      rec.ZoneID,
			Longitude: rec.Longitude,
			Latitude:  rec.Latitude,
		})
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrOpenCircuit, err)
	}
	if err != nil {
		return fmt.Errorf("store.Upsert(%s): %w", rec.ZoneID, err)
	}
	return nil
}

// Get reads the materialized record for a zone.
// Returns (nil, nil) if the zone has never been written.
func (s *Store) Get(ctx context.Context, zoneID string) (*ZoneRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, zoneKeyPrefix+zoneID).Result()
	if err != nil {
		return nil, fmt.Errorf("store.Get(%s): %w", zoneID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &ZoneRecord{
		ZoneID: fields["zone_id"],
		State:  fields["state"],
	}
	rec.Avg1m, _ = strconv.ParseFloat(fields["avg_1m"], 64)
	rec.Avg5m, _ = strconv.ParseFloat(fields["avg_5m"], 64)
	rec.Latitude, _ = strconv.ParseFloat(fields["latitude"], 64)
	rec.Longitude, _ = strconv.ParseFloat(fields["longitude"], 64)
	rec.LastUpdated, _ = strconv.ParseInt(fields["last_updated"], 10, 64)
	return rec, nil
}

// Near returns the zoneIds within radiusKM of the given point.
func (s *Store) Near(ctx context.Context, longitude, latitude, radiusKM float64) ([]string, error) {
	locs, err := s.rdb.GeoRadius(ctx, geoKey, longitude, latitude, &redis.GeoRadiusQuery{
		Radius: radiusKM,
		Unit:   "km",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store.Near: %w", err)
	}
	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		ids = append(ids, l.Name)
	}
	return ids, nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
