// Package store persists everything the reconciler keeps between cycles:
// manifests, last-good input snapshots, cycle reports and the lease. The
// backing store only needs get, put and list-by-prefix.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a key with no object behind it.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the persistence surface. S3 implements it in production,
// Memory in tests.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Well-known object keys. The manifest keys are configuration; these are
// the tool's own records and never move.
const (
	// LeaseKey holds the record that keeps concurrent cycles from
	// overlapping.
	LeaseKey = "state/lease.json"

	// LastGoodAssetKey holds the most recent asset manifest that made it
	// through validation. It is what a cycle falls back to when the
	// admin-authored manifest is missing or broken; the admin's own
	// object is never overwritten.
	LastGoodAssetKey = "state/last-good/qs-asset-governance.json"

	// SnapshotPrefix is where timestamped copies of fetched identity
	// snapshots land, one object per successful fetch.
	SnapshotPrefix = "state/snapshots/users/"

	// ReportPrefix is where cycle reports land, one object per cycle.
	ReportPrefix = "state/reports/"
)

// SnapshotKey names the history copy of an identity snapshot fetched at
// the given time.
func SnapshotKey(fetched time.Time) string {
	return SnapshotPrefix + fetched.UTC().Format(time.RFC3339) + ".json"
}

// ReportKey names the report object for a cycle that started at the given
// time.
func ReportKey(start time.Time) string {
	return ReportPrefix + start.UTC().Format(time.RFC3339) + ".json"
}

// GetJSON reads a key and unmarshals it into out.
func GetJSON(ctx context.Context, s ObjectStore, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding [%s]: %w", key, err)
	}
	return nil
}

// PutJSON marshals in and writes it under key.
func PutJSON(ctx context.Context, s ObjectStore, key string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding [%s]: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
