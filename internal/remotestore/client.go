// Package remotestore talks to the remote beacon-record store. The service is
// a black box to the gateway: drivers translate its failures into the closed
// Kind taxonomy and nothing above this package inspects transport details.
package remotestore

import (
	"context"
	"time"

	"beaconrelay/gateway/internal/model"
)

// StatusReady is the table status that permits ingestion to start.
const StatusReady = "ready"

// TableInfo is the describe/ping response for the record table.
type TableInfo struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	RecordCount int64  `json:"record_count,omitempty"`
}

// Client is the surface the gateway needs from the record store. Every method
// is safe for concurrent use; implementations are stateless per call.
type Client interface {
	// PutRecord writes one record, keyed by (record_id, captured_at_millis).
	PutRecord(ctx context.Context, rec model.BeaconRecord) error
	// Describe reports whether the table exists and is ready for writes.
	Describe(ctx context.Context) (TableInfo, error)
	// QueryRecent returns records for an origin captured at or after since,
	// oldest first.
	QueryRecent(ctx context.Context, originID string, since time.Time) ([]model.BeaconRecord, error)
}
