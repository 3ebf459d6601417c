// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package transit

import (
	"context"
	"time"

	"github.com/straitwatch/straitwatch/internal/ais"
)

// Record is one vessel transit. A record with Passed=false is the single
// open record for its MMSI: created on first sighting, updated on every
// subsequent sighting, and closed exactly once by an external crossing
// signal. A later sighting of the same vessel opens a new record.
type Record struct {
	ID          string     `json:"id"`
	MMSI        int64      `json:"mmsi"`
	Name        string     `json:"name,omitempty"`
	ShipType    string     `json:"type,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Dimensions  string     `json:"dimensions,omitempty"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	MaxSpeed    float64    `json:"max_speed_observed"`
	Passed      bool       `json:"passed"`
	PassedAt    *time.Time `json:"passed_at,omitempty"`
}

// Stats summarizes completed transits.
type Stats struct {
	TotalPassed int64 `json:"total"`
	PassedToday int64 `json:"today"`
}

// Store is the durable collection of transit records. UpsertOpen must be
// atomic per MMSI: concurrent reports for one vessel may never create two
// open records.
type Store interface {
	// UpsertOpen creates the open record for the report's MMSI if none
	// exists, otherwise updates last-seen, max speed, and fills in static
	// fields that were previously unknown (first write wins).
	UpsertOpen(ctx context.Context, report ais.PositionReport, now time.Time) error

	// MarkPassed closes the open record for the MMSI. Returns false when no
	// open record exists, including when the record was already closed.
	MarkPassed(ctx context.Context, mmsi int64, now time.Time) (bool, error)

	// RecentPassed returns up to limit passed records, newest passage first.
	RecentPassed(ctx context.Context, limit int) ([]Record, error)

	// Stats counts passed records in total and since dayStart.
	Stats(ctx context.Context, dayStart time.Time) (Stats, error)

	// Ping reports store reachability.
	Ping(ctx context.Context) error

	Close() error
}
