// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package transit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/straitwatch/straitwatch/internal/ais"
	"github.com/straitwatch/straitwatch/internal/config"
	"github.com/straitwatch/straitwatch/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS vessel_transits (
	id                 VARCHAR PRIMARY KEY,
	mmsi               BIGINT NOT NULL,
	name               VARCHAR,
	ship_type          VARCHAR,
	destination        VARCHAR,
	dimensions         VARCHAR,
	first_seen         TIMESTAMP NOT NULL,
	last_seen          TIMESTAMP NOT NULL,
	max_speed_observed DOUBLE NOT NULL,
	passed             BOOLEAN NOT NULL DEFAULT FALSE,
	passed_at          TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transits_mmsi_open ON vessel_transits (mmsi, passed);
CREATE INDEX IF NOT EXISTS idx_transits_passed_at ON vessel_transits (passed_at);
`

// DuckDBStore persists transit records in DuckDB. DuckDB has no partial
// unique indexes, so the one-open-record-per-MMSI invariant is enforced by
// serializing the update-then-insert upsert through a per-MMSI lock.
type DuckDBStore struct {
	conn *sql.DB

	// mmsiLocks serializes upserts per vessel; different vessels proceed
	// in parallel.
	mmsiLocks sync.Map
}

// NewDuckDBStore opens (or creates) the transit database and initializes
// the schema.
func NewDuckDBStore(cfg *config.DatabaseConfig) (*DuckDBStore, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("transit store opened")
	return &DuckDBStore{conn: conn}, nil
}

func (s *DuckDBStore) lockFor(mmsi int64) *sync.Mutex {
	mu, _ := s.mmsiLocks.LoadOrStore(mmsi, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// UpsertOpen implements the atomic find-or-create-then-update. The update
// targets the open record; zero rows affected means no open record exists
// and a fresh one is inserted. COALESCE on static fields keeps the first
// written value while still filling fields that were unknown at creation.
func (s *DuckDBStore) UpsertOpen(ctx context.Context, report ais.PositionReport, now time.Time) error {
	mu := s.lockFor(report.MMSI)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `
		UPDATE vessel_transits SET
			last_seen = ?,
			max_speed_observed = GREATEST(max_speed_observed, ?),
			name = COALESCE(name, NULLIF(?, '')),
			ship_type = COALESCE(ship_type, NULLIF(?, '')),
			destination = COALESCE(destination, NULLIF(?, '')),
			dimensions = COALESCE(dimensions, NULLIF(?, ''))
		WHERE mmsi = ? AND passed = FALSE`,
		now, report.Speed, report.Name, report.ShipType, report.Destination, report.Dimensions,
		report.MMSI,
	)
	if err != nil {
		return fmt.Errorf("update open transit: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return nil
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO vessel_transits (
			id, mmsi, name, ship_type, destination, dimensions,
			first_seen, last_seen, max_speed_observed, passed
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, FALSE)`,
		uuid.New().String(), report.MMSI,
		report.Name, report.ShipType, report.Destination, report.Dimensions,
		now, now, report.Speed,
	)
	if err != nil {
		return fmt.Errorf("insert open transit: %w", err)
	}
	return nil
}

// MarkPassed closes the open record for the MMSI. The WHERE clause makes
// the transition one-way: a second call matches zero rows and the original
// passed_at stands.
func (s *DuckDBStore) MarkPassed(ctx context.Context, mmsi int64, now time.Time) (bool, error) {
	mu := s.lockFor(mmsi)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `
		UPDATE vessel_transits SET passed = TRUE, passed_at = ?
		WHERE mmsi = ? AND passed = FALSE`,
		now, mmsi,
	)
	if err != nil {
		return false, fmt.Errorf("mark transit passed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark transit passed: %w", err)
	}
	return rows > 0, nil
}

// RecentPassed returns up to limit passed records, newest passage first.
func (s *DuckDBStore) RecentPassed(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, mmsi, name, ship_type, destination, dimensions,
		       first_seen, last_seen, max_speed_observed, passed, passed_at
		FROM vessel_transits
		WHERE passed
		ORDER BY passed_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent passed: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent passed: %w", err)
	}
	return records, nil
}

// Stats counts passed records in total and since dayStart.
func (s *DuckDBStore) Stats(ctx context.Context, dayStart time.Time) (Stats, error) {
	var stats Stats
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN passed_at >= ? THEN 1 ELSE 0 END), 0)
		FROM vessel_transits
		WHERE passed`, dayStart,
	).Scan(&stats.TotalPassed, &stats.PassedToday)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// OpenRecord returns the current open record for an MMSI, or nil. A test and
// debugging helper; nothing on the relay path reads open records back.
func (s *DuckDBStore) OpenRecord(ctx context.Context, mmsi int64) (*Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, mmsi, name, ship_type, destination, dimensions,
		       first_seen, last_seen, max_speed_observed, passed, passed_at
		FROM vessel_transits
		WHERE mmsi = ? AND passed = FALSE`, mmsi,
	)
	if err != nil {
		return nil, fmt.Errorf("query open record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, rows.Err()
}

// Ping reports store reachability.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	return s.conn.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec         Record
		name        sql.NullString
		shipType    sql.NullString
		destination sql.NullString
		dimensions  sql.NullString
		passedAt    sql.NullTime
	)
	err := rows.Scan(
		&rec.ID, &rec.MMSI, &name, &shipType, &destination, &dimensions,
		&rec.FirstSeen, &rec.LastSeen, &rec.MaxSpeed, &rec.Passed, &passedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan transit record: %w", err)
	}
	rec.Name = name.String
	rec.ShipType = shipType.String
	rec.Destination = destination.String
	rec.Dimensions = dimensions.String
	if passedAt.Valid {
		t := passedAt.Time
		rec.PassedAt = &t
	}
	return rec, nil
}
