// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package transit turns the raw position stream into durable vessel transit
// records: an idempotent per-vessel upsert while a ship is in the monitored
// area, and a one-way passed transition driven by an external crossing
// signal.
package transit

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/straitwatch/straitwatch/internal/ais"
	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/metrics"
)

// opTimeout bounds every store call so a hung store cannot back up the
// observe worker.
const opTimeout = 5 * time.Second

// Tracker consumes position reports and maintains per-vessel transit state.
// Store failures degrade every operation to a logged no-op with an empty
// result: the relay keeps forwarding live data with no durable store
// attached. A circuit breaker stops hammering a store that is down.
type Tracker struct {
	store   Store
	breaker *gobreaker.CircuitBreaker[any]
	now     func() time.Time
}

// New creates a tracker over the given store. A nil store is allowed and
// turns every operation into a no-op.
func New(store Store) *Tracker {
	t := &Tracker{
		store: store,
		now:   time.Now,
	}
	t.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "transit-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("transit store breaker state changed")
		},
	})
	return t
}

// Observe applies one position report: insert-if-absent or update-in-place
// on the open record for the report's MMSI. Never returns an error; a store
// failure is logged and the report is dropped.
func (t *Tracker) Observe(report ais.PositionReport) {
	if t.store == nil || report.MMSI == 0 {
		return
	}

	now := t.now()
	_, err := t.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return nil, t.store.UpsertOpen(ctx, report, now)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("upsert").Inc()
		logging.Warn().Err(err).Int64("mmsi", report.MMSI).Msg("transit upsert failed, report dropped")
		return
	}
	metrics.TransitsObserved.Inc()
}

// MarkPassed closes the open record for the MMSI, driven by the external
// crossing-detection signal. Closing is one-way and one-time: with no open
// record (including an already-closed one) this is a logged no-op and the
// original passed_at stands.
func (t *Tracker) MarkPassed(mmsi int64) bool {
	if t.store == nil {
		return false
	}

	now := t.now()
	closed, err := t.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return t.store.MarkPassed(ctx, mmsi, now)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("mark_passed").Inc()
		logging.Warn().Err(err).Int64("mmsi", mmsi).Msg("mark passed failed")
		return false
	}
	if !closed.(bool) {
		logging.Debug().Int64("mmsi", mmsi).Msg("mark passed with no open record, ignoring")
		return false
	}
	metrics.TransitsPassed.Inc()
	logging.Info().Int64("mmsi", mmsi).Msg("vessel passage recorded")
	return true
}

// RecentPassed returns up to limit passed records ordered by passage time
// descending. An unavailable store yields an empty slice.
func (t *Tracker) RecentPassed(ctx context.Context, limit int) []Record {
	if t.store == nil {
		return []Record{}
	}

	records, err := t.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return t.store.RecentPassed(opCtx, limit)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("recent_passed").Inc()
		logging.Warn().Err(err).Msg("recent passed query failed")
		return []Record{}
	}
	return records.([]Record)
}

// Stats returns total and today's completed transits. "Today" is the local
// calendar day boundary at query time. An unavailable store yields zeros.
func (t *Tracker) Stats(ctx context.Context) Stats {
	if t.store == nil {
		return Stats{}
	}

	now := t.now()
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	stats, err := t.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return t.store.Stats(opCtx, dayStart)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		logging.Warn().Err(err).Msg("stats query failed")
		return Stats{}
	}
	return stats.(Stats)
}

// StoreHealthy reports store reachability for the status surface.
func (t *Tracker) StoreHealthy(ctx context.Context) bool {
	if t.store == nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return t.store.Ping(opCtx) == nil
}
