// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package relay is the composition root: it wires the upstream client to
// the broadcast hub and the transit tracker, and implements the demand
// policy (connect upstream when subscribers exist, disconnect when the last
// one leaves).
package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/straitwatch/straitwatch/internal/ais"
	"github.com/straitwatch/straitwatch/internal/hub"
	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/metrics"
	"github.com/straitwatch/straitwatch/internal/transit"
)

// observeQueueSize buffers position reports between the upstream read loop
// and the store worker so a slow store never stalls the broadcast path.
const observeQueueSize = 1024

// Service owns the relay wiring. It runs as a suture service: Serve drains
// the observe queue into the tracker until the context is canceled.
type Service struct {
	client  *ais.Client
	hub     *hub.Hub
	tracker *transit.Tracker

	observeCh chan ais.PositionReport
	dropLog   *rate.Limiter
}

// New wires client, hub and tracker together. The hub's demand hooks drive
// the upstream lifecycle; upstream messages fan out to subscribers and feed
// the tracker independently.
func New(client *ais.Client, h *hub.Hub, tracker *transit.Tracker) *Service {
	s := &Service{
		client:    client,
		hub:       h,
		tracker:   tracker,
		observeCh: make(chan ais.PositionReport, observeQueueSize),
		dropLog:   rate.NewLimiter(rate.Every(10*time.Second), 1),
	}

	h.SetDemandHooks(
		func() { client.Start(true) },
		func() { client.Stop() },
	)
	h.SetGreeting(s.greeting)

	client.OnMessage(s.handleMessage)
	client.OnStatus(s.handleStatus)

	return s
}

// greeting snapshots upstream connectivity for a newly registered
// subscriber.
func (s *Service) greeting() hub.Envelope {
	if s.client.IsConnected() {
		return hub.StatusEnvelope("connected to AIS feed", true)
	}
	return hub.StatusEnvelope("not yet connected to AIS feed", false)
}

// handleMessage forwards every upstream message to subscribers verbatim and
// queues position reports for the tracker. Neither path blocks the other:
// broadcast enqueues into per-subscriber buffers, persistence goes through
// the observe queue.
func (s *Service) handleMessage(msg ais.Message) {
	s.hub.Broadcast(hub.ShipDataEnvelope(msg.Raw))

	if msg.Report == nil {
		return
	}
	select {
	case s.observeCh <- *msg.Report:
	default:
		metrics.TransitQueueDropped.Inc()
		if s.dropLog.Allow() {
			logging.Warn().Int64("mmsi", msg.Report.MMSI).Msg("observe queue full, dropping report")
		}
	}
}

// handleStatus relays upstream connectivity changes to subscribers as
// status envelopes, distinct from data envelopes.
func (s *Service) handleStatus(ev ais.StatusEvent) {
	if ev.Connected {
		s.hub.Broadcast(hub.StatusEnvelope("connected to AIS feed", true))
		return
	}
	s.hub.Broadcast(hub.StatusEnvelope("AIS feed disconnected", false))
}

// Serve drains the observe queue into the tracker until the context is
// canceled. Designed for suture supervision; on shutdown the upstream
// client is stopped and subscribers are closed.
func (s *Service) Serve(ctx context.Context) error {
	logging.Info().Msg("relay service started")
	for {
		select {
		case <-ctx.Done():
			s.client.Stop()
			s.hub.CloseAll()
			logging.Info().Msg("relay service stopped")
			return ctx.Err()
		case report := <-s.observeCh:
			s.tracker.Observe(report)
		}
	}
}

// String names the service in supervisor logs.
func (s *Service) String() string {
	return "relay"
}
