// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package metrics provides Prometheus instrumentation for the relay:
// upstream connection lifecycle, broadcast fan-out, and the transit store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream feed metrics
	UpstreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ais_upstream_connected",
			Help: "1 while the upstream AIS connection is open, 0 otherwise",
		},
	)

	UpstreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ais_upstream_reconnects_total",
			Help: "Total number of upstream reconnect attempts",
		},
	)

	UpstreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ais_upstream_messages_total",
			Help: "Total upstream messages received, by message type",
		},
		[]string{"message_type"},
	)

	UpstreamDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ais_upstream_decode_errors_total",
			Help: "Total upstream payloads dropped due to decode failures",
		},
	)

	// Broadcast hub metrics
	SubscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscribers_connected",
			Help: "Current number of connected downstream subscribers",
		},
	)

	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_broadcast_total",
			Help: "Total envelopes fanned out to subscribers",
		},
	)

	SubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_subscribers_evicted_total",
			Help: "Subscribers removed because a send failed or stalled",
		},
	)

	// Transit store metrics
	TransitsObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_reports_observed_total",
			Help: "Position reports applied to the transit store",
		},
	)

	TransitsPassed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_passages_total",
			Help: "Transit records closed as passed",
		},
	)

	TransitQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transit_queue_dropped_total",
			Help: "Position reports dropped because the observe queue was full",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transit_store_errors_total",
			Help: "Transit store operation failures, by operation",
		},
		[]string{"operation"},
	)
)
