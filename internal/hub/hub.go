// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package hub tracks live downstream subscribers and fans envelopes out to
// them. The hub supplies subscriber cardinality to the relay's demand
// policy: the first registration and the last removal fire hooks that the
// relay wires to the upstream client's Start and Stop.
package hub

import (
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/metrics"
)

// Hub maintains the set of live subscribers. Register, Unregister and
// Broadcast are safe to call concurrently; send channels are only closed
// while holding the hub mutex, so a broadcast can never write to a closed
// channel.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	// onFirst/onLast implement the demand policy. Set once at wiring time,
	// before any subscriber can connect; invoked while holding the hub
	// mutex so the count edge and the policy action cannot be reordered by
	// concurrent churn. Safe: the upstream client never calls back into the
	// hub while holding its own lock.
	onFirst func()
	onLast  func()

	// greeting builds the status envelope every new subscriber receives
	// immediately on registration.
	greeting func() Envelope
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// SetDemandHooks wires the demand policy callbacks. onFirst fires when the
// subscriber count goes 0→1, onLast when it goes 1→0.
func (h *Hub) SetDemandHooks(onFirst, onLast func()) {
	h.onFirst = onFirst
	h.onLast = onLast
}

// SetGreeting wires the status snapshot sent to each new subscriber.
func (h *Hub) SetGreeting(fn func() Envelope) {
	h.greeting = fn
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Register adds a downstream connection, immediately queues the current
// status envelope for it, and starts its pumps. If this is the first live
// subscriber the onFirst hook fires.
func (h *Hub) Register(conn Conn) *Subscriber {
	sub := newSubscriber(h, conn)

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	if h.greeting != nil {
		if data, err := json.Marshal(h.greeting()); err == nil {
			select {
			case sub.send <- data:
			default:
			}
		}
	}
	if n == 1 && h.onFirst != nil {
		h.onFirst()
	}
	h.mu.Unlock()

	metrics.SubscribersConnected.Set(float64(n))
	logging.Info().Uint64("subscriber", sub.id).Int("total", n).Msg("subscriber connected")

	sub.start()
	return sub
}

// Unregister removes a subscriber. If the set becomes empty the onLast hook
// fires. Safe to call more than once for the same subscriber.
func (h *Hub) Unregister(sub *Subscriber) {
	h.remove(sub)
}

// remove deletes the subscriber and closes its send channel under the hub
// mutex. Double removal is a no-op, so readPump cleanup and broadcast
// eviction cannot race into a double close.
func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	n := len(h.subs)
	if ok && n == 0 && h.onLast != nil {
		h.onLast()
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	metrics.SubscribersConnected.Set(float64(n))
	logging.Info().Uint64("subscriber", sub.id).Int("total", n).Msg("subscriber disconnected")
}

// Broadcast serializes the envelope once and queues it for every live
// subscriber. A subscriber whose send buffer is full is evicted; eviction
// never blocks or aborts delivery to the others.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error().Err(err).Str("envelope", env.Type).Msg("failed to marshal envelope")
		return
	}

	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	// Deterministic fan-out order keeps tests and logs reproducible.
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	var evicted []*Subscriber
	for _, sub := range subs {
		select {
		case sub.send <- data:
		default:
			evicted = append(evicted, sub)
		}
	}
	h.mu.Unlock()

	metrics.MessagesBroadcast.Inc()

	for _, sub := range evicted {
		metrics.SubscribersEvicted.Inc()
		logging.Warn().Uint64("subscriber", sub.id).Msg("evicting stalled subscriber")
		h.remove(sub)
		_ = sub.conn.Close()
	}
}

// CloseAll removes every subscriber, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
		_ = sub.conn.Close()
	}
}
