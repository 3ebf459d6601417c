// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package ais owns the single connection to the upstream AIS feed: dialing,
// subscribing, decoding, and the demand-driven reconnect policy.
package ais

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/straitwatch/straitwatch/internal/config"
	"github.com/straitwatch/straitwatch/internal/geo"
	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/metrics"
)

// State is the upstream connection state. Transitions are serialized by the
// client's mutex; no two transitions may race.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// StatusEvent reports an upstream connectivity change.
type StatusEvent struct {
	Connected bool
	Err       error
}

// Conn is the subset of *websocket.Conn the client uses. Tests substitute a
// fake through WithDialFunc.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens the upstream transport. Canceling the context must abort
// an in-flight dial.
type DialFunc func(ctx context.Context) (Conn, error)

// subscription is the single message sent after the transport opens.
type subscription struct {
	APIKey        string        `json:"APIKey"`
	BoundingBoxes [][][]float64 `json:"BoundingBoxes"`
}

// Client owns the upstream feed connection. At most one live transport
// exists process-wide at any instant; Start and Stop are idempotent.
type Client struct {
	apiKey         string
	box            geo.BoundingBox
	dial           DialFunc
	demand         func() int
	reconnectDelay time.Duration

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       uint64 // connection generation; stale read loops must not transition state
	cancel    context.CancelFunc
	reconnect *time.Timer

	handlerMu sync.RWMutex
	onMessage func(Message)
	onStatus  func(StatusEvent)

	// decodeLogLimit throttles decode-failure warnings so a corrupt burst
	// cannot flood the log.
	decodeLogLimit *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithDialFunc replaces the websocket dialer, for tests.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a client for the configured feed. demand reports the
// current live-subscriber count; it is consulted when scheduling and again
// when firing a reconnect attempt.
func NewClient(cfg config.AISConfig, box geo.BoundingBox, demand func() int, opts ...Option) *Client {
	c := &Client{
		apiKey:         cfg.APIKey,
		box:            box,
		demand:         demand,
		reconnectDelay: cfg.ReconnectDelay,
		decodeLogLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	c.dial = func(ctx context.Context) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return conn, nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the sole consumer of decoded upstream messages.
// Messages are delivered in arrival order from a single goroutine.
func (c *Client) OnMessage(handler func(Message)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onMessage = handler
}

// OnStatus registers the consumer of connectivity change events.
func (c *Client) OnStatus(handler func(StatusEvent)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onStatus = handler
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the upstream transport is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Start opens the upstream connection if demand is true and the client is
// disconnected. A no-op while connecting or open.
func (c *Client) Start(demand bool) {
	if !demand {
		return
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.connect(ctx, gen)
}

// Stop closes the transport, cancels any in-flight connect attempt and any
// pending reconnect timer, and transitions to Disconnected. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	// Bump the generation even when already disconnected: a reconnect timer
	// that fired concurrently and passed its demand check must find its
	// generation stale instead of dialing into an empty room.
	c.gen++
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	metrics.UpstreamConnected.Set(0)
	logging.Info().Msg("upstream feed stopped")
}

// connect dials and subscribes. Runs outside the mutex; results are applied
// only if the generation is still current.
func (c *Client) connect(ctx context.Context, gen uint64) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.connectFailed(gen, err)
		return
	}

	sub := subscription{
		APIKey:        c.apiKey,
		BoundingBoxes: [][][]float64{c.box.Corners()},
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		c.connectFailed(gen, fmt.Errorf("send subscription: %w", err))
		return
	}

	c.mu.Lock()
	if gen != c.gen || ctx.Err() != nil {
		// Stopped while the dial was in flight; tear the fresh transport
		// down instead of leaking it.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.state = StateOpen
	c.conn = conn
	c.cancel = nil
	c.mu.Unlock()

	metrics.UpstreamConnected.Set(1)
	logging.Info().
		Float64("min_lat", c.box.MinLat).
		Float64("max_lat", c.box.MaxLat).
		Float64("min_lon", c.box.MinLon).
		Float64("max_lon", c.box.MaxLon).
		Msg("upstream feed connected")
	c.emitStatus(StatusEvent{Connected: true})

	go c.readLoop(conn, gen)
}

// connectFailed records a failed connect attempt and schedules a reconnect
// if subscribers remain.
func (c *Client) connectFailed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.cancel = nil
	c.mu.Unlock()

	logging.Error().Err(err).Msg("upstream connect failed")
	c.emitStatus(StatusEvent{Connected: false, Err: err})
	c.scheduleReconnect()
}

// readLoop consumes the transport until it fails or is closed. Decode
// failures drop the message and keep the connection; transport failures
// transition to Disconnected and may schedule a reconnect.
func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.readFailed(gen, err)
			return
		}

		msg, derr := Decode(payload)
		if derr != nil {
			metrics.UpstreamDecodeErrors.Inc()
			if c.decodeLogLimit.Allow() {
				logging.Warn().Err(derr).Int("bytes", len(payload)).Msg("dropping undecodable upstream message")
			}
			continue
		}

		metrics.UpstreamMessages.WithLabelValues(msg.Type).Inc()

		c.handlerMu.RLock()
		handler := c.onMessage
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// readFailed handles a transport-level error or closure.
func (c *Client) readFailed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		// Stale loop: Stop or a newer connection already owns the state.
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	metrics.UpstreamConnected.Set(0)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Info().Msg("upstream feed closed")
	} else {
		logging.Warn().Err(err).Msg("upstream read failed")
	}
	c.emitStatus(StatusEvent{Connected: false, Err: err})
	c.scheduleReconnect()
}

// scheduleReconnect arms the single one-shot reconnect timer. The subscriber
// count is checked again when the timer fires: a disconnect with an audience
// that has since left must not reconnect into an empty room.
func (c *Client) scheduleReconnect() {
	if c.demand() == 0 {
		logging.Debug().Msg("no subscribers, skipping reconnect")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnect != nil || c.state != StateDisconnected {
		return
	}
	gen := c.gen
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()

		if c.demand() == 0 {
			logging.Debug().Msg("subscribers gone before reconnect fired, skipping")
			return
		}
		c.retry(gen)
	})
	logging.Info().Dur("delay", c.reconnectDelay).Msg("upstream reconnect scheduled")
}

// retry is the reconnect timer's Start: it only proceeds if the generation
// the timer was armed with is still current. Stop bumps the generation, so a
// Stop racing a timer that already passed its demand check wins.
func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.gen++
	newGen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	metrics.UpstreamReconnects.Inc()
	logging.Info().Msg("attempting upstream reconnect")
	go c.connect(ctx, newGen)
}

func (c *Client) emitStatus(ev StatusEvent) {
	c.handlerMu.RLock()
	handler := c.onStatus
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(ev)
	}
}
