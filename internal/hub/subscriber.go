// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package hub

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/straitwatch/straitwatch/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // subscribers only send pings/close frames
	sendBuffer     = 256
)

// subscriberIDCounter generates unique, monotonically increasing IDs so
// broadcasts iterate subscribers in a consistent order.
var subscriberIDCounter atomic.Uint64

// Conn is the subset of *websocket.Conn the hub writes to. Tests substitute
// a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Subscriber is an opaque handle to one downstream connection. The hub is
// the only writer to the underlying socket; everything it sends flows
// through the buffered send channel into writePump.
type Subscriber struct {
	id   uint64
	hub  *Hub
	conn Conn
	send chan []byte
}

func newSubscriber(h *Hub, conn Conn) *Subscriber {
	return &Subscriber{
		id:   subscriberIDCounter.Add(1),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// start begins the read and write pumps.
func (s *Subscriber) start() {
	go s.writePump()
	go s.readPump()
}

// readPump drains inbound frames so close/pong control messages are
// processed. Subscribers are not expected to send data; anything received
// is discarded. A read error unregisters the subscriber.
func (s *Subscriber) readPump() {
	defer func() {
		s.hub.remove(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("subscriber", s.id).Msg("unexpected subscriber close")
			}
			return
		}
	}
}

// writePump writes queued envelopes to the socket and keeps the connection
// alive with pings. A write error ends the pump; readPump's deferred cleanup
// unregisters the subscriber when the closed socket fails its next read.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub removed this subscriber.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Warn().Err(err).Uint64("subscriber", s.id).Msg("subscriber write failed")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
