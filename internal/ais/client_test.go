// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package ais

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/straitwatch/straitwatch/internal/config"
	"github.com/straitwatch/straitwatch/internal/geo"
	"github.com/straitwatch/straitwatch/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

// fakeConn is a scriptable upstream transport. Incoming payloads are pushed
// through push(); Close unblocks any pending read with an error.
type fakeConn struct {
	mu        sync.Mutex
	subs      []subscription
	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-f.incoming:
		return websocket.TextMessage, payload, nil
	case <-f.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if sub, ok := v.(subscription); ok {
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) push(payload string) {
	f.incoming <- []byte(payload)
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeConn) subscriptions() []subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]subscription, len(f.subs))
	copy(out, f.subs)
	return out
}

// fakeDialer hands out fakeConns and counts dial attempts.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	dialErr error
	release chan struct{} // when non-nil, dial blocks until closed
}

func (d *fakeDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	dialErr := d.dialErr
	release := d.release
	d.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if release != nil {
		<-release
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

func newTestClient(t *testing.T, dialer *fakeDialer, demand func() int) *Client {
	t.Helper()
	cfg := config.AISConfig{
		URL:            "wss://feed.test/v0/stream",
		APIKey:         "test-key",
		ReconnectDelay: 20 * time.Millisecond,
	}
	box := geo.NewBoundingBox(54.5, 11.25, 0.25, 0.5)
	client := NewClient(cfg, box, demand, WithDialFunc(dialer.dial))
	t.Cleanup(client.Stop)
	return client
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

const positionReportPayload = `{
	"MessageType": "PositionReport",
	"MetaData": {
		"MMSI": 366123456,
		"ShipName": "EVER FORWARD   ",
		"latitude": 54.52,
		"longitude": 11.3,
		"time_utc": "2026-08-23 10:15:30.123456789 +0000 UTC"
	},
	"Message": {"PositionReport": {"Sog": 12.5, "TrueHeading": 87}}
}`

func TestStartWithoutDemandDoesNotDial(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 0 })

	client.Start(false)
	time.Sleep(30 * time.Millisecond)

	if got := dialer.dialCount(); got != 0 {
		t.Errorf("expected no dials, got %d", got)
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestStartConnectsAndSubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}

	subs := dialer.conn(0).subscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected exactly one subscription message, got %d", len(subs))
	}
	sub := subs[0]
	if sub.APIKey != "test-key" {
		t.Errorf("subscription APIKey = %q, want %q", sub.APIKey, "test-key")
	}
	if len(sub.BoundingBoxes) != 1 || len(sub.BoundingBoxes[0]) != 2 {
		t.Fatalf("subscription bounding boxes malformed: %v", sub.BoundingBoxes)
	}
	sw, ne := sub.BoundingBoxes[0][0], sub.BoundingBoxes[0][1]
	if sw[0] != 10.75 || sw[1] != 54.25 {
		t.Errorf("south-west corner = %v, want [10.75 54.25]", sw)
	}
	if ne[0] != 11.75 || ne[1] != 54.75 {
		t.Errorf("north-east corner = %v, want [11.75 54.75]", ne)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Start(true)
		}()
	}
	wg.Wait()

	waitFor(t, client.IsConnected, "client never reached open state")
	time.Sleep(30 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (at most one transport)", got)
	}
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	var mu sync.Mutex
	var received []Message
	client.OnMessage(func(msg Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	conn := dialer.conn(0)
	conn.push(positionReportPayload)
	conn.push(`{"MessageType": "ShipStaticData", "Message": {}}`)
	conn.push(positionReportPayload)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, "expected 3 messages delivered")

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != MessageTypePositionReport {
		t.Errorf("first message type = %q, want position report", received[0].Type)
	}
	if received[1].Type != "ShipStaticData" {
		t.Errorf("second message type = %q, want ShipStaticData", received[1].Type)
	}
	if received[0].Report == nil || received[0].Report.MMSI != 366123456 {
		t.Errorf("position report not decoded: %+v", received[0].Report)
	}
	if received[1].Report != nil {
		t.Error("non-position message must not carry a report")
	}
}

func TestDecodeFailureKeepsConnection(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	var count atomic.Int32
	client.OnMessage(func(Message) { count.Add(1) })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	conn := dialer.conn(0)
	conn.push(`{not json`)
	conn.push(`{"no": "message type"}`)
	conn.push(positionReportPayload)

	waitFor(t, func() bool { return count.Load() == 1 }, "valid message after garbage never arrived")

	if !client.IsConnected() {
		t.Error("decode failure must not drop the connection")
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestTransportFailureReconnectsWithDemand(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	var statuses []StatusEvent
	var mu sync.Mutex
	client.OnStatus(func(ev StatusEvent) {
		mu.Lock()
		statuses = append(statuses, ev)
		mu.Unlock()
	})

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	// Kill the transport; the read loop sees the error.
	dialer.conn(0).Close()

	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "reconnect never dialed")
	waitFor(t, client.IsConnected, "client never re-opened")

	if got := dialer.openConns(); got != 1 {
		t.Errorf("open transports = %d, want exactly 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	// connected, disconnected, connected again
	if len(statuses) < 3 {
		t.Fatalf("expected at least 3 status events, got %d", len(statuses))
	}
	if !statuses[0].Connected || statuses[1].Connected || !statuses[2].Connected {
		t.Errorf("status sequence wrong: %+v", statuses)
	}
}

func TestReconnectSkippedWhenSubscribersGone(t *testing.T) {
	dialer := &fakeDialer{}
	var demand atomic.Int32
	demand.Store(1)
	client := newTestClient(t, dialer, func() int { return int(demand.Load()) })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	// Audience leaves, then the transport fails.
	demand.Store(0)
	dialer.conn(0).Close()

	waitFor(t, func() bool { return client.State() == StateDisconnected }, "client never disconnected")
	time.Sleep(100 * time.Millisecond) // several reconnect delays

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect into an empty room)", got)
	}
}

func TestDemandRecheckedWhenTimerFires(t *testing.T) {
	dialer := &fakeDialer{}
	var demand atomic.Int32
	demand.Store(1)
	client := newTestClient(t, dialer, func() int { return int(demand.Load()) })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	// Fail the transport while demand exists so the timer is armed, then
	// drop demand before it fires.
	dialer.conn(0).Close()
	demand.Store(0)

	time.Sleep(100 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (timer must re-check demand)", got)
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	dialer.conn(0).Close()
	waitFor(t, func() bool { return client.State() == StateDisconnected }, "client never disconnected")

	client.Stop()
	time.Sleep(100 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (Stop must cancel the reconnect timer)", got)
	}
}

func TestStopInvalidatesFiringReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := config.AISConfig{
		URL:            "wss://feed.test/v0/stream",
		APIKey:         "test-key",
		ReconnectDelay: 500 * time.Millisecond,
	}
	box := geo.NewBoundingBox(54.5, 11.25, 0.25, 0.5)
	client := NewClient(cfg, box, func() int { return 1 }, WithDialFunc(dialer.dial))
	t.Cleanup(client.Stop)

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	dialer.conn(0).Close()
	waitFor(t, func() bool { return client.State() == StateDisconnected }, "client never disconnected")

	client.mu.Lock()
	gen := client.gen
	client.mu.Unlock()

	client.Stop()

	// A reconnect timer that had already passed its demand check before
	// Stop ran carries a stale generation and must not dial.
	client.retry(gen)
	time.Sleep(100 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (stale reconnect must not dial)", got)
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestStopClosesTransportAndIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(t, dialer, func() int { return 1 })

	client.Start(true)
	waitFor(t, client.IsConnected, "client never reached open state")

	client.Stop()
	client.Stop()

	if got := client.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	waitFor(t, dialer.conn(0).isClosed, "transport never closed")
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (Stop must not trigger reconnect)", got)
	}
}

func TestStopDuringConnectDiscardsLateTransport(t *testing.T) {
	release := make(chan struct{})
	dialer := &fakeDialer{release: release}
	client := newTestClient(t, dialer, func() int { return 1 })

	client.Start(true)
	waitFor(t, func() bool { return dialer.dialCount() == 1 }, "dial never attempted")

	client.Stop()
	close(release) // the dial now completes after Stop

	waitFor(t, func() bool { return dialer.conn(0) != nil && dialer.conn(0).isClosed() }, "late transport never discarded")
	if got := client.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}
	client := newTestClient(t, dialer, func() int { return 1 })

	client.Start(true)
	waitFor(t, func() bool { return dialer.dialCount() >= 2 }, "failed dial never retried")

	// Let it recover.
	dialer.mu.Lock()
	dialer.dialErr = nil
	dialer.mu.Unlock()

	waitFor(t, client.IsConnected, "client never recovered after dial failures")
	if got := dialer.openConns(); got != 1 {
		t.Errorf("open transports = %d, want exactly 1", got)
	}
}

func TestStateString(t *testing.T) {
	if StateDisconnected.String() != "disconnected" ||
		StateConnecting.String() != "connecting" ||
		StateOpen.String() != "open" {
		t.Error("state strings wrong")
	}
}
