// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package hub

import (
	"github.com/goccy/go-json"
)

// Envelope types sent to subscribers. Subscribers only ever see these two
// shapes; internal error detail never leaks downstream.
const (
	EnvelopeTypeStatus   = "status"
	EnvelopeTypeShipData = "ship_data"
)

// Envelope is one downstream message. Status envelopes carry Message and
// Connected; ship_data envelopes carry the raw upstream payload in Data.
type Envelope struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Connected *bool           `json:"connected,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusEnvelope builds a status envelope reflecting upstream connectivity.
func StatusEnvelope(message string, connected bool) Envelope {
	return Envelope{
		Type:      EnvelopeTypeStatus,
		Message:   message,
		Connected: &connected,
	}
}

// ShipDataEnvelope wraps a raw upstream message for verbatim forwarding.
func ShipDataEnvelope(raw json.RawMessage) Envelope {
	return Envelope{
		Type: EnvelopeTypeShipData,
		Data: raw,
	}
}
