// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package ais

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// MessageTypePositionReport is the upstream discriminator for position
// reports, the only message type the transit tracker consumes. All other
// types are forwarded to subscribers verbatim and otherwise ignored.
const MessageTypePositionReport = "PositionReport"

// ErrMissingType indicates an upstream payload without a MessageType
// discriminator. Such payloads are dropped.
var ErrMissingType = errors.New("upstream message has no MessageType")

// Message is one decoded upstream message. Raw preserves the exact payload
// bytes for verbatim forwarding to subscribers; Report is non-nil only for
// position reports that carry vessel metadata.
type Message struct {
	Type   string
	Raw    json.RawMessage
	Report *PositionReport
}

// PositionReport is the decoded vessel position message. It is ephemeral:
// nothing retains it beyond one dispatch cycle except the transit tracker.
// Name, ShipType, Destination, Dimensions and Heading are optional and kept
// empty when the upstream message does not carry them; heading in particular
// is an externally-supplied annotation, never computed here.
type PositionReport struct {
	MMSI        int64
	Name        string
	ShipType    string
	Destination string
	Dimensions  string
	Latitude    float64
	Longitude   float64
	Speed       float64 // speed over ground, knots
	Heading     float64
	Timestamp   time.Time
}

// upstreamEnvelope mirrors the wire shape of the feed. Only the fields the
// relay inspects are declared; Raw keeps the rest intact.
type upstreamEnvelope struct {
	MessageType string `json:"MessageType"`
	MetaData    *struct {
		MMSI      int64   `json:"MMSI"`
		ShipName  string  `json:"ShipName"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		TimeUTC   string  `json:"time_utc"`
	} `json:"MetaData"`
	Message struct {
		PositionReport *struct {
			Sog         float64 `json:"Sog"`
			TrueHeading float64 `json:"TrueHeading"`
			ShipType    string  `json:"Type,omitempty"`
			Destination string  `json:"Destination,omitempty"`
			Dimensions  string  `json:"Dimensions,omitempty"`
		} `json:"PositionReport"`
	} `json:"Message"`
}

// metadataTimeLayout matches the feed's time_utc format.
const metadataTimeLayout = "2006-01-02 15:04:05.999999999 -0700 MST"

// Decode parses one upstream payload. A payload without a MessageType is an
// error; the caller drops it and keeps the connection. Report stays nil for
// non-position messages and for position reports without metadata.
func Decode(payload []byte) (Message, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{}, err
	}
	if env.MessageType == "" {
		return Message{}, ErrMissingType
	}

	msg := Message{
		Type: env.MessageType,
		Raw:  json.RawMessage(payload),
	}

	if env.MessageType == MessageTypePositionReport && env.MetaData != nil {
		report := &PositionReport{
			MMSI:      env.MetaData.MMSI,
			Name:      trimShipName(env.MetaData.ShipName),
			Latitude:  env.MetaData.Latitude,
			Longitude: env.MetaData.Longitude,
			Timestamp: time.Now(),
		}
		if ts, err := time.Parse(metadataTimeLayout, env.MetaData.TimeUTC); err == nil {
			report.Timestamp = ts
		}
		if body := env.Message.PositionReport; body != nil {
			report.Speed = body.Sog
			report.Heading = body.TrueHeading
			report.ShipType = body.ShipType
			report.Destination = body.Destination
			report.Dimensions = body.Dimensions
		}
		msg.Report = report
	}

	return msg, nil
}

// trimShipName strips the padding the feed leaves in fixed-width AIS name
// fields.
func trimShipName(name string) string {
	end := len(name)
	for end > 0 && (name[end-1] == ' ' || name[end-1] == '@') {
		end--
	}
	start := 0
	for start < end && name[start] == ' ' {
		start++
	}
	return name[start:end]
}
