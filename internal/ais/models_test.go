// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package ais

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestDecodePositionReport(t *testing.T) {
	payload := []byte(`{
		"MessageType": "PositionReport",
		"MetaData": {
			"MMSI": 366123456,
			"ShipName": "EVER FORWARD@@@",
			"latitude": 54.52,
			"longitude": 11.3,
			"time_utc": "2026-08-23 10:15:30.123456789 +0000 UTC"
		},
		"Message": {
			"PositionReport": {
				"Sog": 12.5,
				"TrueHeading": 87,
				"Type": "Cargo",
				"Destination": "HAMBURG"
			}
		}
	}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Type != MessageTypePositionReport {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypePositionReport)
	}
	if !bytes.Equal(msg.Raw, payload) {
		t.Error("Raw must preserve the exact payload bytes")
	}
	if msg.Report == nil {
		t.Fatal("Report is nil for a position report with metadata")
	}

	rep := msg.Report
	if rep.MMSI != 366123456 {
		t.Errorf("MMSI = %d, want 366123456", rep.MMSI)
	}
	if rep.Name != "EVER FORWARD" {
		t.Errorf("Name = %q, want padding stripped", rep.Name)
	}
	if rep.Latitude != 54.52 || rep.Longitude != 11.3 {
		t.Errorf("position = (%v, %v), want (54.52, 11.3)", rep.Latitude, rep.Longitude)
	}
	if rep.Speed != 12.5 {
		t.Errorf("Speed = %v, want 12.5", rep.Speed)
	}
	if rep.Heading != 87 {
		t.Errorf("Heading = %v, want 87", rep.Heading)
	}
	if rep.ShipType != "Cargo" || rep.Destination != "HAMBURG" {
		t.Errorf("static fields = (%q, %q)", rep.ShipType, rep.Destination)
	}

	want := time.Date(2026, 8, 23, 10, 15, 30, 123456789, time.UTC)
	if !rep.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", rep.Timestamp, want)
	}
}

func TestDecodeOtherMessageTypesPassThrough(t *testing.T) {
	payload := []byte(`{"MessageType": "ShipStaticData", "Message": {"ShipStaticData": {"Name": "X"}}}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Type != "ShipStaticData" {
		t.Errorf("Type = %q, want ShipStaticData", msg.Type)
	}
	if msg.Report != nil {
		t.Error("Report must be nil for non-position messages")
	}
	if !bytes.Equal(msg.Raw, payload) {
		t.Error("Raw must preserve the payload for verbatim forwarding")
	}
}

func TestDecodePositionReportWithoutMetadata(t *testing.T) {
	msg, err := Decode([]byte(`{"MessageType": "PositionReport", "Message": {"PositionReport": {"Sog": 1}}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Report != nil {
		t.Error("Report must be nil when metadata is missing")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte(`{broken`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Decode([]byte(`{"Message": {}}`)); !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestDecodeBadTimestampFallsBackToNow(t *testing.T) {
	before := time.Now()
	msg, err := Decode([]byte(`{
		"MessageType": "PositionReport",
		"MetaData": {"MMSI": 1, "time_utc": "not a time"}
	}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Report == nil {
		t.Fatal("Report is nil")
	}
	if msg.Report.Timestamp.Before(before) {
		t.Error("unparseable time_utc must fall back to the receive time")
	}
}

func TestTrimShipName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"EVER FORWARD   ", "EVER FORWARD"},
		{"EVER FORWARD@@@", "EVER FORWARD"},
		{"  PILOT 7 @ ", "PILOT 7"},
		{"@@@", ""},
		{"", ""},
		{"NO PADDING", "NO PADDING"},
	}
	for _, tt := range tests {
		if got := trimShipName(tt.in); got != tt.want {
			t.Errorf("trimShipName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
