// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package geo

import "testing"

func TestNewBoundingBox(t *testing.T) {
	tests := []struct {
		name                           string
		lat, lon, latMargin, lonMargin float64
		want                           BoundingBox
	}{
		{
			name: "fehmarn belt",
			lat:  54.5, lon: 11.25, latMargin: 0.25, lonMargin: 0.5,
			want: BoundingBox{MinLat: 54.25, MaxLat: 54.75, MinLon: 10.75, MaxLon: 11.75},
		},
		{
			name: "clamped at north pole",
			lat:  89.9, lon: 0, latMargin: 0.5, lonMargin: 0.5,
			want: BoundingBox{MinLat: 89.4, MaxLat: 90, MinLon: -0.5, MaxLon: 0.5},
		},
		{
			name: "clamped at antimeridian",
			lat:  0, lon: 179.8, latMargin: 0.1, lonMargin: 0.5,
			want: BoundingBox{MinLat: -0.1, MaxLat: 0.1, MinLon: 179.3, MaxLon: 180},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewBoundingBox(tt.lat, tt.lon, tt.latMargin, tt.lonMargin)
			if got != tt.want {
				t.Errorf("NewBoundingBox() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBoundingBoxContains(t *testing.T) {
	box := NewBoundingBox(54.5, 11.25, 0.25, 0.5)

	if !box.Contains(54.5, 11.25) {
		t.Error("center should be inside the box")
	}
	if !box.Contains(54.25, 10.75) {
		t.Error("corner should be inside the box (inclusive)")
	}
	if box.Contains(55.0, 11.25) {
		t.Error("point north of the box should be outside")
	}
	if box.Contains(54.5, 12.0) {
		t.Error("point east of the box should be outside")
	}
}

func TestBoundingBoxCorners(t *testing.T) {
	box := NewBoundingBox(54.5, 11.25, 0.25, 0.5)

	corners := box.Corners()
	if len(corners) != 2 {
		t.Fatalf("expected 2 corners, got %d", len(corners))
	}
	// Corners are [lon, lat] pairs: south-west then north-east.
	if corners[0][0] != box.MinLon || corners[0][1] != box.MinLat {
		t.Errorf("first corner = %v, want [%v %v]", corners[0], box.MinLon, box.MinLat)
	}
	if corners[1][0] != box.MaxLon || corners[1][1] != box.MaxLat {
		t.Errorf("second corner = %v, want [%v %v]", corners[1], box.MaxLon, box.MaxLat)
	}
}
