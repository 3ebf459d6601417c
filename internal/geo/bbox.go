// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package geo provides the bounding box describing the monitored area.
package geo

// BoundingBox is a static lat/lon rectangle derived from a center point and
// fixed margins. Immutable after construction; used verbatim in the upstream
// subscription request.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBoundingBox builds a box around (centerLat, centerLon) extended by
// latMargin/lonMargin degrees on each side. Latitudes are clamped to the
// poles and longitudes to [-180, 180]; antimeridian wraparound is not
// supported.
func NewBoundingBox(centerLat, centerLon, latMargin, lonMargin float64) BoundingBox {
	return BoundingBox{
		MinLat: clamp(centerLat-latMargin, -90, 90),
		MaxLat: clamp(centerLat+latMargin, -90, 90),
		MinLon: clamp(centerLon-lonMargin, -180, 180),
		MaxLon: clamp(centerLon+lonMargin, -180, 180),
	}
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Corners returns the box as [[minLon,minLat],[maxLon,maxLat]], the shape
// the upstream feed expects inside its BoundingBoxes subscription field.
func (b BoundingBox) Corners() [][]float64 {
	return [][]float64{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
