// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package api provides the HTTP surface: the websocket subscriber endpoint,
// the status and transit queries, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the chi handler around the API handler.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(h.cfg.Server.RateLimitReqs, h.cfg.Server.RateLimitWindow))
		r.Get("/status", h.Status)
		r.Get("/transits/recent", h.RecentTransits)
		// Crossing detection lives outside the relay; it signals a completed
		// passage through this endpoint.
		r.Post("/transits/{mmsi}/passed", h.MarkPassed)
	})

	// The websocket endpoint skips the rate limiter: one upgrade per
	// subscriber, and the connection then outlives any window.
	r.Get("/ws", h.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
